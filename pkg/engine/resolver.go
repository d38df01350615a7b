package engine

import (
	"context"
	"fmt"
	"sync"
)

// Resolver evaluates a compiled dimension set against resources. The
// dimension slice must be sorted by index, which CompileAll guarantees.
type Resolver struct {
	dims []*CompiledDimension
}

// NewResolver creates a resolver over a compiled dimension set.
func NewResolver(dims []*CompiledDimension) *Resolver {
	return &Resolver{dims: dims}
}

// Dimensions returns the compiled set, in evaluation order.
func (r *Resolver) Dimensions() []*CompiledDimension {
	return r.dims
}

// Resolve computes the full mapping for one resource.
func (r *Resolver) Resolve(res Resource) (ResolvedMapping, error) {
	values, provenance, matched, err := r.resolveTags(res.Tags)
	if err != nil {
		var e *EngineError
		if ok := asEngineError(err, &e); ok {
			err = e.WithResource(res.ID)
		}
		return ResolvedMapping{}, err
	}
	return ResolvedMapping{
		ResourceID:   res.ID,
		AccountID:    res.AccountID,
		PayerAccount: res.PayerAccount,
		Values:       values,
		Provenance:   provenance,
		Matched:      matched,
	}, nil
}

// ResolveTags resolves a bare tag map outside of any sync run, for
// ad-hoc "what would this resource get" queries.
func (r *Resolver) ResolveTags(tags map[string]string) (map[string]string, map[string]string, error) {
	values, provenance, _, err := r.resolveTags(tags)
	return values, provenance, err
}

func (r *Resolver) resolveTags(tags map[string]string) (map[string]string, map[string]string, bool, error) {
	values := make(map[string]string, len(r.dims))
	provenance := make(map[string]string, len(r.dims))
	matched := false

	for _, dim := range r.dims {
		value := dim.DefaultValue
		prov := ProvenanceDefault

		for i, st := range dim.Statements {
			ok, err := Evaluate(st.Predicate, tags, values)
			if err != nil {
				var e *EngineError
				if asEngineError(err, &e) {
					err = e.WithDimension(dim.Name)
				}
				return nil, nil, false, err
			}
			if ok {
				value = st.Value
				prov = fmt.Sprintf("statement:%d", i)
				matched = true
				break
			}
		}

		values[dim.Name] = value
		provenance[dim.Name] = prov
	}

	return values, provenance, matched, nil
}

// ResolveBatch resolves a batch of resources concurrently, preserving
// input order in the result slice. The first error cancels the batch.
func (r *Resolver) ResolveBatch(ctx context.Context, resources []Resource, workers int) ([]ResolvedMapping, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(resources) {
		workers = len(resources)
	}

	out := make([]ResolvedMapping, len(resources))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				mapping, err := r.Resolve(resources[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				out[i] = mapping
			}
		}()
	}

	for i := range resources {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- i:
		}

		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()
		if failed {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
