package engine

import (
	"fmt"
	"strings"

	"github.com/vtagger/vtagger/pkg/dsl"
)

// Evaluate decides whether a predicate holds for a resource's tags,
// given the dimension values resolved so far. Comparisons are
// case-sensitive. A condition on an absent tag key is simply false; a
// condition on an unresolved dimension is a programming error the
// compiler should have caught, and is reported as permanent.
func Evaluate(pred dsl.Predicate, tags map[string]string, resolved map[string]string) (bool, error) {
	for _, cond := range pred.Conditions {
		ok, err := evalCondition(cond, tags, resolved)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evalCondition(cond dsl.Condition, tags map[string]string, resolved map[string]string) (bool, error) {
	switch cond.Subject {
	case dsl.SubjectTag:
		actual, present := tags[cond.Key]
		if !present {
			return false, nil
		}
		switch cond.Op {
		case dsl.OpEquals:
			return actual == cond.Value, nil
		case dsl.OpContains:
			return strings.Contains(actual, cond.Value), nil
		}
		return false, NewPermanentError(
			fmt.Sprintf("unsupported operator %q", cond.Op), nil,
		).WithCode(ErrCodeInternal)

	case dsl.SubjectDimension:
		actual, present := resolved[cond.Key]
		if !present {
			return false, NewPermanentError(
				fmt.Sprintf("reference to unresolved dimension %q", cond.Key), nil,
			).WithCode(ErrCodeUnresolvedReference)
		}
		return actual == cond.Value, nil
	}

	return false, NewPermanentError(
		fmt.Sprintf("unsupported subject %q", cond.Subject), nil,
	).WithCode(ErrCodeInternal)
}
