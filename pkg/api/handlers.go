package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/sync"
)

const maxRequestBody = 1 << 20

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	var scope sync.Scope
	if err := decodeBody(r, &scope); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, err := s.controller.Start(r.Context(), scope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleSyncCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.controller.Cancel(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleSyncReset(w http.ResponseWriter, r *http.Request) {
	job, err := s.controller.Reset(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	job, err := s.controller.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := s.store.ListSyncRecords(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"syncs": records})
}

func (s *Server) handleSyncHistoryItem(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetSyncRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 30)
	records, err := s.store.ListUploadRecords(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"uploads": records})
}

func (s *Server) handleDimensions(w http.ResponseWriter, r *http.Request) {
	dims, err := s.dims.LoadAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	compiled, err := s.compiler.CompileAll(dims)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"dimensions":        dims,
		"required_tag_keys": engine.RequiredTagKeys(compiled),
	})
}

type validateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) handleDimensionValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Content == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	name := req.Name
	if name == "" {
		name = "dimension.yaml"
	}

	dim, verrs := s.dims.Parse(name, []byte(req.Content))
	if len(verrs) > 0 {
		s.writeJSON(w, http.StatusOK, map[string]any{"valid": false, "errors": verrs})
		return
	}

	// A document can be well-formed on its own yet break the loaded
	// set, for example by referencing a higher-indexed dimension.
	existing, err := s.dims.LoadAll()
	if err == nil {
		merged := make([]engine.Dimension, 0, len(existing)+1)
		for _, d := range existing {
			if d.Name != dim.Name {
				merged = append(merged, d)
			}
		}
		merged = append(merged, dim)
		if _, cerr := s.compiler.CompileAll(merged); cerr != nil {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"valid":  false,
				"errors": []map[string]string{{"message": cerr.Error()}},
			})
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"valid": true, "dimension": dim})
}

type resolveRequest struct {
	Resource engine.Resource `json:"resource"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Resource.ID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resource.id is required"})
		return
	}

	dims, err := s.dims.LoadAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	compiled, err := s.compiler.CompileAll(dims)
	if err != nil {
		s.writeError(w, err)
		return
	}

	mapping, err := engine.NewResolver(compiled).Resolve(req.Resource)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleResourceVTags(w http.ResponseWriter, r *http.Request) {
	resourceID := r.URL.Query().Get("resource_id")
	if resourceID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resource_id is required"})
		return
	}

	vtags, err := s.store.GetResourceVTags(r.Context(), resourceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"resource_id": resourceID,
		"vtags":       vtags,
	})
}

func (s *Server) handleDiscoveredTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListDiscoveredTags(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetDailyStats(r.Context(), r.PathValue("day"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// decodeBody strictly decodes a JSON request body. An empty body
// leaves the target at its zero value.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
