package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jpalmerr/livestore/internal/mutation"
	"github.com/jpalmerr/livestore/internal/store"
)

// handleSnapshot returns every resource as {"users": [...], ...}.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.respondError(w, r, err, "failed to load snapshot")
		return
	}
	s.respond(w, http.StatusOK, snap)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		s.respondError(w, r, err, "failed to list records")
		return
	}
	s.respond(w, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := store.CoerceID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "resource"), id)
	if err != nil {
		s.respondError(w, r, err, "failed to load record")
		return
	}
	s.respond(w, http.StatusOK, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}
	rec, err := s.interceptor.Apply(r.Context(), mutation.Request{
		Resource: chi.URLParam(r, "resource"),
		Op:       mutation.OpCreate,
		Payload:  body,
	})
	if err != nil {
		s.respondError(w, r, err, "failed to create record")
		return
	}
	s.respond(w, http.StatusCreated, rec)
}

// handleWrite serves PUT (replace) and PATCH (merge).
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	id, ok := store.CoerceID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	body, ok := s.decodeRecord(w, r)
	if !ok {
		return
	}

	op := mutation.OpUpdate
	if r.Method == http.MethodPut {
		op = mutation.OpReplace
	}

	rec, err := s.interceptor.Apply(r.Context(), mutation.Request{
		Resource: chi.URLParam(r, "resource"),
		Op:       op,
		ID:       id,
		Payload:  body,
	})
	if err != nil {
		s.respondError(w, r, err, "failed to update record")
		return
	}
	s.respond(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := store.CoerceID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	_, err := s.interceptor.Apply(r.Context(), mutation.Request{
		Resource: chi.URLParam(r, "resource"),
		Op:       mutation.OpDelete,
		ID:       id,
	})
	if err != nil {
		s.respondError(w, r, err, "failed to delete record")
		return
	}
	s.respond(w, http.StatusOK, struct{}{})
}

// handleBulkDelete serves DELETE /bulk/{resource} and DELETE /{resource}
// with a {"ids": [...]} body.
func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs json.RawMessage `json:"ids"`
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil && len(data) > 0 {
		err = json.Unmarshal(data, &body)
	}
	if err != nil {
		// a body that is not an object cannot carry an ids array
		body.IDs = nil
	}

	res, err := s.bulk.BulkDelete(r.Context(), mutation.BulkRequest{
		Resource: chi.URLParam(r, "resource"),
		IDs:      body.IDs,
	})
	if err != nil {
		s.respondError(w, r, err, "Failed to delete items")
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"success":    true,
		"deletedIds": res.DeletedIDs,
	})
}

// decodeRecord reads a JSON object body, replying 400 on failure.
func (s *Server) decodeRecord(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	rec, err := store.DecodeRecord(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return nil, false
	}
	return rec, true
}

// respondError maps err to a status code. Unexpected errors are logged and
// reported with the generic message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var ve *mutation.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, mutation.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, store.ErrUnknownResource):
		writeError(w, http.StatusNotFound, "unknown resource")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "record id already exists")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, message)
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
