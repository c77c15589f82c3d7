package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/pluraal"
)

type createScopeRequest struct {
	Name  string          `json:"name,omitempty"`
	Scope json.RawMessage `json:"scope"`
}

type evaluateRequest struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
}

type evaluateAdhocRequest struct {
	Scope  json.RawMessage            `json:"scope"`
	Inputs map[string]json.RawMessage `json:"inputs"`
}

type evaluateResponse struct {
	RunID   string                     `json:"run_id"`
	Outputs map[string]json.RawMessage `json:"outputs"`
	Trace   []pluraal.Event            `json:"trace,omitempty"`
}

func (s *Server) handleListScopes(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListScopes(r.Context())
	if err != nil {
		s.logger.Error("listing scopes", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "listing scopes failed")
		return
	}
	if records == nil {
		records = []ScopeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCreateScope(w http.ResponseWriter, r *http.Request) {
	var req createScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Scope) == 0 {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "\"scope\" is required")
		return
	}

	scope, err := pluraal.DecodeScope(req.Scope)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_scope", err.Error())
		return
	}
	if diags := scope.Validate(); pluraal.HasErrors(diags) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       apiErrorDetail{Code: "invalid_scope", Message: "scope validation failed"},
			"diagnostics": diags,
		})
		return
	}

	now := time.Now().UTC()
	rec := ScopeRecord{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Source:    req.Scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateScope(r.Context(), rec); err != nil {
		s.logger.Error("creating scope", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "creating scope failed")
		return
	}

	s.logger.Info("scope created", "scope_id", rec.ID, "name", rec.Name)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetScope(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.store.GetScope(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("getting scope", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "getting scope failed")
		return
	}
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not_found", "scope not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateScope(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req createScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Scope) == 0 {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "\"scope\" is required")
		return
	}

	scope, err := pluraal.DecodeScope(req.Scope)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_scope", err.Error())
		return
	}
	if diags := scope.Validate(); pluraal.HasErrors(diags) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       apiErrorDetail{Code: "invalid_scope", Message: "scope validation failed"},
			"diagnostics": diags,
		})
		return
	}

	existing, ok, err := s.store.GetScope(r.Context(), id)
	if err != nil {
		s.logger.Error("getting scope", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "updating scope failed")
		return
	}
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not_found", "scope not found")
		return
	}

	existing.Name = req.Name
	existing.Source = req.Scope
	existing.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateScope(r.Context(), existing); err != nil {
		if errors.Is(err, ErrScopeNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", "scope not found")
			return
		}
		s.logger.Error("updating scope", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "updating scope failed")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteScope(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScope(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, ErrScopeNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", "scope not found")
			return
		}
		s.logger.Error("deleting scope", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "deleting scope failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluateScope(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, ok, err := s.store.GetScope(r.Context(), id)
	if err != nil {
		s.logger.Error("getting scope", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "getting scope failed")
		return
	}
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not_found", "scope not found")
		return
	}

	scope, err := pluraal.DecodeScope(rec.Source)
	if err != nil {
		s.logger.Error("decoding stored scope", "scope_id", id, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "invalid_scope", "stored scope no longer decodes")
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	s.evaluate(r.Context(), w, scope, req.Inputs, id)
}

func (s *Server) handleEvaluateAdhoc(w http.ResponseWriter, r *http.Request) {
	var req evaluateAdhocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Scope) == 0 {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "\"scope\" is required")
		return
	}

	scope, err := pluraal.DecodeScope(req.Scope)
	if err != nil {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid_scope", err.Error())
		return
	}

	s.evaluate(r.Context(), w, scope, req.Inputs, "")
}

// evaluate builds a context from raw JSON input expressions, runs the scope
// with an event trace attached, records the run, and writes the response.
func (s *Server) evaluate(ctx context.Context, w http.ResponseWriter, scope *pluraal.Scope, inputs map[string]json.RawMessage, scopeID string) {
	evalCtx := make(pluraal.Context, len(inputs))
	for name, raw := range inputs {
		expr, err := pluraal.DecodeExpr(raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "bad_input",
				fmt.Sprintf("input %q: %v", name, err))
			return
		}
		evalCtx[name] = expr
	}

	runID := uuid.New().String()
	started := time.Now().UTC()

	var trace []pluraal.Event
	handler := func(e pluraal.Event) {
		trace = append(trace, e)
		if s.events != nil {
			s.events(e)
		}
	}

	outputs, evalErr := pluraal.EvaluateScopeObserved(evalCtx, scope, runID, handler)
	finished := time.Now().UTC()

	rec := RunRecord{
		ID:         runID,
		ScopeID:    scopeID,
		StartedAt:  started,
		FinishedAt: finished,
	}
	rec.Inputs, _ = json.Marshal(inputs)
	rec.Trace, _ = json.Marshal(trace)

	if evalErr != nil {
		rec.Status = RunStatusFailed
		rec.Error = evalErr.Error()
		s.recordRun(ctx, rec)

		s.logger.Info("evaluation failed", "run_id", runID, "scope_id", scopeID, "error", evalErr)
		writeJSON(w, http.StatusUnprocessableEntity, apiErrorResponse{
			Error: apiErrorDetail{Code: "evaluation_failed", Message: evalErr.Error()},
			RunID: runID,
		})
		return
	}

	encoded, err := encodeOutputs(outputs)
	if err != nil {
		s.logger.Error("encoding outputs", "run_id", runID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "encode_error", "encoding outputs failed")
		return
	}

	rec.Status = RunStatusSucceeded
	rec.Outputs, _ = json.Marshal(encoded)
	s.recordRun(ctx, rec)

	s.logger.Info("evaluation succeeded", "run_id", runID, "scope_id", scopeID, "outputs", len(encoded))
	writeJSON(w, http.StatusOK, evaluateResponse{RunID: runID, Outputs: encoded, Trace: trace})
}

func encodeOutputs(outputs map[string]pluraal.Expr) (map[string]json.RawMessage, error) {
	encoded := make(map[string]json.RawMessage, len(outputs))
	for name, value := range outputs {
		data, err := pluraal.EncodeExpr(value)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		encoded[name] = data
	}
	return encoded, nil
}

// recordRun persists the run best-effort; a store failure does not fail the
// evaluation response.
func (s *Server) recordRun(ctx context.Context, rec RunRecord) {
	if err := s.store.CreateRun(ctx, rec); err != nil {
		s.logger.Error("recording run", "run_id", rec.ID, "error", err)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("scope_id"))
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "listing runs failed")
		return
	}
	if records == nil {
		records = []RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.store.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		s.logger.Error("getting run", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "store_error", "getting run failed")
		return
	}
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
