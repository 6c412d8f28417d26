package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/fraudrules/rules"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	all, err := s.repo.List(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Rules: len(all)})
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	all, err := s.repo.List(r.Context())
	if err != nil {
		s.respondFailure(w, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: all})
}

// Get rule handler, by id or ruleId
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "failed to get rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	in, err := decodeRuleInput(r)
	if err != nil {
		s.respondFailure(w, "invalid rule", err)
		return
	}

	rule, err := s.repo.Create(r.Context(), in)
	if err != nil {
		s.respondFailure(w, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// Update rule handler. The body is a partial patch.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeRuleInput(r)
	if err != nil {
		s.respondFailure(w, "invalid rule patch", err)
		return
	}

	rule, err := s.repo.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.respondFailure(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler. Deleting a missing rule still answers 204.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondFailure(w, "failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Set status handler
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondFailure(w, "invalid status request", err)
		return
	}
	status, _ := rules.ParseStatus(req.Status)

	rule, err := s.repo.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		s.respondFailure(w, "failed to update status", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// List versions handler. An unknown rule has an empty history.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.repo.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "failed to list versions", err)
		return
	}

	respondJSON(w, http.StatusOK, VersionsListResponse{Versions: versions})
}

// Update version notes handler
func (s *Server) handleUpdateVersionNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondFailure(w, "invalid notes request", err)
		return
	}

	version, err := s.repo.UpdateVersionNotes(r.Context(), chi.URLParam(r, "versionId"), *req.Notes)
	if err != nil {
		s.respondFailure(w, "failed to update version notes", err)
		return
	}

	respondJSON(w, http.StatusOK, version)
}

// Clone rule handler
func (s *Server) handleCloneRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.repo.Clone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "failed to clone rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// Publish rule handler
func (s *Server) handlePublishRule(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondFailure(w, "invalid publish request", err)
		return
	}

	rule, err := s.repo.Publish(r.Context(), chi.URLParam(r, "id"), req.payload())
	if err != nil {
		s.respondFailure(w, "failed to publish rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Test rule handler
func (s *Server) handleTestRule(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondFailure(w, "invalid test request", err)
		return
	}

	var rule *rules.Rule
	switch {
	case req.RuleID != "":
		found, err := s.repo.Get(r.Context(), req.RuleID)
		if err != nil {
			s.respondFailure(w, "failed to load rule", err)
			return
		}
		rule = found
	case req.Rule != nil:
		rule = rules.NewNormalizer(nil).Normalize(*req.Rule)
	}

	startTime := time.Now()

	result, err := s.evaluator.Evaluate(rule, req.Payload)
	if err != nil {
		s.respondFailure(w, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"result":         result,
		"evaluationTime": time.Since(startTime).String(),
	})
}

// decodeJSON reads one JSON document from the request body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) decodeAndValidate(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

func decodeRuleInput(r *http.Request) (rules.RuleInput, error) {
	var in rules.RuleInput
	if err := decodeJSON(r, &in); err != nil {
		return in, err
	}
	if err := rules.ValidateInput(in); err != nil {
		return in, &requestError{err: err}
	}
	return in, nil
}
