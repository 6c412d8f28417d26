package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/fraudrules/analytics"
	"github.com/liamcoop/fraudrules/audit"
)

// performanceRule resolves the rule a performance view is about and the
// requested window. It writes the failure response itself and returns ok=false.
func (s *Server) performanceRule(w http.ResponseWriter, r *http.Request) (ruleID string, days int, ok bool) {
	days, err := queryInt(r, "days")
	if err == nil {
		err = s.validate.Struct(PerformanceQuery{Days: days})
	}
	if err != nil {
		s.respondFailure(w, "invalid query", err)
		return "", 0, false
	}

	rule, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "failed to get rule", err)
		return "", 0, false
	}
	return rule.RuleID, days, true
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	ruleID, days, ok := s.performanceRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.facade.KPIs(ruleID, days))
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	ruleID, days, ok := s.performanceRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"trends": s.facade.Trends(ruleID, days)})
}

func (s *Server) handleSeverity(w http.ResponseWriter, r *http.Request) {
	ruleID, days, ok := s.performanceRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"distribution": s.facade.Severity(ruleID, days)})
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	ruleID, days, ok := s.performanceRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conditions": s.facade.Conditions(ruleID, days)})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	ruleID, days, ok := s.performanceRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.facade.DecisionCounts(ruleID, days))
}

// Triggered claims handler: filter, sort, then paginate
func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	q, err := parseClaimsQuery(r)
	if err == nil {
		err = s.validate.Struct(q)
	}
	if err != nil {
		s.respondFailure(w, "invalid query", err)
		return
	}

	rule, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "failed to get rule", err)
		return
	}

	page := s.facade.TriggeredClaims(rule.RuleID, analytics.ClaimQuery{
		Days:     q.Days,
		Severity: q.Severity,
		Decision: q.Decision,
		Page:     q.Page,
		PageSize: q.PageSize,
		Sort:     q.Sort,
	})
	respondJSON(w, http.StatusOK, page)
}

// Audit list handler
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filters, err := s.auditFilters(r)
	if err != nil {
		s.respondFailure(w, "invalid query", err)
		return
	}

	respondJSON(w, http.StatusOK, s.audit.List(filters))
}

// Audit export handler: the filtered page as a CSV download
func (s *Server) handleExportAudit(w http.ResponseWriter, r *http.Request) {
	filters, err := s.auditFilters(r)
	if err != nil {
		s.respondFailure(w, "invalid query", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-log.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := s.audit.WriteCSV(w, filters); err != nil {
		// headers are already out; all we can do is log
		s.logger.Error("Failed to write audit export", "error", err)
	}
}

func parseClaimsQuery(r *http.Request) (ClaimsQuery, error) {
	q := ClaimsQuery{
		Severity: r.URL.Query().Get("severity"),
		Decision: r.URL.Query().Get("decision"),
		Sort:     r.URL.Query().Get("sort"),
	}
	var err error
	if q.Days, err = queryInt(r, "days"); err != nil {
		return q, err
	}
	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = queryInt(r, "pageSize"); err != nil {
		return q, err
	}
	return q, nil
}

func (s *Server) auditFilters(r *http.Request) (audit.Filters, error) {
	values := r.URL.Query()
	q := AuditQuery{
		Action:     values.Get("action"),
		EntityType: values.Get("entity_type"),
		ActorEmail: values.Get("actor_email"),
		EntityID:   values.Get("entity_id"),
		DateFrom:   values.Get("date_from"),
		DateTo:     values.Get("date_to"),
	}
	var err error
	if q.Page, err = queryInt(r, "page"); err != nil {
		return audit.Filters{}, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return audit.Filters{}, err
	}
	if err := s.validate.Struct(q); err != nil {
		return audit.Filters{}, err
	}

	f := audit.Filters{
		Page:       q.Page,
		Limit:      q.Limit,
		Action:     q.Action,
		EntityType: q.EntityType,
		ActorEmail: q.ActorEmail,
		EntityID:   q.EntityID,
	}
	if q.DateFrom != "" {
		f.DateFrom, _ = time.Parse(time.DateOnly, q.DateFrom)
	}
	if q.DateTo != "" {
		to, _ := time.Parse(time.DateOnly, q.DateTo)
		// inclusive of the whole end day
		f.DateTo = to.Add(24*time.Hour - time.Nanosecond)
	}
	return f, nil
}

// queryInt parses an optional integer query parameter; absent is 0
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}
