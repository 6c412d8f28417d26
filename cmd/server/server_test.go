package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/fraudrules/analytics"
	"github.com/liamcoop/fraudrules/audit"
	"github.com/liamcoop/fraudrules/rules"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ServerOptions) *Server {
	t.Helper()

	if opts.Medium == nil {
		opts.Medium = rules.NewMemoryMedium()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return testNow }
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func makeRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealth_SeedsStore(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, rec, http.StatusOK)

	health := decodeBody[HealthResponse](t, rec)
	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %q", health.Status)
	}
	if health.Rules != 4 {
		t.Errorf("Expected 4 seeded rules, got %d", health.Rules)
	}
}

// TestCreateRule_Genesis verifies a created rule starts as a draft with one active v1.0
func TestCreateRule_Genesis(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodPost, "/api/v1/rules", map[string]any{"name": "Velocity Check"})
	expectStatus(t, rec, http.StatusCreated)

	rule := decodeBody[rules.Rule](t, rec)
	if rule.Status != rules.StatusDraft {
		t.Errorf("Expected draft, got %q", rule.Status)
	}
	if len(rule.Versions) != 1 || rule.Versions[0].Version != "v1.0" || !rule.Versions[0].IsActive {
		t.Errorf("Expected one active v1.0 version, got %+v", rule.Versions)
	}
	if rule.CurrentVersion != "v1.0" {
		t.Errorf("Expected currentVersion v1.0, got %q", rule.CurrentVersion)
	}

	list := decodeBody[RulesListResponse](t, makeRequest(t, s, http.MethodGet, "/api/v1/rules", nil))
	if len(list.Rules) != 5 || list.Rules[0].ID != rule.ID {
		t.Errorf("Expected the new rule first of 5, got %d rules", len(list.Rules))
	}
}

func TestCreateRule_Validation(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"bad severity", `{"name":"x","severity":"extreme"}`},
		{"bad status", `{"name":"x","status":"archived"}`},
		{"malformed json", `{"name":`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

func TestGetRule(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100", nil)
	expectStatus(t, rec, http.StatusOK)
	if rule := decodeBody[rules.Rule](t, rec); rule.ID != "101" {
		t.Errorf("Expected id 101 for RL-100, got %q", rule.ID)
	}

	rec = makeRequest(t, s, http.MethodGet, "/api/v1/rules/missing-id", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if resp := decodeBody[ErrorResponse](t, rec); resp.Error != "rule missing-id not found" {
		t.Errorf("Unexpected error message %q", resp.Error)
	}
}

func TestUpdateRule_PartialPatch(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodPut, "/api/v1/rules/102", map[string]any{"description": "patched"})
	expectStatus(t, rec, http.StatusOK)

	rule := decodeBody[rules.Rule](t, rec)
	if rule.Description != "patched" {
		t.Errorf("Expected patched description, got %q", rule.Description)
	}
	if rule.Name != "Duplicate Provider Invoice" {
		t.Errorf("Expected name to survive the patch, got %q", rule.Name)
	}

	rec = makeRequest(t, s, http.MethodPut, "/api/v1/rules/nope", map[string]any{"name": "x"})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestDeleteRule(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	expectStatus(t, makeRequest(t, s, http.MethodDelete, "/api/v1/rules/101", nil), http.StatusNoContent)
	expectStatus(t, makeRequest(t, s, http.MethodDelete, "/api/v1/rules/101", nil), http.StatusNoContent)
	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/rules/101", nil), http.StatusNotFound)
}

func TestSetStatus(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodPatch, "/api/v1/rules/101/status", map[string]any{"status": "Inactive"})
	expectStatus(t, rec, http.StatusOK)
	if rule := decodeBody[rules.Rule](t, rec); rule.Status != rules.StatusInactive {
		t.Errorf("Expected inactive, got %q", rule.Status)
	}

	rec = makeRequest(t, s, http.MethodPatch, "/api/v1/rules/101/status", map[string]any{"status": "archived"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = makeRequest(t, s, http.MethodPatch, "/api/v1/rules/999/status", map[string]any{"status": "active"})
	expectStatus(t, rec, http.StatusNotFound)
}

// TestPublishRule verifies publishing appends an active version at the head
func TestPublishRule(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	created := decodeBody[rules.Rule](t, makeRequest(t, s, http.MethodPost, "/api/v1/rules", map[string]any{"name": "Velocity Check"}))

	rec := makeRequest(t, s, http.MethodPost, "/api/v1/rules/"+created.ID+"/publish", map[string]any{
		"logic":   map[string]any{"groups": []any{}},
		"version": "v2.0",
	})
	expectStatus(t, rec, http.StatusOK)

	rule := decodeBody[rules.Rule](t, rec)
	if len(rule.Versions) != 2 || rule.Versions[0].Version != "v2.0" {
		t.Fatalf("Expected v2.0 at the head of 2 versions, got %+v", rule.Versions)
	}
	if rule.CurrentVersion != "v2.0" || rule.Status != rules.StatusActive {
		t.Errorf("Expected active v2.0, got %q/%q", rule.Status, rule.CurrentVersion)
	}
	if rule.Versions[1].IsActive {
		t.Error("Expected the previous version to be inactive")
	}

	rec = makeRequest(t, s, http.MethodPost, "/api/v1/rules/"+created.ID+"/publish", map[string]any{"version": "2.0"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = makeRequest(t, s, http.MethodPost, "/api/v1/rules/missing/publish", map[string]any{})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCloneRule(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodPost, "/api/v1/rules/RL-100/clone", nil)
	expectStatus(t, rec, http.StatusCreated)

	clone := decodeBody[rules.Rule](t, rec)
	if clone.RuleID != "RL-100-CLONE" {
		t.Errorf("Expected RL-100-CLONE, got %q", clone.RuleID)
	}
	if clone.ID == "101" {
		t.Error("Expected a fresh id for the clone")
	}
	if len(clone.Versions) != 2 {
		t.Errorf("Expected copied history of 2 versions, got %d", len(clone.Versions))
	}
}

func TestVersionsAndNotes(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/versions", nil)
	expectStatus(t, rec, http.StatusOK)
	if versions := decodeBody[VersionsListResponse](t, rec).Versions; len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(versions))
	}

	rec = makeRequest(t, s, http.MethodGet, "/api/v1/rules/unknown/versions", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"versions":[]`) {
		t.Errorf("Expected an empty version list, got %s", rec.Body.String())
	}

	rec = makeRequest(t, s, http.MethodPatch, "/api/v1/versions/101-1/notes", map[string]any{"notes": "reviewed"})
	expectStatus(t, rec, http.StatusOK)
	if v := decodeBody[rules.RuleVersion](t, rec); v.Notes != "reviewed" || v.Version != "v1.0" {
		t.Errorf("Unexpected version after notes update: %+v", v)
	}

	rec = makeRequest(t, s, http.MethodPatch, "/api/v1/versions/nope/notes", map[string]any{"notes": "x"})
	expectStatus(t, rec, http.StatusNotFound)

	rec = makeRequest(t, s, http.MethodPatch, "/api/v1/versions/101-1/notes", map[string]any{})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestTestRule(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	tests := []struct {
		name          string
		body          map[string]any
		wantTriggered bool
		wantSeverity  string
	}{
		{"stored rule over threshold", map[string]any{"ruleId": "RL-100", "payload": map[string]any{"amount": 1500}}, true, "high"},
		{"inline rule under threshold", map[string]any{"rule": map[string]any{"name": "Inline"}, "payload": map[string]any{"amount": 10}}, false, "low"},
		{"no rule", map[string]any{"payload": map[string]any{"amount": "2500"}}, true, "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := makeRequest(t, s, http.MethodPost, "/api/v1/rules/test", tt.body)
			expectStatus(t, rec, http.StatusOK)

			resp := decodeBody[struct {
				Result rules.EvaluationResult `json:"result"`
			}](t, rec)
			if resp.Result.Triggered != tt.wantTriggered || resp.Result.Severity != tt.wantSeverity {
				t.Errorf("Got %+v, want triggered=%v severity=%s", resp.Result, tt.wantTriggered, tt.wantSeverity)
			}
		})
	}

	rec := makeRequest(t, s, http.MethodPost, "/api/v1/rules/test", map[string]any{"ruleId": "RL-100"})
	expectStatus(t, rec, http.StatusBadRequest)
}

// TestClaims_SortedByAmount verifies amount_desc yields non-increasing amounts
func TestClaims_SortedByAmount(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	rec := makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/performance/claims?sort=amount_desc&pageSize=50", nil)
	expectStatus(t, rec, http.StatusOK)

	page := decodeBody[analytics.Page[analytics.TriggeredClaim]](t, rec)
	if len(page.Items) == 0 {
		t.Fatal("Expected claims")
	}
	for i := 1; i < len(page.Items); i++ {
		if page.Items[i].Amount > page.Items[i-1].Amount {
			t.Fatalf("Amounts increase at %d: %v > %v", i, page.Items[i].Amount, page.Items[i-1].Amount)
		}
	}

	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/performance/claims?sort=name", nil), http.StatusBadRequest)
	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/performance/claims?page=x", nil), http.StatusBadRequest)
	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/rules/missing/performance/claims", nil), http.StatusNotFound)
}

func TestPerformanceViews(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	for _, view := range []string{"kpis", "trends", "severity", "conditions", "decisions"} {
		t.Run(view, func(t *testing.T) {
			rec := makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/performance/"+view+"?days=7", nil)
			expectStatus(t, rec, http.StatusOK)
		})
	}

	rec := makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/performance/trends?days=7", nil)
	resp := decodeBody[struct {
		Trends []analytics.TriggerTrend `json:"trends"`
	}](t, rec)
	if len(resp.Trends) != 7 {
		t.Errorf("Expected 7 trend points, got %d", len(resp.Trends))
	}

	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/rules/RL-100/performance/kpis?days=-1", nil), http.StatusBadRequest)
}

func TestAudit_ListAndExport(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(`{"name":"Audited"}`))
	req.Header.Set("X-Actor", "analyst@example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)

	expectStatus(t, makeRequest(t, s, http.MethodPatch, "/api/v1/rules/101/status", map[string]any{"status": "inactive"}), http.StatusOK)

	rec = makeRequest(t, s, http.MethodGet, "/api/v1/audit?action=rule.created", nil)
	expectStatus(t, rec, http.StatusOK)
	page := decodeBody[analytics.Page[audit.Entry]](t, rec)
	if page.Total != 1 || page.Items[0].ActorEmail != "analyst@example.com" {
		t.Fatalf("Unexpected audit page: %+v", page)
	}

	rec = makeRequest(t, s, http.MethodGet, "/api/v1/audit/export", nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("Export is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(audit.CSVHeader, ",") {
		t.Errorf("Unexpected header %v", records[0])
	}

	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/audit?date_from=yesterday", nil), http.StatusBadRequest)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, ServerOptions{RateLimit: RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1}})

	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/health", nil), http.StatusOK)
	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/health", nil), http.StatusTooManyRequests)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, ServerOptions{})

	makeRequest(t, s, http.MethodGet, "/api/v1/rules/missing-id", nil)

	rec := makeRequest(t, s, http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{
		`fraudrules_repository_operations_total{operation="get",outcome="not_found"} 1`,
		`fraudrules_store_reseeds_total{reason="empty"} 1`,
		`fraudrules_http_requests_total{method="GET",route="/api/v1/rules/{id}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %s", want)
		}
	}
}

func TestSimulatedLatency(t *testing.T) {
	s := newTestServer(t, ServerOptions{Latency: 30 * time.Millisecond})

	start := time.Now()
	expectStatus(t, makeRequest(t, s, http.MethodGet, "/api/v1/health", nil), http.StatusOK)
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Expected at least 30ms, took %v", elapsed)
	}
}
