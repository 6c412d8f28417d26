package analytics

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

// stubGenerator returns fixed data and records the windows it was asked for
type stubGenerator struct {
	claims []TriggeredClaim
	days   []int
	hits   []ConditionHit
}

func (g *stubGenerator) KPIs(days int) KPISnapshot {
	g.days = append(g.days, days)
	return KPISnapshot{TotalClaimsEvaluated: days * 10}
}

func (g *stubGenerator) TriggerTrends(days int) []TriggerTrend {
	g.days = append(g.days, days)
	out := make([]TriggerTrend, days)
	for i := range out {
		out[i] = TriggerTrend{Triggers: i}
	}
	return out
}

func (g *stubGenerator) SeverityDistribution(days int) []SeverityBucket {
	return []SeverityBucket{{Severity: "high", Count: 3, Percentage: 100}}
}

func (g *stubGenerator) ConditionHits(days int) []ConditionHit {
	return g.hits
}

func (g *stubGenerator) TriggeredClaims() []TriggeredClaim {
	return g.claims
}

func (g *stubGenerator) DecisionCounts(days int) DecisionCounts {
	return DecisionCounts{Fraud: 1, Legitimate: 2, Pending: 3}
}

var claimBase = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func sampleClaims() []TriggeredClaim {
	return []TriggeredClaim{
		{ClaimID: "c1", Amount: 500, Severity: "high", Decision: "fraud", TriggeredAt: claimBase.Add(1 * time.Hour)},
		{ClaimID: "c2", Amount: 1500, Severity: "low", Decision: "pending", TriggeredAt: claimBase.Add(3 * time.Hour)},
		{ClaimID: "c3", Amount: 1500, Severity: "high", Decision: "legitimate", TriggeredAt: claimBase.Add(2 * time.Hour)},
		{ClaimID: "c4", Amount: 50, Severity: "high", Decision: "fraud", TriggeredAt: claimBase},
	}
}

func ids(claims []TriggeredClaim) []string {
	out := make([]string, len(claims))
	for i, c := range claims {
		out[i] = c.ClaimID
	}
	return out
}

func newTestFacade(gen Generator) *Facade {
	return NewFacade(gen, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSortClaims(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{SortAmountDesc, []string{"c2", "c3", "c1", "c4"}},
		{SortAmountAsc, []string{"c4", "c1", "c2", "c3"}},
		{SortDateDesc, []string{"c2", "c3", "c1", "c4"}},
		{SortDateAsc, []string{"c4", "c1", "c3", "c2"}},
		{"", []string{"c1", "c2", "c3", "c4"}},
		{"bogus", []string{"c1", "c2", "c3", "c4"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			input := sampleClaims()
			got := ids(SortClaims(input, tt.key))
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("SortClaims(%q) = %v, want %v", tt.key, got, tt.want)
				}
			}
			if input[0].ClaimID != "c1" {
				t.Error("SortClaims must not reorder its input")
			}
		})
	}
}

func TestSortClaims_AmountDescIsNonIncreasing(t *testing.T) {
	sorted := SortClaims(sampleClaims(), SortAmountDesc)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Amount > sorted[i-1].Amount {
			t.Fatalf("amount increased at %d: %v > %v", i, sorted[i].Amount, sorted[i-1].Amount)
		}
	}
}

func TestFilterClaims(t *testing.T) {
	tests := []struct {
		name   string
		filter ClaimFilter
		want   int
	}{
		{"no filter", ClaimFilter{}, 4},
		{"severity", ClaimFilter{Severity: "high"}, 3},
		{"decision", ClaimFilter{Decision: "fraud"}, 2},
		{"both", ClaimFilter{Severity: "high", Decision: "legitimate"}, 1},
		{"no match", ClaimFilter{Severity: "critical"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterClaims(sampleClaims(), tt.filter)
			if len(got) != tt.want {
				t.Errorf("FilterClaims(%+v) returned %d claims, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestFacade_TriggeredClaims(t *testing.T) {
	f := newTestFacade(&stubGenerator{claims: sampleClaims()})

	page := f.TriggeredClaims("RL-100", ClaimQuery{Severity: "high", Sort: SortAmountDesc, Page: 1, PageSize: 2})
	if page.Total != 3 || page.TotalPages != 2 {
		t.Errorf("Total/TotalPages = %d/%d, want 3/2", page.Total, page.TotalPages)
	}
	if got := ids(page.Items); len(got) != 2 || got[0] != "c3" || got[1] != "c1" {
		t.Errorf("Page 1 = %v, want [c3 c1]", got)
	}

	second := f.TriggeredClaims("RL-100", ClaimQuery{Severity: "high", Sort: SortAmountDesc, Page: 2, PageSize: 2})
	if got := ids(second.Items); len(got) != 1 || got[0] != "c4" {
		t.Errorf("Page 2 = %v, want [c4]", got)
	}
}

func TestFacade_WindowDefaults(t *testing.T) {
	gen := &stubGenerator{}
	f := newTestFacade(gen)

	if got := f.KPIs("RL-100", 0).TotalClaimsEvaluated; got != DefaultDays*10 {
		t.Errorf("Expected default window, got %d evaluated", got)
	}
	if got := len(f.Trends("RL-100", 7)); got != 7 {
		t.Errorf("Trends(7) returned %d points", got)
	}
	if gen.days[0] != DefaultDays || gen.days[1] != 7 {
		t.Errorf("Windows passed to generator = %v", gen.days)
	}
}

func TestFacade_ConditionsRanked(t *testing.T) {
	gen := &stubGenerator{hits: []ConditionHit{{Condition: "a"}, {Condition: "b"}, {Condition: "c"}}}
	f := newTestFacade(gen)

	hits := f.Conditions("RL-100", 30)
	for i, h := range hits {
		if h.Rank != i+1 {
			t.Errorf("hit %d has rank %d", i, h.Rank)
		}
	}
	if gen.hits[0].Rank != 0 {
		t.Error("Ranking must not write through to generator data")
	}
}

func TestFacade_PassThroughs(t *testing.T) {
	f := newTestFacade(&stubGenerator{})

	if got := f.DecisionCounts("RL-100", 30); got.Pending != 3 {
		t.Errorf("DecisionCounts = %+v", got)
	}
	if got := f.Severity("RL-100", 30); len(got) != 1 || got[0].Severity != "high" {
		t.Errorf("Severity = %+v", got)
	}
}

func TestIsValidSort(t *testing.T) {
	for _, key := range []string{SortAmountDesc, SortAmountAsc, SortDateDesc, SortDateAsc} {
		if !IsValidSort(key) {
			t.Errorf("Expected %q to be valid", key)
		}
	}
	if IsValidSort("amount") {
		t.Error("Expected partial key to be invalid")
	}
}
