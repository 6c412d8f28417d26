// Package analytics shapes dashboard views over rule performance data.
// The numbers come from a Generator; this package only filters, sorts,
// ranks and paginates them.
package analytics

import (
	"cmp"
	"log/slog"
	"slices"
	"time"
)

// DefaultDays is the lookback window used when a window below 1 day is requested
const DefaultDays = 30

// Claim sort keys
const (
	SortAmountDesc = "amount_desc"
	SortAmountAsc  = "amount_asc"
	SortDateDesc   = "date_desc"
	SortDateAsc    = "date_asc"
)

// KPISnapshot summarizes a rule's performance over a window
type KPISnapshot struct {
	TotalClaimsEvaluated int       `json:"totalClaimsEvaluated"`
	FlagsTriggered       int       `json:"flagsTriggered"`
	ConfirmedFraud       int       `json:"confirmedFraud"`
	FalsePositiveRate    float64   `json:"falsePositiveRate"`
	HitRate              float64   `json:"hitRate"`
	LastEvaluated        time.Time `json:"lastEvaluated"`
}

// TriggerTrend is one day of trigger activity
type TriggerTrend struct {
	Date           string `json:"date"`
	Triggers       int    `json:"triggers"`
	ConfirmedFraud int    `json:"confirmedFraud"`
}

// SeverityBucket is one slice of the severity distribution
type SeverityBucket struct {
	Severity   string  `json:"severity"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ConditionHit is how often one condition contributed to a trigger
type ConditionHit struct {
	Condition  string  `json:"condition"`
	Percentage float64 `json:"percentage"`
	Rank       int     `json:"rank"`
}

// TriggeredClaim is a claim the rule flagged
type TriggeredClaim struct {
	ClaimID     string    `json:"claimId"`
	Claimant    string    `json:"claimant"`
	Amount      float64   `json:"amount"`
	Severity    string    `json:"severity"`
	Decision    string    `json:"decision"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

// DecisionCounts tallies analyst decisions on triggered claims
type DecisionCounts struct {
	Fraud      int `json:"fraud"`
	Legitimate int `json:"legitimate"`
	Pending    int `json:"pending"`
}

// Generator produces the numeric content behind every view.
// It is called fresh for each query; results are never cached.
type Generator interface {
	KPIs(days int) KPISnapshot
	TriggerTrends(days int) []TriggerTrend
	SeverityDistribution(days int) []SeverityBucket
	ConditionHits(days int) []ConditionHit
	TriggeredClaims() []TriggeredClaim
	DecisionCounts(days int) DecisionCounts
}

// ClaimFilter holds conjunctive equality filters; empty fields do not constrain
type ClaimFilter struct {
	Severity string
	Decision string
}

// ClaimQuery selects a page of triggered claims. Days is recorded with the
// request but the synthetic claim collection is not windowed.
type ClaimQuery struct {
	Days     int
	Severity string
	Decision string
	Page     int
	PageSize int
	Sort     string
}

// Facade serves read-only analytics views. Nothing it returns aliases generator state.
type Facade struct {
	gen    Generator
	logger *slog.Logger
}

// NewFacade creates a facade over gen
func NewFacade(gen Generator, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{gen: gen, logger: logger.With("component", "analytics")}
}

// KPIs returns the KPI snapshot for the rule over the window
func (f *Facade) KPIs(ruleID string, days int) KPISnapshot {
	return f.gen.KPIs(window(days))
}

// Trends returns the daily trigger series for the window
func (f *Facade) Trends(ruleID string, days int) []TriggerTrend {
	return slices.Clone(f.gen.TriggerTrends(window(days)))
}

// Severity returns the severity distribution for the window
func (f *Facade) Severity(ruleID string, days int) []SeverityBucket {
	return slices.Clone(f.gen.SeverityDistribution(window(days)))
}

// Conditions returns condition hits ranked 1..n in generator order
func (f *Facade) Conditions(ruleID string, days int) []ConditionHit {
	hits := slices.Clone(f.gen.ConditionHits(window(days)))
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

// DecisionCounts returns analyst decision totals for the window
func (f *Facade) DecisionCounts(ruleID string, days int) DecisionCounts {
	return f.gen.DecisionCounts(window(days))
}

// TriggeredClaims filters, sorts and paginates the generator's claims
func (f *Facade) TriggeredClaims(ruleID string, q ClaimQuery) Page[TriggeredClaim] {
	items := f.gen.TriggeredClaims()
	items = FilterClaims(items, ClaimFilter{Severity: q.Severity, Decision: q.Decision})
	items = SortClaims(items, q.Sort)
	page := Paginate(items, q.Page, q.PageSize)

	f.logger.Debug("Served triggered claims",
		"ruleId", ruleID, "days", window(q.Days), "total", page.Total, "page", page.Page, "sort", q.Sort)
	return page
}

// FilterClaims keeps the claims matching every non-empty filter field
func FilterClaims(items []TriggeredClaim, filter ClaimFilter) []TriggeredClaim {
	out := make([]TriggeredClaim, 0, len(items))
	for _, c := range items {
		if filter.Severity != "" && c.Severity != filter.Severity {
			continue
		}
		if filter.Decision != "" && c.Decision != filter.Decision {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SortClaims returns a stably sorted copy of items. Unknown keys keep the input order.
func SortClaims(items []TriggeredClaim, key string) []TriggeredClaim {
	out := slices.Clone(items)
	if out == nil {
		out = []TriggeredClaim{}
	}

	var less func(a, b TriggeredClaim) int
	switch key {
	case SortAmountDesc:
		less = func(a, b TriggeredClaim) int { return cmp.Compare(b.Amount, a.Amount) }
	case SortAmountAsc:
		less = func(a, b TriggeredClaim) int { return cmp.Compare(a.Amount, b.Amount) }
	case SortDateDesc:
		less = func(a, b TriggeredClaim) int { return b.TriggeredAt.Compare(a.TriggeredAt) }
	case SortDateAsc:
		less = func(a, b TriggeredClaim) int { return a.TriggeredAt.Compare(b.TriggeredAt) }
	default:
		return out
	}

	slices.SortStableFunc(out, less)
	return out
}

// IsValidSort reports whether key is a recognized claim sort key
func IsValidSort(key string) bool {
	switch key {
	case SortAmountDesc, SortAmountAsc, SortDateDesc, SortDateAsc:
		return true
	}
	return false
}

func window(days int) int {
	if days < 1 {
		return DefaultDays
	}
	return days
}
