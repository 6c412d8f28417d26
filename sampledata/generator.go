package sampledata

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/liamcoop/fraudrules/analytics"
)

const claimCount = 60

var (
	claimSeverities = []string{"low", "medium", "high", "critical"}
	claimDecisions  = []string{"fraud", "legitimate", "pending"}
	claimants       = []string{"J. Morales", "A. Okafor", "L. Novak", "R. Haddad", "M. Ito", "K. Brennan"}
)

// Generator produces deterministic synthetic performance data.
// The same clock reading always yields the same numbers.
type Generator struct {
	now func() time.Time
}

var _ analytics.Generator = (*Generator)(nil)

// NewGenerator creates a generator reading the given clock (time.Now when nil)
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// KPIs returns a fixed snapshot scaled to the window
func (g *Generator) KPIs(days int) analytics.KPISnapshot {
	evaluated := 412 * days
	flagged := 9 * days
	confirmed := 2 * days
	return analytics.KPISnapshot{
		TotalClaimsEvaluated: evaluated,
		FlagsTriggered:       flagged,
		ConfirmedFraud:       confirmed,
		FalsePositiveRate:    round2(float64(flagged-confirmed) / float64(flagged) * 100),
		HitRate:              round2(float64(flagged) / float64(evaluated) * 100),
		LastEvaluated:        g.now().UTC().Truncate(time.Minute),
	}
}

// TriggerTrends returns one point per day, oldest first, ending today
func (g *Generator) TriggerTrends(days int) []analytics.TriggerTrend {
	rng := rand.New(rand.NewPCG(uint64(days), 7))
	today := g.now().UTC().Truncate(24 * time.Hour)

	out := make([]analytics.TriggerTrend, 0, days)
	for i := days - 1; i >= 0; i-- {
		triggers := 20 + rng.IntN(40)
		out = append(out, analytics.TriggerTrend{
			Date:           today.AddDate(0, 0, -i).Format("2006-01-02"),
			Triggers:       triggers,
			ConfirmedFraud: rng.IntN(triggers/4 + 1),
		})
	}
	return out
}

// SeverityDistribution returns the canned severity split
func (g *Generator) SeverityDistribution(days int) []analytics.SeverityBucket {
	counts := []int{18 * days / 30, 41 * days / 30, 29 * days / 30, 12 * days / 30}
	total := 0
	for _, c := range counts {
		total += c
	}

	out := make([]analytics.SeverityBucket, len(counts))
	for i, c := range counts {
		pct := 0.0
		if total > 0 {
			pct = round2(float64(c) / float64(total) * 100)
		}
		out[i] = analytics.SeverityBucket{Severity: claimSeverities[i], Count: c, Percentage: pct}
	}
	return out
}

// ConditionHits returns condition contributions, highest first
func (g *Generator) ConditionHits(days int) []analytics.ConditionHit {
	return []analytics.ConditionHit{
		{Condition: "amount > 5000", Percentage: 64.2},
		{Condition: "claims_30d >= 3", Percentage: 48.9},
		{Condition: "account_age_days < 7", Percentage: 22.5},
		{Condition: "provider flagged", Percentage: 9.1},
	}
}

// TriggeredClaims returns the synthetic claim collection, newest first
func (g *Generator) TriggeredClaims() []analytics.TriggeredClaim {
	rng := rand.New(rand.NewPCG(42, 42))
	start := g.now().UTC().Truncate(time.Hour)

	out := make([]analytics.TriggeredClaim, claimCount)
	for i := range out {
		out[i] = analytics.TriggeredClaim{
			ClaimID:     fmt.Sprintf("CLM-%05d", 10000+i),
			Claimant:    claimants[rng.IntN(len(claimants))],
			Amount:      round2(250 + rng.Float64()*19750),
			Severity:    claimSeverities[rng.IntN(len(claimSeverities))],
			Decision:    claimDecisions[rng.IntN(len(claimDecisions))],
			TriggeredAt: start.Add(-time.Duration(i*5) * time.Hour),
		}
	}
	return out
}

// DecisionCounts returns the canned decision tally
func (g *Generator) DecisionCounts(days int) analytics.DecisionCounts {
	return analytics.DecisionCounts{Fraud: 56, Legitimate: 210, Pending: 28}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
