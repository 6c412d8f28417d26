package rules

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a rule
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTesting  Status = "testing"
)

// Severity levels used by rules and by evaluation results
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Condition is a single leaf of a rule's logic tree.
// Value is kept as raw JSON; the store never interprets it.
type Condition struct {
	ID       string          `json:"id,omitempty"`
	Field    string          `json:"field,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// ConditionGroup joins conditions with a boolean connector
type ConditionGroup struct {
	ID         string      `json:"id,omitempty"`
	Connector  string      `json:"connector,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// Logic is the structured condition tree of a rule
type Logic struct {
	Groups []ConditionGroup `json:"groups"`
}

// RuleVersion is an immutable snapshot of a rule's logic at a point in its publish history.
// Only Notes may change after the version is written.
type RuleVersion struct {
	ID            string    `json:"id"`
	Version       string    `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy"`
	Notes         string    `json:"notes"`
	IsActive      bool      `json:"isActive"`
	IsDraft       bool      `json:"isDraft"`
	LogicSnapshot Logic     `json:"logic_snapshot"`
}

// Rule is a fraud-detection policy with versioned logic and a lifecycle status.
// Versions are ordered most-recent-first.
type Rule struct {
	ID               string        `json:"id"`
	RuleID           string        `json:"ruleId"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Category         string        `json:"category"`
	Severity         string        `json:"severity"`
	Status           Status        `json:"status"`
	Triggers24h      float64       `json:"triggers24h"`
	TriggerDelta     float64       `json:"triggerDelta"`
	LastUpdated      time.Time     `json:"lastUpdated"`
	CreatedBy        string        `json:"createdBy"`
	OwnerName        string        `json:"ownerName"`
	Tags             []string      `json:"tags"`
	Logic            Logic         `json:"logic"`
	Versions         []RuleVersion `json:"versions"`
	CurrentVersion   string        `json:"currentVersion"`
	ConditionSummary string        `json:"conditionSummary"`
}

// EvaluationResult contains the outcome of testing a rule against a payload
type EvaluationResult struct {
	RuleID    string   `json:"ruleId,omitempty"`
	RuleName  string   `json:"ruleName,omitempty"`
	Triggered bool     `json:"triggered"`
	Severity  string   `json:"severity"`
	Reasons   []string `json:"reasons"`
}

// ActiveVersion returns the version flagged active, if any
func (r *Rule) ActiveVersion() (RuleVersion, bool) {
	for _, v := range r.Versions {
		if v.IsActive {
			return v.Clone(), true
		}
	}
	return RuleVersion{}, false
}

// Clone returns a deep copy of the logic tree
func (l Logic) Clone() Logic {
	out := Logic{Groups: make([]ConditionGroup, len(l.Groups))}
	for i, g := range l.Groups {
		conds := make([]Condition, len(g.Conditions))
		for j, c := range g.Conditions {
			conds[j] = c
			if c.Value != nil {
				conds[j].Value = append(json.RawMessage(nil), c.Value...)
			}
		}
		out.Groups[i] = ConditionGroup{ID: g.ID, Connector: g.Connector, Conditions: conds}
	}
	return out
}

// Clone returns a deep copy of the version
func (v RuleVersion) Clone() RuleVersion {
	v.LogicSnapshot = v.LogicSnapshot.Clone()
	return v
}

// Clone returns a deep copy of the rule. Callers may mutate the copy freely.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = append([]string{}, r.Tags...)
	out.Logic = r.Logic.Clone()
	out.Versions = make([]RuleVersion, len(r.Versions))
	for i, v := range r.Versions {
		out.Versions[i] = v.Clone()
	}
	return &out
}

func cloneRules(in []*Rule) []*Rule {
	out := make([]*Rule, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
