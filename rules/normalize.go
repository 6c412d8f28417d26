package rules

import (
	"fmt"
	"strconv"
	"time"
)

// Defaults applied by the normalizer when a field is not supplied
const (
	DefaultOwner    = "You"
	DefaultName     = "Untitled Rule"
	DefaultCategory = "transaction"
	DefaultSeverity = SeverityMedium
	GenesisVersion  = "v1.0"
)

// Normalizer coerces loosely shaped input into a canonical Rule.
// It never fails: anything missing or malformed is replaced by a default.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a normalizer stamping defaults from the given clock.
// A nil clock means time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize builds the canonical form of raw. raw is not modified.
//
// Owner resolves through ownerName, owner, createdBy and finally "You".
// The business id resolves through ruleId, rule_id and finally RL-<millis>.
// Exactly one version ends up active: the first whose label equals currentVersion.
func (n *Normalizer) Normalize(raw RuleInput) *Rule {
	now := n.now().UTC()

	owner := firstNonEmpty(raw.OwnerName, raw.Owner, raw.CreatedBy)
	if owner == "" {
		owner = DefaultOwner
	}

	ruleID := firstNonEmpty(raw.RuleID, raw.RuleIDAlias)
	if ruleID == "" {
		ruleID = fmt.Sprintf("RL-%d", now.UnixMilli())
	}

	id := ""
	if raw.ID != nil {
		id = string(*raw.ID)
	}
	if id == "" {
		id = strconv.FormatInt(now.UnixNano(), 10)
	}

	status := StatusDraft
	if raw.Status != nil && *raw.Status != "" {
		status = *raw.Status
	}

	logic := Logic{Groups: []ConditionGroup{}}
	if raw.Logic != nil {
		logic = raw.Logic.Clone()
	}

	tags := []string{}
	if raw.Tags != nil {
		tags = append(tags, raw.Tags...)
	}

	current := deref(raw.CurrentVersion, "")
	versions := n.normalizeVersions(raw.Versions, current, owner, logic, now)
	if len(versions) == 0 {
		label := current
		if label == "" {
			label = GenesisVersion
		}
		versions = []RuleVersion{{
			ID:            "1",
			Version:       label,
			CreatedAt:     now,
			CreatedBy:     owner,
			IsActive:      true,
			IsDraft:       status == StatusDraft,
			LogicSnapshot: logic.Clone(),
		}}
	}
	if current == "" {
		current = versions[0].Version
	}
	current = reconcileActive(versions, current)

	return &Rule{
		ID:               id,
		RuleID:           ruleID,
		Name:             deref(raw.Name, DefaultName),
		Description:      deref(raw.Description, ""),
		Category:         deref(raw.Category, DefaultCategory),
		Severity:         deref(raw.Severity, DefaultSeverity),
		Status:           status,
		Triggers24h:      float64(deref(raw.Triggers24h, 0)),
		TriggerDelta:     float64(deref(raw.TriggerDelta, 0)),
		LastUpdated:      timeOr(raw.LastUpdated, now),
		CreatedBy:        firstNonEmpty(raw.CreatedBy, &owner),
		OwnerName:        owner,
		Tags:             tags,
		Logic:            logic,
		Versions:         versions,
		CurrentVersion:   current,
		ConditionSummary: deref(raw.ConditionSummary, ""),
	}
}

func (n *Normalizer) normalizeVersions(in []VersionInput, current, owner string, logic Logic, now time.Time) []RuleVersion {
	out := make([]RuleVersion, 0, len(in))
	for idx, v := range in {
		id := strconv.Itoa(idx + 1)
		if v.ID != nil {
			id = string(*v.ID)
		}
		label := deref(v.Version, GenesisVersion)

		var active bool
		switch {
		case v.IsActive != nil:
			active = *v.IsActive
		case current != "":
			active = label == current
		default:
			active = idx == 0
		}

		snapshot := logic.Clone()
		if v.LogicSnapshot != nil {
			snapshot = v.LogicSnapshot.Clone()
		}

		out = append(out, RuleVersion{
			ID:            id,
			Version:       label,
			CreatedAt:     timeOr(v.CreatedAt, now),
			CreatedBy:     deref(v.CreatedBy, owner),
			Notes:         deref(v.Notes, ""),
			IsActive:      active,
			IsDraft:       deref(v.IsDraft, false),
			LogicSnapshot: snapshot,
		})
	}
	return out
}

// reconcileActive leaves exactly one version active and returns the label that
// currentVersion must carry. The first version labelled current wins; when no
// label matches, the first flagged version (or the head of the list) is promoted.
func reconcileActive(versions []RuleVersion, current string) string {
	idx := indexOfLabel(versions, current)
	if idx == -1 {
		idx = 0
		for i, v := range versions {
			if v.IsActive {
				idx = i
				break
			}
		}
		current = versions[idx].Version
		idx = indexOfLabel(versions, current)
	}
	for i := range versions {
		versions[i].IsActive = i == idx
	}
	return current
}

func indexOfLabel(versions []RuleVersion, label string) int {
	for i, v := range versions {
		if v.Version == label {
			return i
		}
	}
	return -1
}

func firstNonEmpty(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func timeOr(t *FlexTime, def time.Time) time.Time {
	if t == nil || t.IsZero() {
		return def
	}
	return t.Time.UTC()
}
