package rules

import (
	"context"
	"fmt"
)

// PublishPayload carries the fields a publish may overwrite. Logic becomes
// the new version's snapshot; when nil, the rule's current logic is used.
type PublishPayload struct {
	Name             *string  `json:"name,omitempty"`
	Description      *string  `json:"description,omitempty"`
	Category         *string  `json:"category,omitempty"`
	Severity         *string  `json:"severity,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	ConditionSummary *string  `json:"conditionSummary,omitempty"`
	Logic            *Logic   `json:"logic,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	Version          *string  `json:"version,omitempty"`
}

// NextVersionLabel returns the label a publish assigns when none is requested:
// v{n+1}.0 where n is the number of existing versions
func NextVersionLabel(existing int) string {
	return fmt.Sprintf("v%.1f", float64(existing+1))
}

// Publish appends a new active version to the rule whose id or ruleId equals key,
// points currentVersion at it and forces the rule active.
//
// A requested label is used verbatim, even if it repeats an existing one.
// Older versions are never edited; only their active flag is cleared.
func (r *Repository) Publish(ctx context.Context, key string, payload PublishPayload) (rule *Rule, err error) {
	defer func() { r.metrics.Observe("publish", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findRule(all, key)
	if idx == -1 {
		return nil, ruleNotFound(key)
	}
	base := all[idx]

	label := NextVersionLabel(len(base.Versions))
	if payload.Version != nil && *payload.Version != "" {
		label = *payload.Version
	}

	snapshot := base.Logic.Clone()
	if payload.Logic != nil {
		snapshot = payload.Logic.Clone()
	}

	now := r.now().UTC()
	version := RuleVersion{
		ID:            r.newID(),
		Version:       label,
		CreatedAt:     now,
		CreatedBy:     ActorFrom(ctx),
		Notes:         deref(payload.Notes, ""),
		IsActive:      true,
		IsDraft:       false,
		LogicSnapshot: snapshot,
	}

	in := base.Input()
	in = in.Overlay(RuleInput{
		Name:             payload.Name,
		Description:      payload.Description,
		Category:         payload.Category,
		Severity:         payload.Severity,
		Tags:             payload.Tags,
		ConditionSummary: payload.ConditionSummary,
		Logic:            payload.Logic,
	})
	in.Versions = append([]VersionInput{version.input()}, in.Versions...)
	in.CurrentVersion = ptr(label)
	in.Status = ptr(StatusActive)
	in.LastUpdated = &FlexTime{now}

	rule = r.normalizer.Normalize(in)
	all[idx] = rule
	if err := r.commit(ctx, all); err != nil {
		return nil, err
	}

	r.record(ctx, ActionPublished, rule, map[string]any{"version": label, "versionId": version.ID})
	return rule.Clone(), nil
}
