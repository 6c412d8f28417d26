package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexString decodes from a JSON string or number.
// Identifiers written by older clients are sometimes numeric.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

// FlexNumber decodes from a JSON number or a numeric string. Anything else is 0.
type FlexNumber float64

// UnmarshalJSON implements json.Unmarshaler
func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	*n = FlexNumber(parseNumber(data))
	return nil
}

func parseNumber(data []byte) float64 {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return 0
	}
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f
}

// toFloat coerces the usual JSON-ish numeric representations
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// FlexTime decodes an RFC 3339 timestamp. Display strings such as "just now"
// decode to the zero time, which the normalizer treats as absent.
type FlexTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// FlexStrings decodes a JSON array keeping only its string elements.
// Anything other than an array decodes to an empty list.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler
func (s *FlexStrings) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		*s = FlexStrings{}
		return nil
	}
	out := make(FlexStrings, 0, len(items))
	for _, item := range items {
		var v any
		if json.Unmarshal(item, &v) != nil {
			continue
		}
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	*s = out
	return nil
}

// objectFields splits a JSON object into its members. null yields a nil map.
func objectFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("entry is not an object: %w", err)
	}
	return fields, nil
}

// looseField decodes fields[key] into dst. A member of the wrong type leaves
// dst untouched so the normalizer applies its default.
func looseField[T any](fields map[string]json.RawMessage, key string, dst *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	*dst = v
}

// VersionInput is the loosely shaped form of a RuleVersion
type VersionInput struct {
	ID            *FlexString `json:"id,omitempty"`
	Version       *string     `json:"version,omitempty"`
	CreatedAt     *FlexTime   `json:"createdAt,omitempty"`
	CreatedBy     *string     `json:"createdBy,omitempty"`
	Notes         *string     `json:"notes,omitempty"`
	IsActive      *bool       `json:"isActive,omitempty"`
	IsDraft       *bool       `json:"isDraft,omitempty"`
	LogicSnapshot *Logic      `json:"logic_snapshot,omitempty"`
}

// RuleInput is the loosely shaped form of a Rule accepted at every boundary:
// persisted payloads, seed data, create requests and partial patches.
// A nil field means "not supplied".
type RuleInput struct {
	ID               *FlexString    `json:"id,omitempty"`
	RuleID           *string        `json:"ruleId,omitempty"`
	RuleIDAlias      *string        `json:"rule_id,omitempty"`
	Name             *string        `json:"name,omitempty"`
	Description      *string        `json:"description,omitempty"`
	Category         *string        `json:"category,omitempty"`
	Severity         *string        `json:"severity,omitempty"`
	Status           *Status        `json:"status,omitempty"`
	Triggers24h      *FlexNumber    `json:"triggers24h,omitempty"`
	TriggerDelta     *FlexNumber    `json:"triggerDelta,omitempty"`
	LastUpdated      *FlexTime      `json:"lastUpdated,omitempty"`
	CreatedBy        *string        `json:"createdBy,omitempty"`
	OwnerName        *string        `json:"ownerName,omitempty"`
	Owner            *string        `json:"owner,omitempty"`
	Tags             FlexStrings    `json:"tags,omitempty"`
	Logic            *Logic         `json:"logic,omitempty"`
	Versions         []VersionInput `json:"versions,omitempty"`
	CurrentVersion   *string        `json:"currentVersion,omitempty"`
	ConditionSummary *string        `json:"conditionSummary,omitempty"`
}

// UnmarshalJSON decodes every member independently so a mistyped field only
// loses itself.
func (in *RuleInput) UnmarshalJSON(data []byte) error {
	fields, err := objectFields(data)
	if err != nil || fields == nil {
		return err
	}

	*in = RuleInput{}
	looseField(fields, "id", &in.ID)
	looseField(fields, "ruleId", &in.RuleID)
	looseField(fields, "rule_id", &in.RuleIDAlias)
	looseField(fields, "name", &in.Name)
	looseField(fields, "description", &in.Description)
	looseField(fields, "category", &in.Category)
	looseField(fields, "severity", &in.Severity)
	looseField(fields, "status", &in.Status)
	looseField(fields, "triggers24h", &in.Triggers24h)
	looseField(fields, "triggerDelta", &in.TriggerDelta)
	looseField(fields, "lastUpdated", &in.LastUpdated)
	looseField(fields, "createdBy", &in.CreatedBy)
	looseField(fields, "ownerName", &in.OwnerName)
	looseField(fields, "owner", &in.Owner)
	looseField(fields, "tags", &in.Tags)
	looseField(fields, "logic", &in.Logic)
	looseField(fields, "currentVersion", &in.CurrentVersion)
	looseField(fields, "conditionSummary", &in.ConditionSummary)

	if raw, ok := fields["versions"]; ok {
		in.Versions = looseVersions(raw)
	}
	return nil
}

// looseVersions keeps every decodable element of a versions array
func looseVersions(data []byte) []VersionInput {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		return nil
	}
	out := make([]VersionInput, 0, len(items))
	for _, item := range items {
		var v VersionInput
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// UnmarshalJSON decodes every member independently
func (v *VersionInput) UnmarshalJSON(data []byte) error {
	fields, err := objectFields(data)
	if err != nil || fields == nil {
		return err
	}

	*v = VersionInput{}
	looseField(fields, "id", &v.ID)
	looseField(fields, "version", &v.Version)
	looseField(fields, "createdAt", &v.CreatedAt)
	looseField(fields, "createdBy", &v.CreatedBy)
	looseField(fields, "notes", &v.Notes)
	looseField(fields, "isActive", &v.IsActive)
	looseField(fields, "isDraft", &v.IsDraft)
	looseField(fields, "logic_snapshot", &v.LogicSnapshot)
	return nil
}

// missingIdentity reports whether normalizing in would have to generate its id or ruleId
func (in RuleInput) missingIdentity() bool {
	if in.ID == nil || *in.ID == "" {
		return true
	}
	return firstNonEmpty(in.RuleID, in.RuleIDAlias) == ""
}

// Overlay returns in with every field supplied by patch replacing the original
func (in RuleInput) Overlay(patch RuleInput) RuleInput {
	out := in
	if patch.ID != nil {
		out.ID = patch.ID
	}
	if patch.RuleID != nil || patch.RuleIDAlias != nil {
		out.RuleID = patch.RuleID
		out.RuleIDAlias = patch.RuleIDAlias
	}
	if patch.Name != nil {
		out.Name = patch.Name
	}
	if patch.Description != nil {
		out.Description = patch.Description
	}
	if patch.Category != nil {
		out.Category = patch.Category
	}
	if patch.Severity != nil {
		out.Severity = patch.Severity
	}
	if patch.Status != nil {
		out.Status = patch.Status
	}
	if patch.Triggers24h != nil {
		out.Triggers24h = patch.Triggers24h
	}
	if patch.TriggerDelta != nil {
		out.TriggerDelta = patch.TriggerDelta
	}
	if patch.LastUpdated != nil {
		out.LastUpdated = patch.LastUpdated
	}
	if patch.CreatedBy != nil {
		out.CreatedBy = patch.CreatedBy
	}
	if patch.OwnerName != nil {
		out.OwnerName = patch.OwnerName
	}
	if patch.Owner != nil {
		out.Owner = patch.Owner
	}
	if patch.Tags != nil {
		out.Tags = append(FlexStrings{}, patch.Tags...)
	}
	if patch.Logic != nil {
		l := patch.Logic.Clone()
		out.Logic = &l
	}
	if patch.Versions != nil {
		out.Versions = patch.Versions
	}
	if patch.CurrentVersion != nil {
		out.CurrentVersion = patch.CurrentVersion
	}
	if patch.ConditionSummary != nil {
		out.ConditionSummary = patch.ConditionSummary
	}
	return out
}

// Input converts a canonical rule back into its input form with every field supplied
func (r *Rule) Input() RuleInput {
	id := FlexString(r.ID)
	status := r.Status
	triggers := FlexNumber(r.Triggers24h)
	delta := FlexNumber(r.TriggerDelta)
	updated := FlexTime{r.LastUpdated}
	logic := r.Logic.Clone()

	versions := make([]VersionInput, len(r.Versions))
	for i, v := range r.Versions {
		versions[i] = v.input()
	}

	return RuleInput{
		ID:               &id,
		RuleID:           ptr(r.RuleID),
		Name:             ptr(r.Name),
		Description:      ptr(r.Description),
		Category:         ptr(r.Category),
		Severity:         ptr(r.Severity),
		Status:           &status,
		Triggers24h:      &triggers,
		TriggerDelta:     &delta,
		LastUpdated:      &updated,
		CreatedBy:        ptr(r.CreatedBy),
		OwnerName:        ptr(r.OwnerName),
		Tags:             append([]string{}, r.Tags...),
		Logic:            &logic,
		Versions:         versions,
		CurrentVersion:   ptr(r.CurrentVersion),
		ConditionSummary: ptr(r.ConditionSummary),
	}
}

func (v RuleVersion) input() VersionInput {
	id := FlexString(v.ID)
	created := FlexTime{v.CreatedAt}
	snapshot := v.LogicSnapshot.Clone()
	return VersionInput{
		ID:            &id,
		Version:       ptr(v.Version),
		CreatedAt:     &created,
		CreatedBy:     ptr(v.CreatedBy),
		Notes:         ptr(v.Notes),
		IsActive:      ptr(v.IsActive),
		IsDraft:       ptr(v.IsDraft),
		LogicSnapshot: &snapshot,
	}
}

func ptr[T any](v T) *T {
	return &v
}
