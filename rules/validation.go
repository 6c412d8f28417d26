package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var versionLabelPattern = regexp.MustCompile(`^v\d+(\.\d+)*$`)

// ParseStatus converts a status name to a Status.
// Status names are case-insensitive and surrounding whitespace is ignored.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidStatus(status) {
		return "", fmt.Errorf("invalid status %q (must be one of: draft, active, inactive, testing)", s)
	}
	return status, nil
}

// IsValidStatus checks if status is a known lifecycle state
func IsValidStatus(status Status) bool {
	switch status {
	case StatusDraft, StatusActive, StatusInactive, StatusTesting:
		return true
	}
	return false
}

// IsValidSeverity checks if severity is a known level. Severity names are case-sensitive.
func IsValidSeverity(severity string) bool {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ValidateVersionLabel checks that a requested publish label looks like v1, v2.0 or v2.1.3.
// Publish itself accepts any label; callers that want to reject typos use this first.
func ValidateVersionLabel(label string) error {
	if !versionLabelPattern.MatchString(label) {
		return fmt.Errorf("invalid version label %q (expected v<major>[.<minor>...])", label)
	}
	return nil
}

// ValidateInput rejects enumerated fields outside their known values.
// The normalizer never rejects input; this is for API surfaces that want to.
func ValidateInput(in RuleInput) error {
	if in.Status != nil && *in.Status != "" && !IsValidStatus(*in.Status) {
		return fmt.Errorf("invalid status %q (must be one of: draft, active, inactive, testing)", *in.Status)
	}
	if in.Severity != nil && *in.Severity != "" && !IsValidSeverity(*in.Severity) {
		return fmt.Errorf("invalid severity %q (must be one of: low, medium, high, critical)", *in.Severity)
	}
	for _, tag := range in.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("tags cannot be empty")
		}
	}
	return nil
}
