package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/liamcoop/fraudrules/analytics"
	"github.com/liamcoop/fraudrules/rules"
)

// API request and response models

// StatusRequest is the body of PATCH /rules/{id}/status
type StatusRequest struct {
	Status string `json:"status" validate:"required,rule_status"`
}

// NotesRequest is the body of PATCH /versions/{versionId}/notes
type NotesRequest struct {
	Notes *string `json:"notes" validate:"required"`
}

// PublishRequest is the body of POST /rules/{id}/publish
type PublishRequest struct {
	Name             *string      `json:"name,omitempty" validate:"omitempty,min=1"`
	Description      *string      `json:"description,omitempty"`
	Category         *string      `json:"category,omitempty"`
	Severity         *string      `json:"severity,omitempty" validate:"omitempty,severity"`
	Tags             []string     `json:"tags,omitempty" validate:"omitempty,dive,required"`
	ConditionSummary *string      `json:"conditionSummary,omitempty"`
	Logic            *rules.Logic `json:"logic,omitempty"`
	Notes            *string      `json:"notes,omitempty"`
	Version          *string      `json:"version,omitempty" validate:"omitempty,version_label"`
}

func (p PublishRequest) payload() rules.PublishPayload {
	return rules.PublishPayload{
		Name:             p.Name,
		Description:      p.Description,
		Category:         p.Category,
		Severity:         p.Severity,
		Tags:             p.Tags,
		ConditionSummary: p.ConditionSummary,
		Logic:            p.Logic,
		Notes:            p.Notes,
		Version:          p.Version,
	}
}

// TestRequest is the body of POST /rules/test. The rule is either referenced
// by RuleID or supplied inline; an inline rule is normalized first.
type TestRequest struct {
	RuleID  string           `json:"ruleId,omitempty"`
	Rule    *rules.RuleInput `json:"rule,omitempty"`
	Payload map[string]any   `json:"payload" validate:"required"`
}

// PerformanceQuery holds the query parameters shared by performance views
type PerformanceQuery struct {
	Days int `validate:"omitempty,min=1,max=365"`
}

// ClaimsQuery holds the query parameters of the triggered claims view
type ClaimsQuery struct {
	Days     int    `validate:"omitempty,min=1,max=365"`
	Severity string `validate:"omitempty,severity"`
	Decision string `validate:"omitempty,oneof=fraud legitimate pending"`
	Page     int    `validate:"omitempty,min=1"`
	PageSize int    `validate:"omitempty,min=1,max=100"`
	Sort     string `validate:"omitempty,claim_sort"`
}

// AuditQuery holds the query parameters of the audit views
type AuditQuery struct {
	Page       int    `validate:"omitempty,min=1"`
	Limit      int    `validate:"omitempty,min=1,max=500"`
	Action     string `validate:"omitempty,max=64"`
	EntityType string `validate:"omitempty,max=64"`
	ActorEmail string `validate:"omitempty,max=255"`
	EntityID   string `validate:"omitempty,max=255"`
	DateFrom   string `validate:"omitempty,datetime=2006-01-02"`
	DateTo     string `validate:"omitempty,datetime=2006-01-02"`
}

// RulesListResponse wraps the rule list
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// VersionsListResponse wraps a version history
type VersionsListResponse struct {
	Versions []rules.RuleVersion `json:"versions"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
	Rules  int    `json:"rules"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// requestError marks a failure caused by the request itself
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{err: fmt.Errorf(format, args...)}
}

func isRequestError(err error) bool {
	var re *requestError
	return errors.As(err, &re)
}

// requestValidator wraps the go-playground validator with the domain rules
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("rule_status", func(fl validator.FieldLevel) bool {
		_, err := rules.ParseStatus(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return rules.IsValidSeverity(fl.Field().String())
	})
	_ = v.RegisterValidation("version_label", func(fl validator.FieldLevel) bool {
		return rules.ValidateVersionLabel(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("claim_sort", func(fl validator.FieldLevel) bool {
		return analytics.IsValidSort(fl.Field().String())
	})

	return &requestValidator{validate: v}
}

// Struct validates s, returning a request error listing every failed field
func (v *requestValidator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &requestError{err: err}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return badRequest("%s", strings.Join(msgs, "; "))
}
