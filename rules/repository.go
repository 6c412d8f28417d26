package rules

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit actions reported by the repository
const (
	ActionCreated             = "rule.created"
	ActionUpdated             = "rule.updated"
	ActionDeleted             = "rule.deleted"
	ActionStatusChanged       = "rule.status_changed"
	ActionCloned              = "rule.cloned"
	ActionPublished           = "rule.published"
	ActionVersionNotesUpdated = "rule.version_notes_updated"
)

// AuditEvent describes one successful mutation
type AuditEvent struct {
	Action      string
	EntityType  string
	EntityID    string
	EntityLabel string
	Actor       string
	Metadata    map[string]any
}

// AuditRecorder receives an event after every successful mutation
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// OperationMetrics receives the outcome of every repository operation
type OperationMetrics interface {
	Observe(operation string, err error)
}

type nopOperationMetrics struct{}

func (nopOperationMetrics) Observe(string, error) {}

type actorKey struct{}

// WithActor attaches the acting user to ctx; it is stamped on created
// versions and audit events
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user, "You" when none is attached
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultOwner
}

// Repository is the rule lifecycle API over a Store.
//
// Each operation runs its load, mutate, save sequence under one mutex, so no
// operation observes another's intermediate state. Once a mutation has been
// applied in memory its save runs detached from ctx cancellation: a caller
// that gives up still gets its write persisted.
type Repository struct {
	store      *Store
	normalizer *Normalizer
	newID      func() string
	now        func() time.Time
	audit      AuditRecorder
	metrics    OperationMetrics
	logger     *slog.Logger
	mu         sync.Mutex
}

// RepositoryOption configures a Repository
type RepositoryOption func(*Repository)

// WithClock sets the clock used for timestamps
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator sets the generator for rule and version ids
func WithIDGenerator(gen func() string) RepositoryOption {
	return func(r *Repository) { r.newID = gen }
}

// WithAuditRecorder attaches an audit sink
func WithAuditRecorder(a AuditRecorder) RepositoryOption {
	return func(r *Repository) { r.audit = a }
}

// WithOperationMetrics attaches a metrics sink
func WithOperationMetrics(m OperationMetrics) RepositoryOption {
	return func(r *Repository) { r.metrics = m }
}

// WithRepositoryLogger sets the logger
func WithRepositoryLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

// NewRepository creates a repository over store
func NewRepository(store *Store, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:   store,
		newID:   uuid.NewString,
		now:     time.Now,
		metrics: nopOperationMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.normalizer = NewNormalizer(r.now)
	r.logger = r.logger.With("component", "rule_repository")
	return r
}

// List returns every rule, most recently created first
func (r *Repository) List(ctx context.Context) (rules []*Rule, err error) {
	defer func() { r.metrics.Observe("list", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.Load(ctx)
}

// Get returns the rule whose id or ruleId equals key
func (r *Repository) Get(ctx context.Context, key string) (rule *Rule, err error) {
	defer func() { r.metrics.Observe("get", err) }()

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
	return all[idx], nil
}

// Create adds a new rule with a fresh id and a single active v1.0 version
func (r *Repository) Create(ctx context.Context, in RuleInput) (rule *Rule, err error) {
	defer func() { r.metrics.Observe("create", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	actor := ActorFrom(ctx)
	id := FlexString(r.newID())

	owner := firstNonEmpty(in.OwnerName, in.Owner)
	if owner == "" {
		owner = DefaultOwner
	}
	ruleID := firstNonEmpty(in.RuleID, in.RuleIDAlias)
	if ruleID == "" {
		ruleID = "RL-" + string(id)
	}
	status := StatusDraft
	if in.Status != nil && *in.Status != "" {
		status = *in.Status
	}
	logic := Logic{Groups: []ConditionGroup{}}
	if in.Logic != nil {
		logic = in.Logic.Clone()
	}
	tags := []string{}
	if in.Tags != nil {
		tags = append(tags, in.Tags...)
	}
	zero := FlexNumber(0)
	stamp := FlexTime{now}

	rule = r.normalizer.Normalize(RuleInput{
		ID:               &id,
		RuleID:           &ruleID,
		Name:             ptr(deref(in.Name, "New Rule")),
		Description:      in.Description,
		Category:         in.Category,
		Severity:         in.Severity,
		Status:           &status,
		Triggers24h:      &zero,
		TriggerDelta:     &zero,
		LastUpdated:      &stamp,
		CreatedBy:        &actor,
		OwnerName:        &owner,
		Tags:             tags,
		ConditionSummary: in.ConditionSummary,
		Logic:            &logic,
		Versions: []VersionInput{{
			ID:            ptr(FlexString(r.newID())),
			Version:       ptr(GenesisVersion),
			CreatedAt:     &stamp,
			CreatedBy:     &actor,
			Notes:         ptr(""),
			IsActive:      ptr(true),
			IsDraft:       ptr(status == StatusDraft),
			LogicSnapshot: &logic,
		}},
		CurrentVersion: ptr(GenesisVersion),
	})

	if findRule(all, rule.RuleID) != -1 {
		r.logger.Warn("Rule id already in use", "ruleId", rule.RuleID, "id", rule.ID)
	}

	all = append([]*Rule{rule}, all...)
	if err := r.commit(ctx, all); err != nil {
		return nil, err
	}

	r.record(ctx, ActionCreated, rule, nil)
	return rule.Clone(), nil
}

// Update merges patch over the rule with the given id and re-normalizes the result.
// The id never changes and the version history cannot be rewritten through a patch.
func (r *Repository) Update(ctx context.Context, id string, patch RuleInput) (rule *Rule, err error) {
	defer func() { r.metrics.Observe("update", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findRuleByID(all, id)
	if idx == -1 {
		return nil, ruleNotFound(id)
	}

	patch.ID = nil
	patch.Versions = nil
	merged := all[idx].Input().Overlay(patch)
	merged.LastUpdated = &FlexTime{r.now().UTC()}

	rule = r.normalizer.Normalize(merged)
	all[idx] = rule
	if err := r.commit(ctx, all); err != nil {
		return nil, err
	}

	r.record(ctx, ActionUpdated, rule, nil)
	return rule.Clone(), nil
}

// Delete removes the rule with the given id. Deleting a missing rule is not an error.
func (r *Repository) Delete(ctx context.Context, id string) (err error) {
	defer func() { r.metrics.Observe("delete", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return err
	}

	kept := make([]*Rule, 0, len(all))
	var removed *Rule
	for _, rule := range all {
		if rule.ID == id {
			removed = rule
			continue
		}
		kept = append(kept, rule)
	}

	if err := r.commit(ctx, kept); err != nil {
		return err
	}

	if removed != nil {
		r.record(ctx, ActionDeleted, removed, nil)
	}
	return nil
}

// SetStatus overwrites only the status and lastUpdated of the rule with the given id
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) (rule *Rule, err error) {
	defer func() { r.metrics.Observe("set_status", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findRuleByID(all, id)
	if idx == -1 {
		return nil, ruleNotFound(id)
	}

	previous := all[idx].Status
	all[idx].Status = status
	all[idx].LastUpdated = r.now().UTC()
	if err := r.commit(ctx, all); err != nil {
		return nil, err
	}

	r.record(ctx, ActionStatusChanged, all[idx], map[string]any{"from": string(previous), "to": string(status)})
	return all[idx].Clone(), nil
}

// ListVersions returns the version history of the rule whose id or ruleId
// equals key, or an empty list when there is no such rule
func (r *Repository) ListVersions(ctx context.Context, key string) (versions []RuleVersion, err error) {
	defer func() { r.metrics.Observe("list_versions", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findRule(all, key)
	if idx == -1 {
		return []RuleVersion{}, nil
	}
	return all[idx].Versions, nil
}

// UpdateVersionNotes sets the notes of the first version, across all rules,
// whose id equals versionID. Nothing else about the version changes.
func (r *Repository) UpdateVersionNotes(ctx context.Context, versionID, notes string) (version *RuleVersion, err error) {
	defer func() { r.metrics.Observe("update_version_notes", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	for _, rule := range all {
		for i := range rule.Versions {
			if rule.Versions[i].ID != versionID {
				continue
			}
			rule.Versions[i].Notes = notes
			if err := r.commit(ctx, all); err != nil {
				return nil, err
			}
			r.record(ctx, ActionVersionNotesUpdated, rule, map[string]any{
				"versionId": versionID,
				"version":   rule.Versions[i].Version,
			})
			updated := rule.Versions[i].Clone()
			return &updated, nil
		}
	}
	return nil, versionNotFound(versionID)
}

// Clone duplicates the rule whose id or ruleId equals key under a fresh id.
// The copy's ruleId gains a -CLONE suffix and its name a (Clone) suffix;
// everything else, version history included, is copied.
func (r *Repository) Clone(ctx context.Context, key string) (rule *Rule, err error) {
	defer func() { r.metrics.Observe("clone", err) }()

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

	in := base.Input()
	in.ID = ptr(FlexString(r.newID()))
	in.RuleID = ptr(base.RuleID + "-CLONE")
	in.Name = ptr(base.Name + " (Clone)")
	in.LastUpdated = &FlexTime{r.now().UTC()}

	rule = r.normalizer.Normalize(in)
	all = append([]*Rule{rule}, all...)
	if err := r.commit(ctx, all); err != nil {
		return nil, err
	}

	r.record(ctx, ActionCloned, rule, map[string]any{"source": base.ID})
	return rule.Clone(), nil
}

// commit persists all. The write is not cancelled with ctx.
func (r *Repository) commit(ctx context.Context, all []*Rule) error {
	return r.store.Save(context.WithoutCancel(ctx), all)
}

func (r *Repository) record(ctx context.Context, action string, rule *Rule, metadata map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, AuditEvent{
		Action:      action,
		EntityType:  "rule",
		EntityID:    rule.ID,
		EntityLabel: rule.Name,
		Actor:       ActorFrom(ctx),
		Metadata:    metadata,
	})
}

// findRule returns the first rule, in list order, whose id or ruleId equals key
func findRule(all []*Rule, key string) int {
	for i, rule := range all {
		if rule.ID == key || rule.RuleID == key {
			return i
		}
	}
	return -1
}

func findRuleByID(all []*Rule, id string) int {
	for i, rule := range all {
		if rule.ID == id {
			return i
		}
	}
	return -1
}
