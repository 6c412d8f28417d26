package rules

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(ctx context.Context, event AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}

// sequentialIDs returns a generator yielding id-1, id-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// sampleSeed mirrors the shape of the shipped sample data: one rule with two
// versions, one with a single version and one with none
func sampleSeed() SeedSource {
	return SeedFunc(func() []RuleInput {
		return []RuleInput{
			{
				ID: ptr(FlexString("101")), RuleID: ptr("RL-100"), Name: ptr("High Value Velocity"),
				Status: ptr(StatusActive), Severity: ptr(SeverityHigh), CurrentVersion: ptr("v2.0"),
				Versions: []VersionInput{
					{ID: ptr(FlexString("101-2")), Version: ptr("v2.0"), Notes: ptr("raised threshold")},
					{ID: ptr(FlexString("101-1")), Version: ptr("v1.0")},
				},
			},
			{
				ID: ptr(FlexString("102")), RuleID: ptr("RL-101"), Name: ptr("Geo Mismatch"),
				Versions: []VersionInput{{ID: ptr(FlexString("102-1")), Version: ptr("v1.0")}},
			},
			{ID: ptr(FlexString("103")), RuleIDAlias: ptr("RL-102"), Name: ptr("Device Reuse")},
		}
	})
}

type repoFixture struct {
	repo    *Repository
	store   *Store
	medium  *MemoryMedium
	audit   *recordingAudit
	metrics *recordingMetrics
}

func newRepoFixture(t *testing.T) *repoFixture {
	t.Helper()

	f := &repoFixture{
		medium:  NewMemoryMedium(),
		audit:   &recordingAudit{},
		metrics: newRecordingMetrics(),
	}
	f.store = NewStore(f.medium, sampleSeed(), WithNormalizer(NewNormalizer(fixedClock)))
	f.repo = NewRepository(f.store,
		WithClock(fixedClock),
		WithIDGenerator(sequentialIDs()),
		WithAuditRecorder(f.audit),
		WithOperationMetrics(f.metrics),
	)
	return f
}

// persisted reads the collection back through a fresh store
func (f *repoFixture) persisted(t *testing.T) []*Rule {
	t.Helper()

	all, err := NewStore(f.medium, nil, WithNormalizer(NewNormalizer(fixedClock))).Load(context.Background())
	if err != nil {
		t.Fatalf("Failed to read persisted rules: %v", err)
	}
	return all
}

func TestRepository_CreateGenesis(t *testing.T) {
	f := newRepoFixture(t)
	ctx := WithActor(context.Background(), "analyst@example.com")

	rule, err := f.repo.Create(ctx, RuleInput{Name: ptr("Velocity Check")})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if rule.Status != StatusDraft {
		t.Errorf("Status = %q, want draft", rule.Status)
	}
	if len(rule.Versions) != 1 {
		t.Fatalf("Expected exactly one version, got %d", len(rule.Versions))
	}
	v := rule.Versions[0]
	if v.Version != "v1.0" || !v.IsActive || rule.CurrentVersion != "v1.0" {
		t.Errorf("Unexpected genesis: version=%q active=%v current=%q", v.Version, v.IsActive, rule.CurrentVersion)
	}
	if v.CreatedBy != "analyst@example.com" || rule.CreatedBy != "analyst@example.com" {
		t.Errorf("Expected the acting user on the rule and version, got %q/%q", rule.CreatedBy, v.CreatedBy)
	}
	if rule.OwnerName != DefaultOwner {
		t.Errorf("OwnerName = %q, want %q", rule.OwnerName, DefaultOwner)
	}
	if rule.ID != "id-1" || v.ID != "id-2" {
		t.Errorf("Expected generated ids id-1/id-2, got %q/%q", rule.ID, v.ID)
	}
	if rule.RuleID != "RL-id-1" {
		t.Errorf("RuleID = %q, want RL-id-1", rule.RuleID)
	}

	all := f.persisted(t)
	if len(all) != 4 || all[0].ID != rule.ID {
		t.Fatalf("Expected the new rule prepended and persisted, got %d rules", len(all))
	}
	if got := f.audit.actions(); !reflect.DeepEqual(got, []string{ActionCreated}) {
		t.Errorf("Audit actions = %v", got)
	}
}

func TestRepository_CreateKeepsSuppliedFields(t *testing.T) {
	f := newRepoFixture(t)

	rule, err := f.repo.Create(context.Background(), RuleInput{
		RuleIDAlias: ptr("RL-500"),
		Owner:       ptr("Dana"),
		Status:      ptr(StatusTesting),
		Tags:        []string{"card"},
		Logic:       &Logic{Groups: []ConditionGroup{{ID: "g1", Connector: "AND", Conditions: []Condition{}}}},
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if rule.RuleID != "RL-500" || rule.OwnerName != "Dana" || rule.Status != StatusTesting {
		t.Errorf("Supplied fields were not kept: %+v", rule)
	}
	if rule.Versions[0].IsDraft {
		t.Error("Genesis of a non-draft rule should not be a draft version")
	}
	if len(rule.Versions[0].LogicSnapshot.Groups) != 1 {
		t.Errorf("Expected the genesis snapshot to carry the logic, got %+v", rule.Versions[0].LogicSnapshot)
	}
}

func TestRepository_GetByIDOrRuleID(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	for _, key := range []string{"101", "RL-100"} {
		rule, err := f.repo.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", key, err)
		}
		if rule.ID != "101" {
			t.Errorf("Get(%q) returned %q", key, rule.ID)
		}
	}

	_, err := f.repo.Get(ctx, "missing-id")
	if !IsNotFound(err) {
		t.Fatalf("Expected NotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "rule" || nf.Key != "missing-id" {
		t.Errorf("Unexpected error detail: %#v", err)
	}
	if err.Error() != "rule missing-id not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRepository_UpdatePatch(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	before, _ := f.repo.Get(ctx, "101")
	rule, err := f.repo.Update(ctx, "101", RuleInput{
		ID:          ptr(FlexString("hijack")),
		Description: ptr("updated"),
		Versions:    []VersionInput{{Version: ptr("v9.9")}},
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if rule.ID != "101" {
		t.Errorf("Update must not change id, got %q", rule.ID)
	}
	if rule.Description != "updated" || rule.Name != before.Name || rule.Severity != before.Severity {
		t.Errorf("Expected only description patched: %+v", rule)
	}
	if !reflect.DeepEqual(rule.Versions, before.Versions) {
		t.Errorf("Update must not rewrite versions:\nbefore: %+v\nafter:  %+v", before.Versions, rule.Versions)
	}
	if !rule.LastUpdated.Equal(fixedNow) {
		t.Errorf("LastUpdated = %v, want %v", rule.LastUpdated, fixedNow)
	}

	// Update matches only by id
	if _, err := f.repo.Update(ctx, "RL-100", RuleInput{Name: ptr("x")}); !IsNotFound(err) {
		t.Errorf("Expected NotFound when updating by ruleId, got %v", err)
	}
}

func TestRepository_Delete(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	if err := f.repo.Delete(ctx, "102"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := f.repo.Get(ctx, "102"); !IsNotFound(err) {
		t.Errorf("Expected deleted rule to be gone, got %v", err)
	}
	if len(f.persisted(t)) != 2 {
		t.Errorf("Expected deletion persisted")
	}

	if err := f.repo.Delete(ctx, "does-not-exist"); err != nil {
		t.Errorf("Deleting a missing rule should be a no-op, got %v", err)
	}
	if got := f.audit.actions(); !reflect.DeepEqual(got, []string{ActionDeleted}) {
		t.Errorf("Expected one delete audit entry, got %v", got)
	}
}

func TestRepository_SetStatus(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	rule, err := f.repo.SetStatus(ctx, "102", StatusTesting)
	if err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}
	if rule.Status != StatusTesting || !rule.LastUpdated.Equal(fixedNow) {
		t.Errorf("Unexpected rule after SetStatus: %+v", rule)
	}
	if f.persisted(t)[1].Status != StatusTesting {
		t.Error("Status change was not persisted")
	}

	if _, err := f.repo.SetStatus(ctx, "missing", StatusActive); !IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}

	f.audit.mu.Lock()
	meta := f.audit.events[0].Metadata
	f.audit.mu.Unlock()
	if meta["from"] != "draft" || meta["to"] != "testing" {
		t.Errorf("Unexpected status change metadata: %v", meta)
	}
}

func TestRepository_ListVersions(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	for _, key := range []string{"101", "RL-100"} {
		versions, err := f.repo.ListVersions(ctx, key)
		if err != nil {
			t.Fatalf("ListVersions(%q) failed: %v", key, err)
		}
		if len(versions) != 2 || versions[0].Version != "v2.0" || versions[1].Version != "v1.0" {
			t.Errorf("ListVersions(%q) = %+v", key, versions)
		}
	}

	versions, err := f.repo.ListVersions(ctx, "unknown")
	if err != nil {
		t.Fatalf("ListVersions(unknown) should not fail, got %v", err)
	}
	if versions == nil || len(versions) != 0 {
		t.Errorf("Expected empty non-nil list, got %#v", versions)
	}
}

func TestRepository_UpdateVersionNotes(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	version, err := f.repo.UpdateVersionNotes(ctx, "101-1", "rolled back")
	if err != nil {
		t.Fatalf("UpdateVersionNotes() failed: %v", err)
	}
	if version.Notes != "rolled back" || version.Version != "v1.0" || version.IsActive {
		t.Errorf("Only notes should change: %+v", version)
	}

	rule, _ := f.repo.Get(ctx, "101")
	if rule.Versions[1].Notes != "rolled back" || rule.CurrentVersion != "v2.0" {
		t.Errorf("Unexpected rule after notes update: %+v", rule.Versions)
	}

	_, err = f.repo.UpdateVersionNotes(ctx, "nope", "x")
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "version" {
		t.Errorf("Expected version NotFound, got %v", err)
	}
}

func TestRepository_Clone(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	source, _ := f.repo.Get(ctx, "RL-100")
	clone, err := f.repo.Clone(ctx, "RL-100")
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}

	if clone.RuleID != "RL-100-CLONE" || clone.Name != source.Name+" (Clone)" {
		t.Errorf("Unexpected clone identity: %q / %q", clone.RuleID, clone.Name)
	}
	if clone.ID == source.ID {
		t.Error("Clone must get a fresh id")
	}
	if !reflect.DeepEqual(clone.Versions, source.Versions) {
		t.Errorf("Clone must copy version history:\nsource: %+v\nclone:  %+v", source.Versions, clone.Versions)
	}
	if clone.Status != source.Status || clone.CurrentVersion != source.CurrentVersion {
		t.Errorf("Clone must copy status and current version")
	}

	all, _ := f.repo.List(ctx)
	if all[0].ID != clone.ID || len(all) != 4 {
		t.Errorf("Expected clone prepended, got first=%q len=%d", all[0].ID, len(all))
	}

	if _, err := f.repo.Clone(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestRepository_ReturnsCopies(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	rule, _ := f.repo.Get(ctx, "101")
	rule.Versions[0].Notes = "tampered"
	rule.Tags = append(rule.Tags, "tampered")

	again, _ := f.repo.Get(ctx, "101")
	if again.Versions[0].Notes == "tampered" || len(again.Tags) != len(rule.Tags)-1 {
		t.Error("Mutating a returned rule changed repository state")
	}
}

func TestRepository_ConcurrentCreates(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.repo.Create(ctx, RuleInput{Name: ptr(fmt.Sprintf("rule %d", i))}); err != nil {
				t.Errorf("Create() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(f.persisted(t)); got != 3+n {
		t.Errorf("Expected %d rules after concurrent creates, got %d", 3+n, got)
	}
}

func TestRepository_CommitSurvivesCancellation(t *testing.T) {
	f := newRepoFixture(t)
	if _, err := f.repo.List(context.Background()); err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.repo.Create(ctx, RuleInput{Name: ptr("late")}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if len(f.persisted(t)) != 4 {
		t.Error("Expected the write to be persisted despite the cancelled context")
	}
}

func TestRepository_OperationMetrics(t *testing.T) {
	f := newRepoFixture(t)
	ctx := context.Background()

	f.repo.Get(ctx, "101")
	f.repo.Get(ctx, "missing")

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	got := f.metrics.observed["get"]
	if len(got) != 2 || got[0] != nil || !IsNotFound(got[1]) {
		t.Errorf("Unexpected observed get results: %v", got)
	}
}
