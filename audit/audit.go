// Package audit keeps a bounded trail of rule mutations and renders filtered
// views of it, including a CSV export.
package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/liamcoop/fraudrules/analytics"
	"github.com/liamcoop/fraudrules/rules"
)

// DefaultCapacity bounds the trail when no capacity is configured
const DefaultCapacity = 1000

// Entry is one audit record
type Entry struct {
	ID          int64          `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	ActorEmail  string         `json:"actor_email"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	EntityLabel string         `json:"entity_label"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Filters selects entries. Empty fields do not constrain; the date bounds are inclusive.
type Filters struct {
	Page       int
	Limit      int
	Action     string
	EntityType string
	ActorEmail string
	EntityID   string
	DateFrom   time.Time
	DateTo     time.Time
}

// Log is a bounded in-memory audit trail. When full, the oldest entry is dropped.
// Log implements rules.AuditRecorder.
type Log struct {
	entries  []Entry
	capacity int
	nextID   int64
	now      func() time.Time
	mu       sync.RWMutex
}

var _ rules.AuditRecorder = (*Log)(nil)

// NewLog creates an audit trail holding at most capacity entries
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// Record appends an entry for event
func (l *Log) Record(ctx context.Context, event rules.AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry := Entry{
		ID:          l.nextID,
		CreatedAt:   l.now().UTC(),
		ActorEmail:  event.Actor,
		Action:      event.Action,
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		EntityLabel: event.EntityLabel,
		Metadata:    copyMetadata(event.Metadata),
	}

	if len(l.entries) >= l.capacity {
		l.entries = append(l.entries[:0], l.entries[1:]...)
	}
	l.entries = append(l.entries, entry)
}

// List returns one page of the entries matching f, newest first
func (l *Log) List(f Filters) analytics.Page[Entry] {
	l.mu.RLock()
	matched := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if f.matches(e) {
			e.Metadata = copyMetadata(e.Metadata)
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	return analytics.Paginate(matched, f.Page, f.Limit)
}

// CSVHeader is the first row of every export
var CSVHeader = []string{"id", "created_at", "actor_email", "action", "entity_type", "entity_id", "entity_label"}

// WriteCSV renders the page selected by f as comma-separated text
func (l *Log) WriteCSV(w io.Writer, f Filters) error {
	page := l.List(f)

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range page.Items {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Format(time.RFC3339),
			e.ActorEmail,
			e.Action,
			e.EntityType,
			e.EntityID,
			e.EntityLabel,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (f Filters) matches(e Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.ActorEmail != "" && e.ActorEmail != f.ActorEmail {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.DateFrom.IsZero() && e.CreatedAt.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && e.CreatedAt.After(f.DateTo) {
		return false
	}
	return true
}

func copyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
