// Package changefeed turns the row store's raw change channel into typed
// events and fans them out to the watchers whose scope they apply to.
package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Event is a normalized row change.
type Event struct {
	Op         types.Op
	Table      string
	New        types.Row // nil for deletes
	Old        types.Row // may carry only the primary key
	CommitTime time.Time

	// OutOfScope is set on updates whose new row belongs to the watcher's
	// owner but no longer satisfies its secondary filters. Watchers drop
	// the row if they hold it.
	OutOfScope bool
}

// ID returns the id of the changed row.
func (e Event) ID() string {
	if e.Op != types.OpDelete {
		if id := e.New.ID(); id != "" {
			return id
		}
	}
	return e.Old.ID()
}

// Row returns the row the event describes: New, or Old for deletes.
func (e Event) Row() types.Row {
	if e.Op == types.OpDelete || e.New == nil {
		return e.Old
	}
	return e.New
}

// Normalize converts a raw change into an Event.
func Normalize(rc types.RawChange) (Event, error) {
	op, err := types.ParseOp(rc.Type)
	if err != nil {
		return Event{}, err
	}
	ev := Event{Op: op, Table: rc.Table, CommitTime: rc.CommitTimestamp}
	if ev.New, err = decodeRow(rc.New); err != nil {
		return Event{}, fmt.Errorf("decoding new row: %w", err)
	}
	if ev.Old, err = decodeRow(rc.Old); err != nil {
		return Event{}, fmt.Errorf("decoding old row: %w", err)
	}
	if ev.ID() == "" {
		return Event{}, fmt.Errorf("%w: change on %s carries no id", types.ErrInvalidID, rc.Table)
	}
	return ev, nil
}

func decodeRow(raw json.RawMessage) (types.Row, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var row types.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	return row, nil
}

// Scope is the part of a table one watcher cares about.
type Scope struct {
	Table string

	// OwnerColumn and UserID restrict events to rows owned by one user.
	// Either empty disables owner scoping.
	OwnerColumn string
	UserID      string

	// Filters are the watcher's secondary filters, ANDed.
	Filters []types.Filter

	// Ops selects the change kinds delivered; zero means all.
	Ops types.Op
}

// Verdict is the outcome of matching an event against a scope.
type Verdict int

const (
	// Skip means the event does not concern the watcher.
	Skip Verdict = iota
	// Apply means the event applies as is.
	Apply
	// Evict means the row left the watcher's view and should be removed.
	Evict
)

func (v Verdict) String() string {
	switch v {
	case Apply:
		return "apply"
	case Evict:
		return "evict"
	default:
		return "skip"
	}
}

// Match decides what a watcher with this scope does with e. Deletes are
// owner-checked only when the old row carries the owner column, since a
// delete may identify the row by primary key alone.
func (s Scope) Match(e Event) Verdict {
	if e.Table != s.Table {
		return Skip
	}
	if s.Ops != 0 && s.Ops&e.Op == 0 {
		return Skip
	}
	row := e.Row()
	if s.OwnerColumn != "" && s.UserID != "" {
		if _, has := row[s.OwnerColumn]; has || e.Op != types.OpDelete {
			if owner, _ := row.String(s.OwnerColumn); owner != s.UserID {
				return Skip
			}
		}
	}
	if e.Op == types.OpDelete {
		return Apply
	}
	for _, f := range s.Filters {
		if !f.Matches(row) {
			if e.Op == types.OpUpdate {
				return Evict
			}
			return Skip
		}
	}
	return Apply
}
