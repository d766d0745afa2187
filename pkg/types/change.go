package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Op is the kind of row change. The values are bit flags so that a watcher
// can ask for a combination of them.
type Op int

const (
	// OpInsert is a new row.
	OpInsert Op = 1 << iota
	// OpUpdate is a change to an existing row.
	OpUpdate
	// OpDelete is a removed row.
	OpDelete
	// OpAll matches any change.
	OpAll = OpInsert | OpUpdate | OpDelete
)

// Wire names of the change types, as the change channel delivers them.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return ChangeInsert
	case OpUpdate:
		return ChangeUpdate
	case OpDelete:
		return ChangeDelete
	case OpAll:
		return "ALL"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// ParseOp converts a wire change type (case-insensitive) into an Op.
func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(s) {
	case ChangeInsert:
		return OpInsert, nil
	case ChangeUpdate:
		return OpUpdate, nil
	case ChangeDelete:
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOp, s)
	}
}

// RawChange is one row-level change notification exactly as the change
// channel delivers it. New is absent for deletes; Old may carry only the
// primary key.
type RawChange struct {
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewRawChange builds a RawChange from decoded rows. A nil row is omitted.
func NewRawChange(table string, op Op, newRow, oldRow Row, at time.Time) (RawChange, error) {
	rc := RawChange{Table: table, Type: op.String(), CommitTimestamp: at}
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			return rc, fmt.Errorf("encoding new row: %w", err)
		}
		rc.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			return rc, fmt.Errorf("encoding old row: %w", err)
		}
		rc.Old = b
	}
	return rc, nil
}

// ChannelStatus is a transition of the change channel's connection.
type ChannelStatus int

const (
	// StatusConnected is reported once, when the first connection is up.
	StatusConnected ChannelStatus = iota
	// StatusDisconnected is reported when the connection drops. Changes
	// committed while disconnected are not replayed.
	StatusDisconnected
	// StatusReconnected is reported when a dropped connection is back.
	StatusReconnected
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnected:
		return "reconnected"
	default:
		return fmt.Sprintf("ChannelStatus(%d)", int(s))
	}
}

// ChannelHandlers receives the notifications of one table subscription.
// Nil handlers are skipped.
type ChannelHandlers struct {
	OnInsert func(RawChange)
	OnUpdate func(RawChange)
	OnDelete func(RawChange)
	OnStatus func(ChannelStatus)
}

// Dispatch routes rc to the handler matching its type.
func (h ChannelHandlers) Dispatch(rc RawChange) {
	op, err := ParseOp(rc.Type)
	if err != nil {
		return
	}
	var fn func(RawChange)
	switch op {
	case OpInsert:
		fn = h.OnInsert
	case OpUpdate:
		fn = h.OnUpdate
	case OpDelete:
		fn = h.OnDelete
	}
	if fn != nil {
		fn(rc)
	}
}

// ChannelHandle identifies one subscription on a ChangeChannel.
type ChannelHandle struct {
	Table string
	ID    uint64
}

// ChangeChannel is the backend's per-row change feed. Delivery is
// at-least-once and ordered within one table subscription; there is no
// deduplication and no replay after a drop.
type ChangeChannel interface {
	// Subscribe registers handlers for changes on table.
	Subscribe(table string, handlers ChannelHandlers) (ChannelHandle, error)

	// Unsubscribe releases a subscription. Unknown handles are ignored.
	Unsubscribe(handle ChannelHandle) error
}
