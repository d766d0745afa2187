package types

import "time"

// Document statuses. A document moves requested → received → reviewed.
const (
	DocumentStatusRequested = "requested"
	DocumentStatusReceived  = "received"
	DocumentStatusReviewed  = "reviewed"
)

// Document is a file collected from a client (W-2, 1099, receipts, ...).
type Document struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ClientID    string    `json:"client_id,omitempty"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	Status      string    `json:"status,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	Size        int64     `json:"size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetID implements Record.
func (d Document) GetID() string { return d.ID }

// Receive marks a requested document as received.
// Returns ErrInvalidTransition from any other status.
func (d *Document) Receive() error {
	if d.Status != "" && d.Status != DocumentStatusRequested {
		return ErrInvalidTransition
	}
	d.Status = DocumentStatusReceived
	d.UpdatedAt = time.Now()
	return nil
}

// Review marks a received document as reviewed.
// Returns ErrInvalidTransition unless the document was received.
func (d *Document) Review() error {
	if d.Status != DocumentStatusReceived {
		return ErrInvalidTransition
	}
	d.Status = DocumentStatusReviewed
	d.UpdatedAt = time.Now()
	return nil
}
