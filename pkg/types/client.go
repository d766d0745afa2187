package types

import "time"

// Client statuses.
const (
	ClientStatusProspect = "prospect"
	ClientStatusActive   = "active"
	ClientStatusArchived = "archived"
)

var validClientStatuses = map[string]bool{
	ClientStatusProspect: true,
	ClientStatusActive:   true,
	ClientStatusArchived: true,
}

// Client is a customer of the practice.
type Client struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Status    string    `json:"status,omitempty"`
	TaxYear   int       `json:"tax_year,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetID implements Record.
func (c Client) GetID() string { return c.ID }

// SetStatus sets the client status. Returns ErrInvalidStatus if the status is
// not recognized. Idempotent.
func (c *Client) SetStatus(status string) error {
	if !validClientStatuses[status] {
		return ErrInvalidStatus
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// Validate checks the fields the row store requires on insert.
func (c Client) Validate() error {
	if c.Name == "" {
		return ErrInvalidName
	}
	if c.Status != "" && !validClientStatuses[c.Status] {
		return ErrInvalidStatus
	}
	return nil
}
