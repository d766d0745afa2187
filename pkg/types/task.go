package types

import "time"

// Task statuses.
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
)

var validTaskStatuses = map[string]bool{
	TaskStatusTodo:       true,
	TaskStatusInProgress: true,
	TaskStatusDone:       true,
}

// Task is a unit of work on a client engagement.
type Task struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	ClientID  string     `json:"client_id,omitempty"`
	Title     string     `json:"title"`
	Status    string     `json:"status,omitempty"`
	Priority  int        `json:"priority,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GetID implements Record.
func (t Task) GetID() string { return t.ID }

// SetStatus sets the task status. Returns ErrInvalidStatus if the status is
// not recognized. Idempotent.
func (t *Task) SetStatus(status string) error {
	if !validTaskStatuses[status] {
		return ErrInvalidStatus
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

// Overdue reports whether the task has a due date before now and is not done.
func (t Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.Status != TaskStatusDone && t.DueDate.Before(now)
}
