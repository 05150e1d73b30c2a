package domain

import "time"

// TaskStatus represents the lifecycle state of a submitted batch.
// Values include TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
// TaskStatusFailed, and TaskStatusCancelled.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is one submitted batch of identifiers with its aggregate progress.
type Task struct {
	ID          string       `json:"task_id"`
	UserID      string       `json:"user_id"`
	Identifiers []string     `json:"identifiers"`
	Status      TaskStatus   `json:"status"`
	Progress    int          `json:"progress"`
	Processed   int          `json:"processed"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Results     []ItemResult `json:"results"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Clone returns a deep copy that shares no slices or pointers with t.
func (t *Task) Clone() Task {
	c := *t
	c.Identifiers = append([]string(nil), t.Identifiers...)
	c.Results = make([]ItemResult, len(t.Results))
	for i := range t.Results {
		c.Results[i] = t.Results[i].Clone()
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// RecountProgress derives the counters from Results.
// SUCCESS counts as succeeded, every other outcome as failed.
func (t *Task) RecountProgress() {
	t.Processed = len(t.Results)
	t.Succeeded = 0
	for _, r := range t.Results {
		if r.Status == ItemStatusSuccess {
			t.Succeeded++
		}
	}
	t.Failed = t.Processed - t.Succeeded
	if n := len(t.Identifiers); n > 0 {
		t.Progress = t.Processed * 100 / n
	}
}
