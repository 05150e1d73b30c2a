package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/portalflow/internal/domain"
)

var (
	// ErrEmptySubmission is returned when no identifiers were supplied.
	ErrEmptySubmission = errors.New("no identifiers provided")
	// ErrNoValidIdentifiers is returned when nothing survives normalization.
	ErrNoValidIdentifiers = errors.New("no valid identifiers after normalization")
	ErrQueueFull          = errors.New("task queue is full")
	ErrNotFound           = errors.New("task not found")
	ErrCancelled          = errors.New("task cancelled")
)

const defaultUserID = "anonymous"

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptySubmission) || errors.Is(err, ErrNoValidIdentifiers)
}

type entry struct {
	mu   sync.Mutex
	task domain.Task
}

// Registry owns every task and the FIFO queue of pending task ids.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*entry
	order    []string
	attempts map[string]int
	queue    chan string
	now      func() time.Time
}

// New creates a registry whose queue holds at most capacity pending tasks.
func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{
		tasks:    make(map[string]*entry),
		attempts: make(map[string]int),
		queue:    make(chan string, capacity),
		now:      time.Now,
	}
}

// Submit validates raw identifiers, creates a pending task and enqueues it.
// Rejected identifiers are returned so callers can report them.
func (r *Registry) Submit(userID string, raw []string) (string, []string, error) {
	if len(raw) == 0 {
		return "", nil, ErrEmptySubmission
	}
	valid, rejected := domain.NormalizeIdentifiers(raw)
	if len(valid) == 0 {
		return "", rejected, ErrNoValidIdentifiers
	}
	if userID == "" {
		userID = defaultUserID
	}

	e := &entry{task: domain.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Identifiers: valid,
		Status:      domain.TaskStatusPending,
		Results:     []domain.ItemResult{},
		CreatedAt:   r.now(),
	}}
	id := e.task.ID

	// Holding the write lock across the send keeps queue order equal to list order.
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case r.queue <- id:
	default:
		return "", rejected, ErrQueueFull
	}
	r.tasks[id] = e
	r.order = append(r.order, id)
	return id, rejected, nil
}

// Get returns a deep copy of the task.
func (r *Registry) Get(id string) (domain.Task, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// Cancel moves a pending or processing task to cancelled.
// Cancelling a terminal task is a no-op.
func (r *Registry) Cancel(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.task.Status {
	case domain.TaskStatusPending:
		e.task.Status = domain.TaskStatusCancelled
		now := r.now()
		e.task.CompletedAt = &now
	case domain.TaskStatusProcessing:
		// The executor stamps completion when it observes the flag.
		e.task.Status = domain.TaskStatusCancelled
	}
	return nil
}

// List returns all task ids in submission order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of known tasks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// QueueDepth returns the number of tasks waiting to be picked up.
func (r *Registry) QueueDepth() int {
	return len(r.queue)
}

// Dequeue waits up to wait for the next task id.
// ok is false when nothing arrived or ctx was cancelled.
func (r *Registry) Dequeue(ctx context.Context, wait time.Duration) (string, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case id := <-r.queue:
		return id, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// Begin moves a pending task to processing.
func (r *Registry) Begin(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status != domain.TaskStatusPending {
		if e.task.Status == domain.TaskStatusCancelled {
			return ErrCancelled
		}
		return fmt.Errorf("task %s is %s, not pending", id, e.task.Status)
	}
	now := r.now()
	e.task.Status = domain.TaskStatusProcessing
	e.task.StartedAt = &now
	return nil
}

// IsCancelled reports whether cancellation was requested for the task.
func (r *Registry) IsCancelled(id string) bool {
	e, err := r.lookup(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Status == domain.TaskStatusCancelled
}

// AppendResult records an item outcome and refreshes the task counters.
// The returned copy carries the stamped attempt number.
func (r *Registry) AppendResult(id string, res domain.ItemResult) (domain.ItemResult, error) {
	e, err := r.lookup(id)
	if err != nil {
		return res, err
	}

	r.mu.Lock()
	r.attempts[res.Identifier]++
	res.Attempt = r.attempts[res.Identifier]
	r.mu.Unlock()

	res.TaskID = id
	if res.Timestamp.IsZero() {
		res.Timestamp = r.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.task.Results = append(e.task.Results, res.Clone())
	e.task.RecountProgress()
	return res, nil
}

// Finish moves the task to a terminal status and stamps completion.
// A cancelled task stays cancelled and a terminal task never moves.
func (r *Registry) Finish(id string, status domain.TaskStatus, errMsg string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.task.Status == domain.TaskStatusCancelled:
		if e.task.CompletedAt == nil {
			now := r.now()
			e.task.CompletedAt = &now
		}
		return nil
	case e.task.Status.IsTerminal():
		return nil
	}

	now := r.now()
	e.task.Status = status
	e.task.CompletedAt = &now
	if errMsg != "" {
		e.task.Error = errMsg
	}
	if status == domain.TaskStatusCompleted {
		e.task.Progress = 100
	}
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
