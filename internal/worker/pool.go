package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/timmy/portalflow/internal/browser"
	"github.com/timmy/portalflow/internal/domain"
	"github.com/timmy/portalflow/internal/logger"
	"github.com/timmy/portalflow/internal/registry"
	"golang.org/x/sync/errgroup"
)

// ItemRunner processes one identifier on an open browser session.
type ItemRunner interface {
	Run(ctx context.Context, d browser.Driver, identifier string) domain.ItemResult
}

// Recorder receives every item result once it is stored on its task.
type Recorder interface {
	Record(ctx context.Context, r domain.ItemResult) error
}

// PoolConfig holds configuration for the executor pool
type PoolConfig struct {
	Workers        int
	PollWait       time.Duration
	InterItemDelay time.Duration
	LoginURL       string
}

// Pool runs a fixed number of executors over the registry queue.
type Pool struct {
	registry *registry.Registry
	launcher browser.Launcher
	runner   ItemRunner
	recorder Recorder
	logger   *logger.Logger
	cfg      PoolConfig
	active   atomic.Int32
}

// NewPool creates a new executor pool.
// Parameters:
//   - reg: task registry the executors dequeue from and report to.
//   - launcher: opens one browser session per task.
//   - runner: per-identifier workflow.
//   - recorder: optional sink for item results; may be nil.
//   - log: base logger.
//   - cfg: pool sizing and pacing.
//
// Returns:
//   - *Pool: pool ready to Run.
func NewPool(
	reg *registry.Registry,
	launcher browser.Launcher,
	runner ItemRunner,
	recorder Recorder,
	log *logger.Logger,
	cfg *PoolConfig,
) *Pool {
	c := *cfg
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.PollWait <= 0 {
		c.PollWait = 5 * time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Pool{
		registry: reg,
		launcher: launcher,
		runner:   runner,
		recorder: recorder,
		logger:   log,
		cfg:      c,
	}
}

// Size returns the configured number of executors.
func (p *Pool) Size() int {
	return p.cfg.Workers
}

// Active returns the number of executors currently processing a task.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Run starts the executors and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	ctx = p.logger.WithField(logger.FieldComponent, "worker").WithContext(ctx)
	logger.CtxInfo(ctx, "Starting %d executors", p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			p.executor(logger.WithField(gctx, logger.FieldWorkerID, workerID))
			return nil
		})
	}
	err := g.Wait()
	logger.CtxInfo(ctx, "All executors stopped")
	return err
}

func (p *Pool) executor(ctx context.Context) {
	for ctx.Err() == nil {
		id, ok := p.registry.Dequeue(ctx, p.cfg.PollWait)
		if !ok {
			continue
		}
		p.process(logger.SetTaskID(ctx, id), id)
	}
}

// process runs one task to a terminal state. Failures outside item
// boundaries fail the task but never stop the executor.
func (p *Pool) process(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Task aborted by panic: %v", r)
			_ = p.registry.Finish(id, domain.TaskStatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if p.registry.IsCancelled(id) {
		logger.CtxInfo(ctx, "Discarding cancelled task")
		_ = p.registry.Finish(id, domain.TaskStatusCancelled, "")
		return
	}
	if err := p.registry.Begin(id); err != nil {
		if !errors.Is(err, registry.ErrCancelled) {
			logger.CtxError(ctx, "Failed to start task: %v", err)
		}
		return
	}
	p.active.Add(1)
	defer p.active.Add(-1)

	task, err := p.registry.Get(id)
	if err != nil {
		logger.CtxError(ctx, "Task vanished: %v", err)
		return
	}
	ctx = logger.WithField(ctx, logger.FieldUserID, task.UserID)
	start := time.Now()
	logger.With(logger.Fields{logger.FieldCount: len(task.Identifiers)}).Info(ctx, "Task started")

	session, err := p.openSession(ctx)
	if err != nil {
		logger.CtxError(ctx, "Failed to open browser session: %v", err)
		_ = p.registry.Finish(id, domain.TaskStatusFailed, err.Error())
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.CtxWarn(ctx, "Failed to close browser session: %v", err)
		}
	}()

	for i, identifier := range task.Identifiers {
		if p.stopRequested(ctx, id) {
			break
		}
		if i > 0 {
			if err := sleep(ctx, p.cfg.InterItemDelay); err != nil {
				break
			}
			if p.stopRequested(ctx, id) {
				break
			}
		}

		res := p.runItem(ctx, session, identifier)
		stored, err := p.registry.AppendResult(id, res)
		if err != nil {
			logger.CtxError(ctx, "Failed to store result: %v", err)
			continue
		}
		if p.recorder != nil {
			if err := p.recorder.Record(ctx, stored); err != nil {
				logger.CtxWarn(ctx, "Failed to record result: %v", err)
			}
		}
	}

	status, msg := domain.TaskStatusCompleted, ""
	switch {
	case p.registry.IsCancelled(id):
		status = domain.TaskStatusCancelled
	case ctx.Err() != nil:
		status, msg = domain.TaskStatusFailed, "interrupted by shutdown"
	}
	_ = p.registry.Finish(id, status, msg)

	final, _ := p.registry.Get(id)
	logger.With(logger.Fields{
		logger.FieldStatus: string(final.Status),
		logger.FieldCount:  final.Processed,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Task finished: %d succeeded, %d failed", final.Succeeded, final.Failed)
}

func (p *Pool) stopRequested(ctx context.Context, id string) bool {
	return ctx.Err() != nil || p.registry.IsCancelled(id)
}

func (p *Pool) openSession(ctx context.Context) (browser.Driver, error) {
	session, err := p.launcher.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if p.cfg.LoginURL == "" {
		return session, nil
	}
	if err := session.Navigate(ctx, p.cfg.LoginURL); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	return session, nil
}

// runItem contains panics to the item they happened in.
func (p *Pool) runItem(ctx context.Context, d browser.Driver, identifier string) (res domain.ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(logger.WithField(ctx, logger.FieldIdentifier, identifier), "Item panicked: %v", r)
			res = domain.ItemResult{
				Identifier: identifier,
				Status:     domain.ItemStatusError,
				Detail:     fmt.Sprintf("panic: %v", r),
				Timestamp:  time.Now(),
			}
		}
	}()
	return p.runner.Run(ctx, d, identifier)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
