package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/log"
	"go-hotspot/store"
)

type Handler func(ctx context.Context, job *db.Job) error

// Alerter escalates jobs that failed for good.
type Alerter interface {
	Critical(ctx context.Context, tenant, source, subject, format string, args ...any) error
}

type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
}

// Pool runs handlers for queued jobs on a fixed number of workers.
type Pool struct {
	tomb     tomb.Tomb
	cfg      PoolConfig
	queue    *Queue
	store    *store.Store
	clock    clock.Clock
	alerts   Alerter
	logger   *log.Logger
	owner    string
	handlers map[Kind]Handler
}

func NewPool(cfg PoolConfig, q *Queue, alerts Alerter, logger *log.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		store:    q.store,
		clock:    q.clock,
		alerts:   alerts,
		logger:   logger.Named("jobs"),
		owner:    uuid.NewString(),
		handlers: make(map[Kind]Handler),
	}
}

// Handle registers h for kind. Must be called before Start.
func (p *Pool) Handle(kind Kind, h Handler) {
	p.handlers[kind] = h
}

func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		p.tomb.Go(func() error { return p.work(id) })
	}
}

func (p *Pool) Kill() {
	p.tomb.Kill(nil)
}

func (p *Pool) Wait() error {
	return p.tomb.Wait()
}

func (p *Pool) work(id int) error {
	ctx := p.tomb.Context(context.Background())
	for {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Errorw("job worker error", "worker", id, "err", err)
		}
		if processed {
			select {
			case <-p.tomb.Dying():
				return nil
			default:
				continue
			}
		}
		select {
		case <-p.tomb.Dying():
			return nil
		case <-p.clock.After(p.cfg.PollInterval):
		}
	}
}

// Drain processes due jobs until none are left or max jobs ran.
func (p *Pool) Drain(ctx context.Context, max int) (int, error) {
	n := 0
	for max <= 0 || n < max {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			break
		}
		n++
	}
	return n, nil
}

// RunOnce claims one due job and runs it. It reports whether a job was
// processed; handler failures are recorded on the job, not returned.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	now := p.clock.Now().UTC()
	job, err := p.store.ClaimJob(ctx, now, p.queue.policy.Lease, p.owner)
	if err != nil {
		return false, errors.Annotate(err, "claiming job")
	}
	if job == nil {
		return false, nil
	}

	runErr := p.run(ctx, job, now)
	return true, p.finish(ctx, job, runErr)
}

func (p *Pool) run(ctx context.Context, job *db.Job, now time.Time) (err error) {
	h, ok := p.handlers[Kind(job.Kind)]
	if !ok {
		return core.Configurationf("no handler for job kind %q", job.Kind)
	}

	timeout := p.queue.policy.Lease
	if left := job.Deadline.Sub(now); left < timeout {
		timeout = left
	}
	if timeout <= 0 {
		return errors.Errorf("job %s passed its deadline", job.UniqueKey)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job handler panicked: %v", r)
		}
	}()
	return h(runCtx, job)
}

func (p *Pool) finish(ctx context.Context, job *db.Job, runErr error) error {
	now := p.clock.Now().UTC()
	job.LockedUntil = nil
	job.LockedBy = ""

	if runErr == nil {
		job.Status = db.JobDone
		job.LastError = ""
		job.FinishedAt = &now
		p.logger.Debugw("job done", "job", job.UniqueKey, "attempt", job.Attempts)
		return errors.Trace(p.store.SaveJob(ctx, job))
	}

	job.LastError = truncate(runErr.Error(), 1024)
	next := now.Add(p.queue.policy.Backoff(job.Attempts))
	retryable := !core.Permanent(runErr) && job.Attempts < job.MaxAttempts && next.Before(job.Deadline)
	if retryable {
		job.Status = db.JobQueued
		job.RunAt = next
		p.logger.Warnw("job failed, will retry", "job", job.UniqueKey, "attempt", job.Attempts,
			"next_run", next, "err", runErr)
		return errors.Trace(p.store.SaveJob(ctx, job))
	}

	job.Status = db.JobFailed
	job.FinishedAt = &now
	if err := p.store.SaveJob(ctx, job); err != nil {
		return errors.Trace(err)
	}
	p.logger.Errorw("job failed permanently", "job", job.UniqueKey, "attempts", job.Attempts, "err", runErr)
	if p.alerts != nil {
		subject := fmt.Sprintf("%s job for %d failed", job.Kind, job.RefID)
		if err := p.alerts.Critical(ctx, job.TenantID, "jobs", subject,
			"job %s gave up after %d attempt(s): %v", job.UniqueKey, job.Attempts, runErr); err != nil {
			return errors.Annotate(err, "raising alert")
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
