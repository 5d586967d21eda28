// Package jobs is the background task queue. Jobs live in the database so
// workers in separate processes share them; a job is leased to one worker
// at a time and retried with backoff until it succeeds, runs out of
// attempts or passes its deadline.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"go-hotspot/db"
	"go-hotspot/store"
)

type Kind string

const (
	KindReconcilePayment Kind = "reconcile_payment"
	KindProvisionVoucher Kind = "provision_voucher"
	KindRevokeVoucher    Kind = "revoke_voucher"
	KindPollDevice       Kind = "poll_device"
)

// UniqueKey identifies the one job allowed per kind and subject.
func UniqueKey(kind Kind, tenant string, ref uint) string {
	return fmt.Sprintf("%s:%s:%d", kind, tenant, ref)
}

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Deadline is measured from enqueue time.
	Deadline time.Duration
	Lease    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    5 * time.Minute,
		Deadline:    10 * time.Minute,
		Lease:       2 * time.Minute,
	}
}

// Backoff returns the delay before the attempt following attempt n.
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

type Queue struct {
	store  *store.Store
	clock  clock.Clock
	policy Policy
}

func NewQueue(s *store.Store, clk clock.Clock, policy Policy) *Queue {
	return &Queue{store: s, clock: clk, policy: policy}
}

func (q *Queue) Policy() Policy {
	return q.policy
}

// Enqueue schedules a job unless one is already queued or running for the
// same kind and subject. A done or failed job is queued again with a fresh
// attempt budget. It reports whether a job was scheduled.
func (q *Queue) Enqueue(ctx context.Context, tenant string, kind Kind, ref uint) (bool, error) {
	return q.EnqueueTx(ctx, q.store, tenant, kind, ref)
}

// EnqueueTx is Enqueue inside the caller's transaction, so the job commits
// or rolls back with the state change that requires it.
func (q *Queue) EnqueueTx(ctx context.Context, tx *store.Store, tenant string, kind Kind, ref uint) (bool, error) {
	now := q.clock.Now().UTC()
	created, err := tx.EnqueueJob(ctx, &db.Job{
		TenantID:    tenant,
		Kind:        string(kind),
		RefID:       ref,
		UniqueKey:   UniqueKey(kind, tenant, ref),
		Status:      db.JobQueued,
		MaxAttempts: q.policy.MaxAttempts,
		RunAt:       now,
		Deadline:    now.Add(q.policy.Deadline),
	})
	return created, errors.Trace(err)
}

// Job looks a job up by its subject.
func (q *Queue) Job(ctx context.Context, tenant string, kind Kind, ref uint) (*db.Job, error) {
	return q.store.JobByKey(ctx, UniqueKey(kind, tenant, ref))
}
