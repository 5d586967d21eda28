package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"

	"go-hotspot/alert"
	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/events"
	"go-hotspot/log"
	"go-hotspot/store"
	"go-hotspot/store/storetest"
)

type poolFixture struct {
	clock *testclock.Clock
	store *store.Store
	queue *Queue
	pool  *Pool
	rec   *events.Recorder
}

func newPoolFixture(t *testing.T, policy Policy) *poolFixture {
	clk := storetest.NewClock()
	s := storetest.New(t, clk)
	rec := &events.Recorder{}
	q := NewQueue(s, clk, policy)
	alerts := alert.NewService(s, rec, log.Nop(), clk)
	return &poolFixture{
		clock: clk,
		store: s,
		queue: q,
		pool:  NewPool(PoolConfig{Workers: 1}, q, alerts, log.Nop()),
		rec:   rec,
	}
}

func (f *poolFixture) runOnce(t *testing.T) bool {
	t.Helper()
	processed, err := f.pool.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return processed
}

func (f *poolFixture) job(t *testing.T, kind Kind, ref uint) *db.Job {
	t.Helper()
	j, err := f.queue.Job(context.Background(), "t1", kind, ref)
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	return j
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, MaxDelay: 3 * time.Minute}
	want := []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 3 * time.Minute}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestJobSucceeds(t *testing.T) {
	f := newPoolFixture(t, DefaultPolicy())
	calls := 0
	f.pool.Handle(KindProvisionVoucher, func(ctx context.Context, job *db.Job) error {
		calls++
		if job.RefID != 9 || job.TenantID != "t1" {
			t.Errorf("unexpected job %+v", job)
		}
		return nil
	})

	if _, err := f.queue.Enqueue(context.Background(), "t1", KindProvisionVoucher, 9); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !f.runOnce(t) {
		t.Fatal("expected the job to run")
	}
	if f.runOnce(t) {
		t.Fatal("finished job ran again")
	}
	if j := f.job(t, KindProvisionVoucher, 9); j.Status != db.JobDone || calls != 1 {
		t.Errorf("status %s after %d calls", j.Status, calls)
	}
}

func TestJobRetriesThenFailsWithCriticalAlert(t *testing.T) {
	f := newPoolFixture(t, DefaultPolicy())
	calls := 0
	f.pool.Handle(KindReconcilePayment, func(context.Context, *db.Job) error {
		calls++
		return errors.WithType(errors.New("gateway timeout"), core.ErrConnectivity)
	})
	ctx := context.Background()
	if _, err := f.queue.Enqueue(ctx, "t1", KindReconcilePayment, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if !f.runOnce(t) {
		t.Fatal("first attempt did not run")
	}
	if j := f.job(t, KindReconcilePayment, 1); j.Status != db.JobQueued || j.Attempts != 1 {
		t.Fatalf("after first failure: %+v", j)
	}
	if f.runOnce(t) {
		t.Fatal("job retried before its backoff elapsed")
	}

	f.clock.Advance(time.Minute)
	if !f.runOnce(t) {
		t.Fatal("second attempt did not run")
	}
	f.clock.Advance(2 * time.Minute)
	if !f.runOnce(t) {
		t.Fatal("third attempt did not run")
	}

	j := f.job(t, KindReconcilePayment, 1)
	if j.Status != db.JobFailed || j.Attempts != 3 || calls != 3 {
		t.Fatalf("expected permanent failure after 3 attempts, got %+v (calls %d)", j, calls)
	}
	f.clock.Advance(time.Hour)
	if f.runOnce(t) {
		t.Error("failed job was picked up again")
	}

	alerts, err := f.store.Alerts(ctx, "t1")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != db.SeverityCritical {
		t.Errorf("expected one critical alert, got %+v", alerts)
	}
	if f.rec.Count(events.SystemAlert) != 1 {
		t.Errorf("expected SystemAlert event")
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	f := newPoolFixture(t, DefaultPolicy())
	f.pool.Handle(KindRevokeVoucher, func(context.Context, *db.Job) error {
		return core.Configurationf("device has no credentials")
	})
	if _, err := f.queue.Enqueue(context.Background(), "t1", KindRevokeVoucher, 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.runOnce(t)

	if j := f.job(t, KindRevokeVoucher, 3); j.Status != db.JobFailed || j.Attempts != 1 {
		t.Errorf("expected immediate failure, got %+v", j)
	}
}

func TestDeadlineCutsRetriesShort(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxAttempts = 10
	policy.Deadline = 90 * time.Second
	f := newPoolFixture(t, policy)
	f.pool.Handle(KindPollDevice, func(context.Context, *db.Job) error {
		return errors.WithType(errors.New("unreachable"), core.ErrConnectivity)
	})
	if _, err := f.queue.Enqueue(context.Background(), "t1", KindPollDevice, 5); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	f.runOnce(t)
	f.clock.Advance(time.Minute)
	f.runOnce(t)

	if j := f.job(t, KindPollDevice, 5); j.Status != db.JobFailed || j.Attempts != 2 {
		t.Errorf("expected failure at the deadline after 2 attempts, got %+v", j)
	}
}

func TestUnknownKindFails(t *testing.T) {
	f := newPoolFixture(t, DefaultPolicy())
	if _, err := f.queue.Enqueue(context.Background(), "t1", Kind("mystery"), 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.runOnce(t)
	if j := f.job(t, Kind("mystery"), 1); j.Status != db.JobFailed {
		t.Errorf("expected failed job, got %s", j.Status)
	}
}

func TestPoolWorkersDrainQueue(t *testing.T) {
	f := newPoolFixture(t, DefaultPolicy())
	done := make(chan uint, 3)
	f.pool.Handle(KindProvisionVoucher, func(_ context.Context, job *db.Job) error {
		done <- job.RefID
		return nil
	})
	for ref := uint(1); ref <= 3; ref++ {
		if _, err := f.queue.Enqueue(context.Background(), "t1", KindProvisionVoucher, ref); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	f.pool.Start()
	defer func() {
		f.pool.Kill()
		if err := f.pool.Wait(); err != nil {
			t.Errorf("pool stopped with error: %v", err)
		}
	}()

	seen := make(map[uint]bool)
	for len(seen) < 3 {
		select {
		case ref := <-done:
			seen[ref] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d jobs processed", len(seen))
		}
	}
}

func TestFailedJobCanBeScheduledAgain(t *testing.T) {
	f := newPoolFixture(t, DefaultPolicy())
	reachable := false
	calls := 0
	f.pool.Handle(KindRevokeVoucher, func(context.Context, *db.Job) error {
		calls++
		if !reachable {
			return core.Configurationf("device rejected credentials")
		}
		return nil
	})
	ctx := context.Background()
	if _, err := f.queue.Enqueue(ctx, "t1", KindRevokeVoucher, 8); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.runOnce(t)
	if j := f.job(t, KindRevokeVoucher, 8); j.Status != db.JobFailed {
		t.Fatalf("expected failure, got %s", j.Status)
	}

	reachable = true
	created, err := f.queue.Enqueue(ctx, "t1", KindRevokeVoucher, 8)
	if err != nil || !created {
		t.Fatalf("re-enqueue after failure: created=%v err=%v", created, err)
	}
	if !f.runOnce(t) {
		t.Fatal("requeued job did not run")
	}
	if j := f.job(t, KindRevokeVoucher, 8); j.Status != db.JobDone || j.Attempts != 1 || calls != 2 {
		t.Errorf("status %s attempts %d after %d calls", j.Status, j.Attempts, calls)
	}
}
