package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/store"
	"go-hotspot/store/storetest"
)

func TestEnqueueJobDeduplicates(t *testing.T) {
	clk := storetest.NewClock()
	s := storetest.New(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		created, err := s.EnqueueJob(ctx, &db.Job{
			TenantID: "t1", Kind: "reconcile_payment", RefID: 7, UniqueKey: "reconcile_payment:t1:7",
			Status: db.JobQueued, MaxAttempts: 3, RunAt: clk.Now(), Deadline: clk.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		if created != (i == 0) {
			t.Errorf("enqueue %d: created = %v", i, created)
		}
	}
}

func TestClaimJobLeases(t *testing.T) {
	clk := storetest.NewClock()
	s := storetest.New(t, clk)
	ctx := context.Background()

	_, err := s.EnqueueJob(ctx, &db.Job{
		TenantID: "t1", Kind: "poll_device", RefID: 1, UniqueKey: "poll_device:t1:1",
		Status: db.JobQueued, MaxAttempts: 3, RunAt: clk.Now(), Deadline: clk.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j, err := s.ClaimJob(ctx, clk.Now(), time.Minute, "w1")
	if err != nil || j == nil {
		t.Fatalf("expected a job, got %v %v", j, err)
	}
	if j.Status != db.JobRunning || j.Attempts != 1 || j.LockedBy != "w1" {
		t.Errorf("unexpected claimed job: %+v", j)
	}

	if again, err := s.ClaimJob(ctx, clk.Now(), time.Minute, "w2"); err != nil || again != nil {
		t.Fatalf("leased job claimed twice: %v %v", again, err)
	}

	// lease expired: the job is handed out again
	clk.Advance(2 * time.Minute)
	again, err := s.ClaimJob(ctx, clk.Now(), time.Minute, "w2")
	if err != nil || again == nil {
		t.Fatalf("expected expired lease to be reclaimed, got %v %v", again, err)
	}
	if again.Attempts != 2 || again.LockedBy != "w2" {
		t.Errorf("unexpected reclaimed job: %+v", again)
	}
}

func TestDeleteVoucherDetachesDeviceUser(t *testing.T) {
	clk := storetest.NewClock()
	s := storetest.New(t, clk)
	ctx := context.Background()

	v := &db.Voucher{TenantID: "t1", Code: "HS-AAAA-BBBB", Password: "pw", ValidityHours: 1, Status: db.VoucherDisabled, PaymentID: 1}
	if err := s.CreateVoucher(ctx, v); err != nil {
		t.Fatalf("create voucher: %v", err)
	}
	d := &db.Device{TenantID: "t1", Name: "ap", Host: "10.0.0.1", Port: 80, Status: db.DeviceOffline}
	if err := s.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	u := &db.DeviceUser{TenantID: "t1", DeviceID: d.ID, Username: v.Code, VoucherID: &v.ID, Active: true}
	if err := s.CreateDeviceUser(ctx, u); err != nil {
		t.Fatalf("create device user: %v", err)
	}

	if err := s.DeleteVoucher(ctx, "t1", v.ID); err != nil {
		t.Fatalf("delete voucher: %v", err)
	}
	got, err := s.DeviceUserByName(ctx, "t1", d.ID, v.Code)
	if err != nil {
		t.Fatalf("device user should survive voucher deletion: %v", err)
	}
	if got.VoucherID != nil || got.Active {
		t.Errorf("expected detached inactive user, got %+v", got)
	}
	if _, err := s.GetVoucher(ctx, "t1", v.ID); !errors.Is(err, errors.NotFound) {
		t.Errorf("expected voucher to be gone, got %v", err)
	}
}

func TestVoucherCodeUniquePerTenant(t *testing.T) {
	s := storetest.New(t, storetest.NewClock())
	ctx := context.Background()

	a := &db.Voucher{TenantID: "t1", Code: "HS-AAAA-AAAA", Password: "p", ValidityHours: 1, Status: db.VoucherPending, PaymentID: 1}
	b := &db.Voucher{TenantID: "t1", Code: "HS-AAAA-AAAA", Password: "p", ValidityHours: 1, Status: db.VoucherPending, PaymentID: 2}
	c := &db.Voucher{TenantID: "t2", Code: "HS-AAAA-AAAA", Password: "p", ValidityHours: 1, Status: db.VoucherPending, PaymentID: 3}

	if err := s.CreateVoucher(ctx, a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := s.CreateVoucher(ctx, b); !errors.Is(err, core.ErrPersistenceConflict) {
		t.Errorf("expected conflict for duplicate code, got %v", err)
	}
	if err := s.CreateVoucher(ctx, c); err != nil {
		t.Errorf("same code in another tenant should be allowed: %v", err)
	}
}

func TestConfigHistoryIsAppendOnly(t *testing.T) {
	s := storetest.New(t, storetest.NewClock())
	ctx := context.Background()

	h := &db.ConfigHistory{TenantID: "t1", DeviceID: 1, ChangeType: db.ChangeUpdate, Snapshot: map[string]any{"a": 1}}
	if err := s.AppendConfigHistory(ctx, h); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendConfigHistory(ctx, h); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("re-appending a written entry should fail, got %v", err)
	}
}

func TestDeviceCacheInvalidatedOnSave(t *testing.T) {
	s := storetest.New(t, storetest.NewClock())
	ctx := context.Background()

	d := &db.Device{TenantID: "t1", Name: "ap", Host: "10.0.0.1", Port: 80, Status: db.DeviceOffline}
	if err := s.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.GetDevice(ctx, "t1", d.ID); err != nil {
		t.Fatalf("get: %v", err)
	}

	err := s.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockDevice(ctx, "t1", d.ID)
		if err != nil {
			return err
		}
		locked.Status = db.DeviceOnline
		return tx.SaveDevice(ctx, locked)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetDevice(ctx, "t1", d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != db.DeviceOnline {
		t.Errorf("cache served stale status %s", got.Status)
	}
	if _, err := s.GetDevice(ctx, "t2", d.ID); !errors.Is(err, errors.NotFound) {
		t.Errorf("device leaked across tenants: %v", err)
	}
}

func TestEnqueueJobRequeuesFinishedJob(t *testing.T) {
	clk := storetest.NewClock()
	s := storetest.New(t, clk)
	ctx := context.Background()

	job := func() *db.Job {
		return &db.Job{
			TenantID: "t1", Kind: "revoke_voucher", RefID: 4, UniqueKey: "revoke_voucher:t1:4",
			Status: db.JobQueued, MaxAttempts: 3, RunAt: clk.Now(), Deadline: clk.Now().Add(10 * time.Minute),
		}
	}
	if _, err := s.EnqueueJob(ctx, job()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	j, err := s.JobByKey(ctx, "revoke_voucher:t1:4")
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	finished := clk.Now()
	j.Status, j.Attempts, j.LastError, j.FinishedAt = db.JobFailed, 3, "device unreachable", &finished
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("save: %v", err)
	}

	clk.Advance(time.Hour)
	created, err := s.EnqueueJob(ctx, job())
	if err != nil || !created {
		t.Fatalf("requeue after failure: created=%v err=%v", created, err)
	}
	j, err = s.JobByKey(ctx, "revoke_voucher:t1:4")
	if err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if j.Status != db.JobQueued || j.Attempts != 0 || j.LastError != "" || j.FinishedAt != nil {
		t.Errorf("job not reset: %+v", j)
	}
	if !j.Deadline.Equal(clk.Now().Add(10 * time.Minute)) {
		t.Errorf("deadline %v not renewed", j.Deadline)
	}

	// queued again: further enqueues collapse into it
	if created, err := s.EnqueueJob(ctx, job()); err != nil || created {
		t.Errorf("enqueue over a queued job: created=%v err=%v", created, err)
	}
}
