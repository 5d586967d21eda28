package cleanup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/events"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/store"
	"go-hotspot/store/storetest"
	"go-hotspot/voucher"
)

type fixture struct {
	store    *store.Store
	clock    *testclock.Clock
	rec      *events.Recorder
	queue    *jobs.Queue
	vouchers *voucher.Service
	engine   *Engine
	seq      int
}

func newFixture(t *testing.T) *fixture {
	clk := storetest.NewClock()
	s := storetest.New(t, clk)
	rec := &events.Recorder{}
	q := jobs.NewQueue(s, clk, jobs.DefaultPolicy())
	vouchers := voucher.NewService(s, voucher.RandomGenerator{Prefix: "HS"}, rec, clk, log.Nop(), 5)
	return &fixture{
		store:    s,
		clock:    clk,
		rec:      rec,
		queue:    q,
		vouchers: vouchers,
		engine:   NewEngine(s, vouchers, q, clk, log.Nop()),
	}
}

// active issues and activates a voucher valid for hours.
func (f *fixture) active(t *testing.T, hours int) *db.Voucher {
	t.Helper()
	ctx := context.Background()
	f.seq++
	p := &db.Payment{
		TenantID: "t1", TransactionID: fmt.Sprintf("tx-%d", f.seq), Gateway: "manual", Amount: 1000, Currency: "UGX",
		Status: db.PaymentCompleted, ValidityHours: hours,
	}
	if err := f.store.CreatePayment(ctx, p); err != nil {
		t.Fatal(err)
	}
	v, err := f.vouchers.Create(ctx, "t1", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v, err = f.vouchers.Activate(ctx, "t1", v.ID); err != nil {
		t.Fatal(err)
	}
	return v
}

func (f *fixture) status(t *testing.T, id uint) db.VoucherStatus {
	t.Helper()
	v, err := f.vouchers.Get(context.Background(), "t1", id)
	if errors.Is(err, errors.NotFound) {
		return "deleted"
	}
	if err != nil {
		t.Fatal(err)
	}
	return v.Status
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	if err := (Policy{AutoDisableAfterDays: 30}).Validate(); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("zero delete-after-days: got %v", err)
	}
	if err := (Policy{AutoDisableAfterDays: -1, DeleteAfterDays: 1}).Validate(); err == nil {
		t.Errorf("negative auto-disable accepted")
	}
}

func TestVoucherRetentionTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.active(t, 24)
	policy := DefaultPolicy()

	f.clock.Advance(25 * time.Hour)
	r, err := f.engine.Cleanup(ctx, "t1", policy, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Expired != 1 || r.Disabled != 0 || f.status(t, v.ID) != db.VoucherExpired {
		t.Fatalf("at T+25h: %+v, voucher %s", r, f.status(t, v.ID))
	}

	f.clock.Advance(31 * day)
	r, err = f.engine.Cleanup(ctx, "t1", policy, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Disabled != 1 || r.Deleted != 0 || f.status(t, v.ID) != db.VoucherDisabled {
		t.Fatalf("at T+25h+31d: %+v, voucher %s", r, f.status(t, v.ID))
	}
	if _, err := f.queue.Job(ctx, "t1", jobs.KindRevokeVoucher, v.ID); err != nil {
		t.Errorf("revoke job missing: %v", err)
	}

	f.clock.Advance(91 * day)
	r, err = f.engine.Cleanup(ctx, "t1", policy, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Deleted != 1 || f.status(t, v.ID) != "deleted" {
		t.Fatalf("at T+25h+122d: %+v, voucher %s", r, f.status(t, v.ID))
	}
	if n := f.rec.Count(events.VoucherDeleted); n != 1 {
		t.Errorf("%d deleted events", n)
	}
}

// seedStale builds three expired vouchers past the grace period, two
// disabled vouchers past retention and one live voucher.
func (f *fixture) seedStale(t *testing.T) (expired, disabled []uint, live uint) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		v := f.active(t, 24)
		if _, err := f.vouchers.Disable(ctx, "t1", v.ID, "fraud"); err != nil {
			t.Fatal(err)
		}
		disabled = append(disabled, v.ID)
	}
	for i := 0; i < 3; i++ {
		expired = append(expired, f.active(t, 1).ID)
	}
	f.clock.Advance(2 * time.Hour)
	for _, id := range expired {
		if _, err := f.vouchers.MarkAsExpired(ctx, "t1", id); err != nil {
			t.Fatal(err)
		}
	}
	f.clock.Advance(100 * day)
	live = f.active(t, 24).ID
	return expired, disabled, live
}

func TestDryRunMatchesRealRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired, disabled, live := f.seedStale(t)
	policy := Policy{AutoDisableAfterDays: 30, DeleteAfterDays: 90}

	dry, err := f.engine.Cleanup(ctx, "t1", policy, true)
	if err != nil {
		t.Fatal(err)
	}
	if !dry.DryRun || dry.WouldDisable != 3 || dry.WouldDelete != 2 {
		t.Errorf("dry run %+v", dry)
	}
	if dry.Disabled != 0 || dry.Deleted != 0 || dry.Expired != 0 {
		t.Errorf("dry run mutated: %+v", dry)
	}
	for _, id := range expired {
		if s := f.status(t, id); s != db.VoucherExpired {
			t.Errorf("dry run changed voucher %d to %s", id, s)
		}
	}
	for _, id := range disabled {
		if s := f.status(t, id); s != db.VoucherDisabled {
			t.Errorf("dry run changed voucher %d to %s", id, s)
		}
	}

	run, err := f.engine.Cleanup(ctx, "t1", policy, false)
	if err != nil {
		t.Fatal(err)
	}
	if run.Disabled != 3 || run.Deleted != 2 || run.Notified != 0 || len(run.Errors) != 0 {
		t.Errorf("real run %+v", run)
	}
	for _, id := range expired {
		if s := f.status(t, id); s != db.VoucherDisabled {
			t.Errorf("voucher %d is %s, want disabled", id, s)
		}
	}
	for _, id := range disabled {
		if s := f.status(t, id); s != "deleted" {
			t.Errorf("voucher %d is %s, want deleted", id, s)
		}
	}
	if s := f.status(t, live); s != db.VoucherActive {
		t.Errorf("live voucher is %s", s)
	}
}

func TestNotifyBeforeCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired, _, _ := f.seedStale(t)
	policy := DefaultPolicy()
	policy.NotifyBeforeCleanup = true

	dry, err := f.engine.Cleanup(ctx, "t1", policy, true)
	if err != nil {
		t.Fatal(err)
	}
	if dry.WouldNotify != 3 || dry.Notified != 0 {
		t.Errorf("dry run: would notify %d, notified %d", dry.WouldNotify, dry.Notified)
	}

	r, err := f.engine.Cleanup(ctx, "t1", policy, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Notified != 3 {
		t.Errorf("notified %d, want 3", r.Notified)
	}
	for _, id := range expired {
		v, _ := f.vouchers.Get(ctx, "t1", id)
		if v.NotifiedAt == nil {
			t.Errorf("voucher %d not marked notified", id)
		}
	}
	if n := f.rec.Count(events.VoucherCleanupNotice); n != 3 {
		t.Errorf("%d notice events", n)
	}
}

func TestCleanupAllSumsTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStale(t)

	r, err := f.engine.CleanupAll(ctx, DefaultPolicy(), true)
	if err != nil {
		t.Fatal(err)
	}
	if r.WouldDisable != 3 || r.WouldDelete != 2 {
		t.Errorf("got %+v", r)
	}
}
