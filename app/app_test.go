package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-hotspot/config"
	"go-hotspot/core"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/store/storetest"
)

func testConfig() *config.Config {
	return &config.Config{
		PublicURL:   "http://hotspot.test",
		JWTSecret:   "secret",
		CallbackKey: "cb",
		DB:          config.DBConfig{Driver: "sqlite", DSN: "file:apptest?mode=memory&cache=shared"},
		Voucher:     config.VoucherConfig{CodePrefix: "HS", PasswordLength: 8, CodeAttempts: 5},
		Device: config.DeviceConfig{
			SecretKey:    strings.Repeat("ab", 32),
			PollInterval: time.Minute,
			PollTimeout:  time.Second,
			Concurrency:  2,
			CallAttempts: 1,
			CallTimeout:  time.Second,
		},
		Jobs: config.JobConfig{
			Workers: 1, MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: 5 * time.Minute,
			Deadline: 10 * time.Minute, Lease: time.Minute, PollInterval: time.Second,
		},
		Cleanup:       config.CleanupConfig{Interval: time.Hour, AutoDisableAfterDays: 30, DeleteAfterDays: 90},
		Payment:       config.PaymentConfig{Providers: []string{"manual"}, PollInterval: 30 * time.Second, PendingAfter: time.Minute},
		DefaultLimits: core.Limits{MaxDevices: 10},
	}
}

func TestNewWiresServices(t *testing.T) {
	clk := storetest.NewClock()
	a, err := New(context.Background(), testConfig(), log.Nop(), clk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz: %d", w.Code)
	}

	if n := len(a.Tasks()); n != 4 {
		t.Errorf("%d tasks", n)
	}
	if p := a.CleanupPolicy(); p.Validate() != nil || p.DeleteAfterDays != 90 {
		t.Errorf("policy %+v", p)
	}

	// Every job kind has a handler registered.
	ctx := context.Background()
	kinds := []jobs.Kind{jobs.KindReconcilePayment, jobs.KindProvisionVoucher, jobs.KindRevokeVoucher, jobs.KindPollDevice}
	for _, k := range kinds {
		if _, err := a.Queue.Enqueue(ctx, "acme", k, 999); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := a.Pool.Drain(ctx, 10); err != nil || n != len(kinds) {
		t.Fatalf("Drain: %d %v", n, err)
	}
	for _, k := range kinds {
		job, err := a.Queue.Job(ctx, "acme", k, 999)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(job.LastError, "no handler") {
			t.Errorf("%s: %s", k, job.LastError)
		}
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.DB.DSN = "file:apptest_provider?mode=memory&cache=shared"
	cfg.Payment.Providers = []string{"cheque"}
	if _, err := New(context.Background(), cfg, log.Nop(), storetest.NewClock()); err == nil {
		t.Error("unknown provider accepted")
	}
}
