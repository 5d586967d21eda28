package voucher

import (
	"testing"
	"time"

	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pending(hours int) *db.Voucher {
	return &db.Voucher{Code: "HS-ABCD-EFGH", ValidityHours: hours, Status: db.VoucherPending}
}

func TestActivateSetsExpiryWindow(t *testing.T) {
	v := pending(24)
	if err := Activate(v, t0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if v.Status != db.VoucherActive {
		t.Errorf("expected active, got %s", v.Status)
	}
	if !v.ActivatedAt.Equal(t0) {
		t.Errorf("activated_at = %v, want %v", v.ActivatedAt, t0)
	}
	if want := v.ActivatedAt.Add(24 * time.Hour); !v.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", v.ExpiresAt, want)
	}
}

func TestActivateTwiceFails(t *testing.T) {
	v := pending(24)
	if err := Activate(v, t0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	expires := *v.ExpiresAt

	err := Activate(v, t0.Add(5*time.Hour))
	if !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("expected invalid state on second activation, got %v", err)
	}
	if !v.ExpiresAt.Equal(expires) {
		t.Errorf("second activation moved expiry to %v", v.ExpiresAt)
	}
}

func TestRenewExtendsExpiry(t *testing.T) {
	v := pending(24)
	_ = Activate(v, t0)
	before := *v.ExpiresAt

	if err := Renew(v, 12); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if got := v.ExpiresAt.Sub(before); got != 12*time.Hour {
		t.Errorf("expiry moved by %s, want 12h", got)
	}
	if v.ValidityHours != 36 {
		t.Errorf("validity_hours = %d, want 36", v.ValidityHours)
	}
}

func TestRenewRejectsNonPositiveHours(t *testing.T) {
	v := pending(24)
	_ = Activate(v, t0)
	if err := Renew(v, 0); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("expected invalid state, got %v", err)
	}
}

func TestTerminalStatesAreIrreversible(t *testing.T) {
	for _, status := range []db.VoucherStatus{db.VoucherUsed, db.VoucherExpired, db.VoucherDisabled} {
		t.Run(string(status), func(t *testing.T) {
			expires := t0.Add(time.Hour)
			v := &db.Voucher{Code: "HS-ABCD-EFGH", ValidityHours: 1, Status: status, ExpiresAt: &expires}

			ops := map[string]func() error{
				"activate": func() error { return Activate(v, t0) },
				"renew":    func() error { return Renew(v, 5) },
				"use":      func() error { return MarkAsUsed(v, t0) },
				"expire":   func() error { return MarkAsExpired(v, t0.Add(2*time.Hour)) },
				"disable":  func() error { return Disable(v, "admin") },
			}
			for name, op := range ops {
				if err := op(); !errors.Is(err, core.ErrInvalidState) {
					t.Errorf("%s on %s voucher: expected invalid state, got %v", name, status, err)
				}
				if v.Status != status {
					t.Fatalf("%s moved voucher from %s to %s", name, status, v.Status)
				}
			}
		})
	}
}

func TestMarkAsExpiredRequiresPastExpiry(t *testing.T) {
	v := pending(24)
	_ = Activate(v, t0)

	if err := MarkAsExpired(v, t0.Add(23*time.Hour)); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("expiring before expires_at should fail, got %v", err)
	}
	if err := MarkAsExpired(v, t0.Add(24*time.Hour)); err != nil {
		t.Errorf("expiring at expires_at failed: %v", err)
	}
	if v.Status != db.VoucherExpired {
		t.Errorf("expected expired, got %s", v.Status)
	}
}

func TestMarkAsUsedRequiresUnexpiredActive(t *testing.T) {
	v := pending(1)
	if err := MarkAsUsed(v, t0); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("pending voucher marked used: %v", err)
	}
	_ = Activate(v, t0)
	if err := MarkAsUsed(v, t0.Add(2*time.Hour)); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("expired voucher marked used: %v", err)
	}
	if err := MarkAsUsed(v, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("MarkAsUsed failed: %v", err)
	}
	if v.UsedAt == nil || v.Status != db.VoucherUsed {
		t.Errorf("unexpected voucher after use: %+v", v)
	}
}

func TestDisableKeepsUsageStats(t *testing.T) {
	v := pending(1)
	_ = Activate(v, t0)
	RecordUsage(v, map[string]any{"bytes_in": 10}, t0)

	if err := Disable(v, "refund"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if v.UsageStats["bytes_in"] != 10 {
		t.Errorf("disable cleared usage stats: %v", v.UsageStats)
	}
	if v.DisabledReason != "refund" {
		t.Errorf("reason = %q", v.DisabledReason)
	}
}

func TestRecordUsageMerges(t *testing.T) {
	v := pending(1)
	RecordUsage(v, map[string]any{"bytes_in": 100, "session_seconds": 60}, t0)
	RecordUsage(v, map[string]any{"bytes_in": 250}, t0.Add(time.Minute))

	if v.UsageStats["bytes_in"] != 250 {
		t.Errorf("bytes_in = %v, want 250", v.UsageStats["bytes_in"])
	}
	if v.UsageStats["session_seconds"] != 60 {
		t.Errorf("session_seconds lost: %v", v.UsageStats)
	}
	if v.UsageStats["last_updated"] != t0.Add(time.Minute).Format(time.RFC3339) {
		t.Errorf("last_updated = %v", v.UsageStats["last_updated"])
	}
}

func TestIsUsableAndRemainingTime(t *testing.T) {
	v := pending(2)
	if IsUsable(v, t0) {
		t.Error("pending voucher reported usable")
	}
	_ = Activate(v, t0)

	if !IsUsable(v, t0.Add(time.Hour)) {
		t.Error("active voucher reported unusable")
	}
	if got := RemainingTime(v, t0.Add(30*time.Minute)); got != 90*time.Minute {
		t.Errorf("remaining = %s, want 1h30m", got)
	}
	if IsUsable(v, t0.Add(2*time.Hour)) {
		t.Error("voucher usable at expiry")
	}
	if got := RemainingTime(v, t0.Add(3*time.Hour)); got != 0 {
		t.Errorf("remaining after expiry = %s", got)
	}
}

func TestDataCapReached(t *testing.T) {
	limit := int64(1)
	v := &db.Voucher{DataLimitMB: &limit}
	RecordUsage(v, map[string]any{"bytes_in": float64(512 * 1024), "bytes_out": float64(256 * 1024)}, t0)
	if DataCapReached(v) {
		t.Error("cap reported before 1MB")
	}
	RecordUsage(v, map[string]any{"bytes_out": float64(512 * 1024)}, t0)
	if !DataCapReached(v) {
		t.Error("cap not reported at 1MB")
	}
}

func TestRetireOnlyAfterExpiry(t *testing.T) {
	v := pending(1)
	_ = Activate(v, t0)

	if err := Retire(v, "stale", t0.Add(30*time.Minute)); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("retiring a live voucher: got %v", err)
	}
	// Active but past expiry counts as expired.
	if err := Retire(v, "stale", t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if v.Status != db.VoucherDisabled || v.DisabledReason != "stale" {
		t.Errorf("got %s %q", v.Status, v.DisabledReason)
	}

	used := pending(1)
	_ = Activate(used, t0)
	_ = MarkAsUsed(used, t0)
	if err := Retire(used, "stale", t0.Add(48*time.Hour)); err == nil {
		t.Errorf("used voucher retired")
	}
}
