package voucher

import (
	"time"

	"go-hotspot/core"
	"go-hotspot/db"
)

// The functions below are the voucher state machine. They mutate the voucher
// in memory only; Service applies them under a row lock.

// Activate starts the validity window. Calling it on anything but a pending
// voucher fails, so a second activation cannot reset the window.
func Activate(v *db.Voucher, now time.Time) error {
	if v.Status != db.VoucherPending {
		return core.InvalidStatef("voucher %s is %s, only pending vouchers can be activated", v.Code, v.Status)
	}
	if v.ValidityHours <= 0 {
		return core.InvalidStatef("voucher %s has no validity period", v.Code)
	}
	at := now.UTC()
	expires := at.Add(time.Duration(v.ValidityHours) * time.Hour)
	v.Status = db.VoucherActive
	v.ActivatedAt = &at
	v.ExpiresAt = &expires
	return nil
}

func MarkAsUsed(v *db.Voucher, now time.Time) error {
	if v.Status != db.VoucherActive || IsExpired(v, now) {
		return core.InvalidStatef("voucher %s is %s, only unexpired active vouchers can be used up", v.Code, v.Status)
	}
	at := now.UTC()
	v.Status = db.VoucherUsed
	v.UsedAt = &at
	return nil
}

func MarkAsExpired(v *db.Voucher, now time.Time) error {
	if v.Status != db.VoucherActive || !IsExpired(v, now) {
		return core.InvalidStatef("voucher %s is %s and not past expiry", v.Code, v.Status)
	}
	v.Status = db.VoucherExpired
	return nil
}

// Disable is the administrative override. Usage stats are kept.
func Disable(v *db.Voucher, reason string) error {
	if v.Status.Terminal() {
		return core.InvalidStatef("voucher %s is already %s", v.Code, v.Status)
	}
	v.Status = db.VoucherDisabled
	v.DisabledReason = reason
	return nil
}

// Retire disables a voucher whose validity has run out. It is the cleanup
// policy's counterpart to Disable and the only way out of expired.
func Retire(v *db.Voucher, reason string, now time.Time) error {
	switch {
	case v.Status == db.VoucherExpired:
	case v.Status == db.VoucherActive && IsExpired(v, now):
	default:
		return core.InvalidStatef("voucher %s is %s, only expired vouchers can be retired", v.Code, v.Status)
	}
	v.Status = db.VoucherDisabled
	v.DisabledReason = reason
	return nil
}

func Renew(v *db.Voucher, additionalHours int) error {
	if additionalHours <= 0 {
		return core.InvalidStatef("renewal must add a positive number of hours, got %d", additionalHours)
	}
	if v.Status != db.VoucherActive || v.ExpiresAt == nil {
		return core.InvalidStatef("voucher %s is %s, only active vouchers can be renewed", v.Code, v.Status)
	}
	expires := v.ExpiresAt.Add(time.Duration(additionalHours) * time.Hour)
	v.ExpiresAt = &expires
	v.ValidityHours += additionalHours
	return nil
}

// RecordUsage shallow-merges stats into the stored counters. Keys missing
// from stats keep their previous values.
func RecordUsage(v *db.Voucher, stats map[string]any, now time.Time) {
	merged := make(map[string]any, len(v.UsageStats)+len(stats)+1)
	for k, val := range v.UsageStats {
		merged[k] = val
	}
	for k, val := range stats {
		merged[k] = val
	}
	merged["last_updated"] = now.UTC().Format(time.RFC3339)
	v.UsageStats = merged
}

func IsExpired(v *db.Voucher, now time.Time) bool {
	return v.ExpiresAt != nil && !v.ExpiresAt.After(now)
}

func IsUsable(v *db.Voucher, now time.Time) bool {
	return v.Status == db.VoucherActive && v.UsedAt == nil && !IsExpired(v, now) && v.ExpiresAt != nil
}

// RemainingTime is derived on read and never stored.
func RemainingTime(v *db.Voucher, now time.Time) time.Duration {
	if !IsUsable(v, now) {
		return 0
	}
	return v.ExpiresAt.Sub(now)
}

// DataCapReached reports whether recorded traffic has hit the voucher's cap.
func DataCapReached(v *db.Voucher) bool {
	if v.DataLimitMB == nil || *v.DataLimitMB <= 0 {
		return false
	}
	used := toInt64(v.UsageStats["bytes_in"]) + toInt64(v.UsageStats["bytes_out"])
	return used >= *v.DataLimitMB*1024*1024
}

// JSON columns come back as float64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
