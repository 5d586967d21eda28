// Package cleanup applies the voucher retention policy: expire vouchers past
// their validity, disable them after a grace period and finally delete them.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gorm.io/gorm"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/store"
	"go-hotspot/voucher"
)

const day = 24 * time.Hour

type Policy struct {
	// AutoDisableAfterDays is how long past expiry a voucher stays expired
	// before it is disabled.
	AutoDisableAfterDays int `json:"auto_disable_after_days"`
	// DeleteAfterDays is how long a disabled voucher is kept.
	DeleteAfterDays     int  `json:"delete_after_days"`
	NotifyBeforeCleanup bool `json:"notify_before_cleanup"`
}

func DefaultPolicy() Policy {
	return Policy{AutoDisableAfterDays: 30, DeleteAfterDays: 90}
}

func (p Policy) Validate() error {
	if p.AutoDisableAfterDays < 0 {
		return core.Configurationf("auto-disable-after-days must not be negative, got %d", p.AutoDisableAfterDays)
	}
	if p.DeleteAfterDays < 1 {
		return core.Configurationf("delete-after-days must be at least 1, got %d", p.DeleteAfterDays)
	}
	return nil
}

type Result struct {
	Expired      int      `json:"expired"`
	Disabled     int      `json:"disabled"`
	Deleted      int      `json:"deleted"`
	Notified     int      `json:"notified"`
	WouldDisable int      `json:"would_disable"`
	WouldDelete  int      `json:"would_delete"`
	WouldNotify  int      `json:"would_notify"`
	DryRun       bool     `json:"dry_run"`
	Errors       []string `json:"errors"`
}

func (r *Result) fail(v *db.Voucher, step string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s voucher %s: %v", step, v.Code, err))
}

func (r *Result) add(o Result) {
	r.Expired += o.Expired
	r.Disabled += o.Disabled
	r.Deleted += o.Deleted
	r.Notified += o.Notified
	r.WouldDisable += o.WouldDisable
	r.WouldDelete += o.WouldDelete
	r.WouldNotify += o.WouldNotify
	r.Errors = append(r.Errors, o.Errors...)
}

type Engine struct {
	store    *store.Store
	vouchers *voucher.Service
	queue    *jobs.Queue
	clock    clock.Clock
	logger   *log.Logger
	audit    *log.Logger
}

func NewEngine(s *store.Store, vouchers *voucher.Service, q *jobs.Queue, clk clock.Clock, logger *log.Logger) *Engine {
	return &Engine{
		store:    s,
		vouchers: vouchers,
		queue:    q,
		clock:    clk,
		logger:   logger.Named("cleanup"),
		audit:    logger.Named("audit"),
	}
}

// Selection scopes. Dry runs count with the same scopes the real run
// mutates, so a dry run reports exactly what a real run would do.

func pastExpiry(now time.Time) store.Filter {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND expires_at <= ?", db.VoucherActive, now)
	}
}

func disableCandidates(cutoff time.Time) store.Filter {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("status IN ? AND expires_at <= ?", []db.VoucherStatus{db.VoucherActive, db.VoucherExpired}, cutoff)
	}
}

func notYetNotified(q *gorm.DB) *gorm.DB {
	return q.Where("notified_at IS NULL")
}

func deleteCandidates(cutoff time.Time) store.Filter {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND updated_at <= ?", db.VoucherDisabled, cutoff)
	}
}

// Cleanup runs the policy for one tenant. Per-voucher failures are collected
// in the result; only a failure to select candidates is returned as an
// error.
func (e *Engine) Cleanup(ctx context.Context, tenant string, policy Policy, dryRun bool) (Result, error) {
	result := Result{DryRun: dryRun, Errors: []string{}}
	if err := policy.Validate(); err != nil {
		return result, err
	}
	now := e.clock.Now().UTC()
	disableCutoff := now.Add(-time.Duration(policy.AutoDisableAfterDays) * day)
	deleteCutoff := now.Add(-time.Duration(policy.DeleteAfterDays) * day)

	if dryRun {
		n, err := e.store.CountVouchers(ctx, tenant, disableCandidates(disableCutoff))
		if err != nil {
			return result, errors.Annotate(err, "counting disable candidates")
		}
		result.WouldDisable = int(n)
		n, err = e.store.CountVouchers(ctx, tenant, deleteCandidates(deleteCutoff))
		if err != nil {
			return result, errors.Annotate(err, "counting delete candidates")
		}
		result.WouldDelete = int(n)
		if policy.NotifyBeforeCleanup {
			n, err = e.store.CountVouchers(ctx, tenant, disableCandidates(disableCutoff), notYetNotified)
			if err != nil {
				return result, errors.Annotate(err, "counting vouchers to notify")
			}
			result.WouldNotify = int(n)
		}
		e.report(tenant, policy, result)
		return result, nil
	}

	// Step 1: expire.
	expired, err := e.store.FindVouchers(ctx, tenant, pastExpiry(now))
	if err != nil {
		return result, errors.Annotate(err, "selecting expired vouchers")
	}
	for i := range expired {
		if _, err := e.vouchers.MarkAsExpired(ctx, tenant, expired[i].ID); err != nil {
			result.fail(&expired[i], "expire", err)
			continue
		}
		result.Expired++
	}

	// Step 2: disable, warning the customer first if asked to.
	if policy.NotifyBeforeCleanup {
		pending, err := e.store.FindVouchers(ctx, tenant, disableCandidates(disableCutoff), notYetNotified)
		if err != nil {
			return result, errors.Annotate(err, "selecting vouchers to notify")
		}
		for i := range pending {
			if _, err := e.vouchers.MarkNotified(ctx, tenant, pending[i].ID); err != nil {
				result.fail(&pending[i], "notify", err)
				continue
			}
			result.Notified++
		}
	}
	stale, err := e.store.FindVouchers(ctx, tenant, disableCandidates(disableCutoff))
	if err != nil {
		return result, errors.Annotate(err, "selecting vouchers to disable")
	}
	reason := fmt.Sprintf("expired more than %d days ago", policy.AutoDisableAfterDays)
	for i := range stale {
		v := &stale[i]
		if _, err := e.vouchers.Retire(ctx, tenant, v.ID, reason); err != nil {
			result.fail(v, "disable", err)
			continue
		}
		result.Disabled++
		if _, err := e.queue.Enqueue(ctx, tenant, jobs.KindRevokeVoucher, v.ID); err != nil {
			result.fail(v, "revoke", err)
		}
	}

	// Step 3: delete.
	doomed, err := e.store.FindVouchers(ctx, tenant, deleteCandidates(deleteCutoff))
	if err != nil {
		return result, errors.Annotate(err, "selecting vouchers to delete")
	}
	for i := range doomed {
		if err := e.vouchers.Delete(ctx, tenant, doomed[i].ID); err != nil {
			result.fail(&doomed[i], "delete", err)
			continue
		}
		result.Deleted++
	}

	e.report(tenant, policy, result)
	return result, nil
}

// CleanupAll runs the policy for every tenant that has vouchers and sums the
// results. A tenant that cannot be processed is reported and skipped.
func (e *Engine) CleanupAll(ctx context.Context, policy Policy, dryRun bool) (Result, error) {
	total := Result{DryRun: dryRun, Errors: []string{}}
	if err := policy.Validate(); err != nil {
		return total, err
	}
	tenants, err := e.store.VoucherTenants(ctx)
	if err != nil {
		return total, errors.Annotate(err, "listing tenants")
	}
	for _, tenant := range tenants {
		r, err := e.Cleanup(ctx, tenant, policy, dryRun)
		if err != nil {
			total.Errors = append(total.Errors, fmt.Sprintf("tenant %s: %v", tenant, err))
			continue
		}
		total.add(r)
	}
	return total, nil
}

func (e *Engine) report(tenant string, policy Policy, r Result) {
	e.audit.Infow("voucher cleanup",
		"tenant", tenant,
		"policy", policy,
		"dry_run", r.DryRun,
		"expired", r.Expired,
		"disabled", r.Disabled,
		"deleted", r.Deleted,
		"notified", r.Notified,
		"would_disable", r.WouldDisable,
		"would_delete", r.WouldDelete,
		"would_notify", r.WouldNotify,
		"errors", r.Errors,
	)
	if len(r.Errors) > 0 {
		e.logger.Warnw("voucher cleanup finished with errors", "tenant", tenant, "errors", len(r.Errors))
	}
}
