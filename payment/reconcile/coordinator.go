// Package reconcile turns completed payments into active vouchers exactly
// once, however many signals (callbacks, polls, retries, operators) arrive
// for the same payment.
package reconcile

import (
	"context"

	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/store"
	"go-hotspot/voucher"
)

// Queue is the part of jobs.Queue the coordinator schedules work through.
type Queue interface {
	Enqueue(ctx context.Context, tenant string, kind jobs.Kind, ref uint) (bool, error)
	EnqueueTx(ctx context.Context, tx *store.Store, tenant string, kind jobs.Kind, ref uint) (bool, error)
}

type Coordinator struct {
	store    *store.Store
	queue    Queue
	vouchers *voucher.Service
	logger   *log.Logger
}

func NewCoordinator(s *store.Store, q Queue, vouchers *voucher.Service, logger *log.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		queue:    q,
		vouchers: vouchers,
		logger:   logger.Named("reconcile"),
	}
}

// Notify schedules reconciliation of a payment. Repeated notifications for
// the same payment collapse into one job.
func (c *Coordinator) Notify(ctx context.Context, tenant string, paymentID uint) error {
	_, err := c.queue.Enqueue(ctx, tenant, jobs.KindReconcilePayment, paymentID)
	return errors.Trace(err)
}

// Reconcile issues and activates the voucher for a completed payment. If the
// payment already has a voucher that voucher is returned and created is
// false.
func (c *Coordinator) Reconcile(ctx context.Context, tenant string, paymentID uint) (v *db.Voucher, created bool, err error) {
	var p *db.Payment
	err = c.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockPayment(ctx, tenant, paymentID)
		if err != nil {
			return errors.Trace(err)
		}
		p = locked
		if p.Status != db.PaymentCompleted {
			return core.InvalidStatef("payment %s is %s, only completed payments are reconciled", p.TransactionID, p.Status)
		}

		existing, err := tx.VoucherByPayment(ctx, tenant, paymentID)
		switch {
		case err == nil:
			v = existing
			return nil
		case !errors.Is(err, errors.NotFound):
			return errors.Trace(err)
		}

		v, err = c.vouchers.IssueForPayment(ctx, tx, p)
		if err != nil {
			return err
		}
		if p.DeviceID != nil {
			if _, err := c.queue.EnqueueTx(ctx, tx, tenant, jobs.KindProvisionVoucher, v.ID); err != nil {
				return errors.Annotatef(err, "scheduling provisioning of voucher %s", v.Code)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, voucher.ErrAlreadyIssued) && !errors.Is(err, core.ErrPersistenceConflict) {
			return nil, false, err
		}
		// Lost a race with another reconciler; its voucher is the answer.
		existing, ferr := c.store.VoucherByPayment(ctx, tenant, paymentID)
		if ferr != nil {
			return nil, false, errors.Annotatef(err, "refetching voucher after conflict: %v", ferr)
		}
		return existing, false, nil
	}

	if !created {
		c.logger.Debugw("payment already reconciled", "tenant", tenant, "payment", paymentID, "voucher", v.Code)
		return v, false, nil
	}

	c.logger.Infow("voucher issued", "tenant", tenant, "payment", p.TransactionID, "voucher", v.Code, "expires_at", v.ExpiresAt)
	c.vouchers.Announce(ctx, v)
	return v, true, nil
}

// HandleJob is the jobs.Handler for KindReconcilePayment.
func (c *Coordinator) HandleJob(ctx context.Context, job *db.Job) error {
	_, _, err := c.Reconcile(ctx, job.TenantID, job.RefID)
	return err
}
