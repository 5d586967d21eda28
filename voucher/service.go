package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/events"
	"go-hotspot/log"
	"go-hotspot/store"
)

// ErrAlreadyIssued marks an attempt to issue a second voucher for a payment.
const ErrAlreadyIssued = errors.ConstError("payment already has a voucher")

type Service struct {
	store     *store.Store
	gen       Generator
	publisher events.Publisher
	clock     clock.Clock
	logger    *log.Logger
	attempts  int
}

func NewService(s *store.Store, gen Generator, pub events.Publisher, clk clock.Clock, logger *log.Logger, codeAttempts int) *Service {
	if codeAttempts < 1 {
		codeAttempts = 1
	}
	return &Service{
		store:     s,
		gen:       gen,
		publisher: pub,
		clock:     clk,
		logger:    logger.Named("voucher"),
		attempts:  codeAttempts,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Service) Get(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	return s.store.GetVoucher(ctx, tenant, id)
}

func (s *Service) GetByCode(ctx context.Context, tenant, code string) (*db.Voucher, error) {
	return s.store.VoucherByCode(ctx, tenant, code)
}

// Create issues a pending voucher for a completed payment.
func (s *Service) Create(ctx context.Context, tenant string, paymentID uint) (*db.Voucher, error) {
	var v *db.Voucher
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		p, err := tx.LockPayment(ctx, tenant, paymentID)
		if err != nil {
			return errors.Trace(err)
		}
		v, err = s.create(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, v, events.VoucherGenerated, events.Added)
	return v, nil
}

// IssueForPayment creates and activates the voucher for p inside the
// caller's transaction. The caller holds the payment row lock and publishes
// events after commit with Announce.
func (s *Service) IssueForPayment(ctx context.Context, tx *store.Store, p *db.Payment) (*db.Voucher, error) {
	v, err := s.create(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if err := Activate(v, s.now()); err != nil {
		return nil, errors.Trace(err)
	}
	if err := tx.SaveVoucher(ctx, v); err != nil {
		return nil, errors.Trace(err)
	}
	return v, nil
}

// Announce publishes the events for a freshly issued and activated voucher.
func (s *Service) Announce(ctx context.Context, v *db.Voucher) {
	s.publish(ctx, v, events.VoucherGenerated, events.Added)
	s.publish(ctx, v, events.VoucherActivated, events.Updated)
}

func (s *Service) create(ctx context.Context, tx *store.Store, p *db.Payment) (*db.Voucher, error) {
	if p.Status != db.PaymentCompleted {
		return nil, core.InvalidStatef("payment %s is %s, vouchers are only issued for completed payments", p.TransactionID, p.Status)
	}
	if err := s.ensureNoVoucher(ctx, tx, p); err != nil {
		return nil, err
	}

	password, err := s.gen.Password()
	if err != nil {
		return nil, errors.Trace(err)
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		code, err := s.gen.Code()
		if err != nil {
			return nil, errors.Trace(err)
		}
		taken, err := tx.VoucherCodeExists(ctx, p.TenantID, code)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if taken {
			s.logger.Debugw("voucher code collision, regenerating", "tenant", p.TenantID, "attempt", attempt)
			continue
		}

		v := &db.Voucher{
			TenantID:      p.TenantID,
			Code:          code,
			Password:      password,
			Profile:       p.Profile,
			ValidityHours: p.ValidityHours,
			DataLimitMB:   p.DataLimitMB,
			Price:         p.Amount,
			Currency:      p.Currency,
			Status:        db.VoucherPending,
			PaymentID:     p.ID,
		}
		// savepoint: a unique violation must not poison the outer transaction
		err = tx.Transaction(ctx, func(sp *store.Store) error {
			return sp.CreateVoucher(ctx, v)
		})
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, core.ErrPersistenceConflict) {
			return nil, errors.Trace(err)
		}
		// Either the code was taken concurrently or another worker issued
		// the voucher for this payment first.
		if err := s.ensureNoVoucher(ctx, tx, p); err != nil {
			return nil, err
		}
	}
	return nil, errors.WithType(
		errors.Errorf("no free voucher code after %d attempts", s.attempts),
		core.ErrPersistenceConflict)
}

func (s *Service) ensureNoVoucher(ctx context.Context, tx *store.Store, p *db.Payment) error {
	_, err := tx.VoucherByPayment(ctx, p.TenantID, p.ID)
	switch {
	case err == nil:
		return errors.WithType(fmt.Errorf("payment %s: %w", p.TransactionID, ErrAlreadyIssued), core.ErrInvalidState)
	case errors.Is(err, errors.NotFound):
		return nil
	default:
		return errors.Trace(err)
	}
}

func (s *Service) Activate(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherActivated, func(v *db.Voucher, now time.Time) error {
		return Activate(v, now)
	})
}

func (s *Service) MarkAsUsed(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherUsed, func(v *db.Voucher, now time.Time) error {
		return MarkAsUsed(v, now)
	})
}

func (s *Service) MarkAsExpired(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherExpired, func(v *db.Voucher, now time.Time) error {
		return MarkAsExpired(v, now)
	})
}

func (s *Service) Disable(ctx context.Context, tenant string, id uint, reason string) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherDisabled, func(v *db.Voucher, _ time.Time) error {
		return Disable(v, reason)
	})
}

func (s *Service) Retire(ctx context.Context, tenant string, id uint, reason string) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherDisabled, func(v *db.Voucher, now time.Time) error {
		return Retire(v, reason, now)
	})
}

// MarkNotified records that the customer was warned about cleanup.
func (s *Service) MarkNotified(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherCleanupNotice, func(v *db.Voucher, now time.Time) error {
		at := now.UTC()
		v.NotifiedAt = &at
		return nil
	})
}

// Delete hard-deletes a disabled voucher. Device logins bound to it are
// detached.
func (s *Service) Delete(ctx context.Context, tenant string, id uint) error {
	var v *db.Voucher
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockVoucher(ctx, tenant, id)
		if err != nil {
			return errors.Trace(err)
		}
		if locked.Status != db.VoucherDisabled {
			return core.InvalidStatef("voucher %s is %s, only disabled vouchers can be deleted", locked.Code, locked.Status)
		}
		v = locked
		return tx.DeleteVoucher(ctx, tenant, id)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, v, events.VoucherDeleted, events.Deleted)
	return nil
}

func (s *Service) Renew(ctx context.Context, tenant string, id uint, additionalHours int) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, events.VoucherRenewed, func(v *db.Voucher, _ time.Time) error {
		return Renew(v, additionalHours)
	})
}

// RecordUsage merges stats into the voucher. No event is published.
func (s *Service) RecordUsage(ctx context.Context, tenant string, id uint, stats map[string]any) (*db.Voucher, error) {
	return s.transition(ctx, tenant, id, "", func(v *db.Voucher, now time.Time) error {
		RecordUsage(v, stats, now)
		return nil
	})
}

func (s *Service) transition(ctx context.Context, tenant string, id uint, kind events.Kind, fn func(*db.Voucher, time.Time) error) (*db.Voucher, error) {
	var v *db.Voucher
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockVoucher(ctx, tenant, id)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(locked, s.now()); err != nil {
			return err
		}
		v = locked
		return tx.SaveVoucher(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	if kind != "" {
		s.publish(ctx, v, kind, events.Updated)
	}
	return v, nil
}

func (s *Service) publish(ctx context.Context, v *db.Voucher, kind events.Kind, action events.Action) {
	data := map[string]any{
		"code":       v.Code,
		"status":     v.Status,
		"payment_id": v.PaymentID,
	}
	if v.ExpiresAt != nil {
		data["expires_at"] = v.ExpiresAt
	}
	s.publisher.Publish(ctx, events.Event{
		Kind:       kind,
		Action:     action,
		TenantID:   v.TenantID,
		Subject:    "voucher",
		SubjectID:  v.ID,
		Data:       data,
		OccurredAt: s.now(),
	})
}
