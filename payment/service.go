package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/events"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/store"
	"go-hotspot/voucher"
)

type Config struct {
	// CallbackBase is the public URL gateways call back to.
	CallbackBase string
	// PendingAfter is how old a pending payment must be before the poller
	// asks its gateway about it.
	PendingAfter time.Duration
	PollBatch    int
}

type Service struct {
	cfg       Config
	store     *store.Store
	gateways  *Registry
	queue     *jobs.Queue
	vouchers  *voucher.Service
	publisher events.Publisher
	clock     clock.Clock
	logger    *log.Logger
}

func NewService(cfg Config, s *store.Store, gateways *Registry, q *jobs.Queue, vouchers *voucher.Service,
	pub events.Publisher, clk clock.Clock, logger *log.Logger) *Service {
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 100
	}
	return &Service{
		cfg:       cfg,
		store:     s,
		gateways:  gateways,
		queue:     q,
		vouchers:  vouchers,
		publisher: pub,
		clock:     clk,
		logger:    logger.Named("payment"),
	}
}

type InitiateRequest struct {
	Provider      Provider `json:"provider"`
	Amount        int64    `json:"amount"`
	Currency      string   `json:"currency"`
	Profile       string   `json:"profile"`
	ValidityHours int      `json:"validity_hours"`
	DataLimitMB   *int64   `json:"data_limit_mb,omitempty"`
	DeviceID      *uint    `json:"device_id,omitempty"`
	Description   string   `json:"description,omitempty"`
}

func (r InitiateRequest) validate() error {
	switch {
	case r.Amount <= 0:
		return errors.NotValidf("amount %d", r.Amount)
	case r.Currency == "":
		return errors.NotValidf("empty currency")
	case r.ValidityHours <= 0:
		return errors.NotValidf("validity of %d hours", r.ValidityHours)
	}
	return nil
}

// Initiate records a pending payment and opens it with the gateway.
func (s *Service) Initiate(ctx context.Context, tenant string, req InitiateRequest) (*db.Payment, InitResult, error) {
	if err := req.validate(); err != nil {
		return nil, InitResult{}, err
	}
	gw, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, InitResult{}, err
	}

	p := &db.Payment{
		TenantID:      tenant,
		TransactionID: uuid.NewString(),
		Gateway:       string(req.Provider),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        db.PaymentPending,
		Profile:       req.Profile,
		ValidityHours: req.ValidityHours,
		DataLimitMB:   req.DataLimitMB,
		DeviceID:      req.DeviceID,
	}
	p.AuditTrail = append(p.AuditTrail, db.PaymentAuditEntry{At: s.now(), To: db.PaymentPending, Actor: "system", Note: "checkout"})
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, InitResult{}, errors.Trace(err)
	}

	res, err := gw.Initialize(ctx, InitRequest{
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   req.Description,
		CallbackURL:   fmt.Sprintf("%s/callbacks/%s/%s", s.cfg.CallbackBase, tenant, p.TransactionID),
	})
	if err != nil || !res.Success {
		if err == nil {
			err = errors.Errorf("gateway %s declined payment %s", req.Provider, p.TransactionID)
		}
		if _, ferr := s.Fail(ctx, tenant, p.ID, err.Error()); ferr != nil {
			s.logger.Warnw("recording failed initialisation", "payment", p.TransactionID, "err", ferr)
		}
		return nil, InitResult{}, errors.Annotatef(err, "initialising payment %s", p.TransactionID)
	}

	p.GatewayReference = res.Reference
	p.GatewayResponse = res.Raw
	if err := s.store.SavePayment(ctx, p); err != nil {
		return nil, InitResult{}, errors.Trace(err)
	}
	return p, res, nil
}

func (s *Service) Get(ctx context.Context, tenant string, id uint) (*db.Payment, error) {
	return s.store.GetPayment(ctx, tenant, id)
}

// HandleCallback reacts to a gateway callback. The callback only tells us
// which payment to look at; the outcome is always re-verified with the
// gateway.
func (s *Service) HandleCallback(ctx context.Context, tenant, transactionID string) (*db.Payment, error) {
	p, err := s.store.PaymentByTransaction(ctx, tenant, transactionID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s.Verify(ctx, tenant, p.ID)
}

// Verify asks the gateway for the payment's current state and applies it.
func (s *Service) Verify(ctx context.Context, tenant string, id uint) (*db.Payment, error) {
	p, err := s.store.GetPayment(ctx, tenant, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if p.Status != db.PaymentPending {
		return p, nil
	}
	gw, err := s.gateways.Get(Provider(p.Gateway))
	if err != nil {
		return nil, err
	}
	res, err := gw.Verify(ctx, p.TransactionID)
	if err != nil {
		return nil, errors.Annotatef(err, "verifying payment %s", p.TransactionID)
	}

	switch res.Status {
	case db.PaymentCompleted:
		return s.transition(ctx, tenant, id, db.PaymentCompleted, "gateway", "verified", func(p *db.Payment) {
			if res.Reference != "" {
				p.GatewayReference = res.Reference
			}
			if res.Raw != nil {
				p.GatewayResponse = res.Raw
			}
		})
	case db.PaymentFailed:
		return s.transition(ctx, tenant, id, db.PaymentFailed, "gateway", "gateway reported failure", func(p *db.Payment) {
			if res.Raw != nil {
				p.GatewayResponse = res.Raw
			}
		})
	default:
		return p, nil
	}
}

// ConfirmManual completes a payment taken outside any gateway.
func (s *Service) ConfirmManual(ctx context.Context, tenant string, id uint, actor string) (*db.Payment, error) {
	p, err := s.store.GetPayment(ctx, tenant, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if Provider(p.Gateway) != ProviderManual {
		return nil, core.InvalidStatef("payment %s uses %s and cannot be confirmed by hand", p.TransactionID, p.Gateway)
	}
	return s.transition(ctx, tenant, id, db.PaymentCompleted, actor, "manual confirmation", nil)
}

func (s *Service) Fail(ctx context.Context, tenant string, id uint, reason string) (*db.Payment, error) {
	return s.transition(ctx, tenant, id, db.PaymentFailed, "system", reason, nil)
}

func (s *Service) Cancel(ctx context.Context, tenant string, id uint, actor string) (*db.Payment, error) {
	return s.transition(ctx, tenant, id, db.PaymentCancelled, actor, "cancelled", nil)
}

// Refund returns the money through the gateway, marks the payment refunded
// and disables its voucher.
func (s *Service) Refund(ctx context.Context, tenant string, id uint, actor, reason string) (*db.Payment, error) {
	p, err := s.store.GetPayment(ctx, tenant, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if p.Status != db.PaymentCompleted {
		return nil, core.InvalidStatef("payment %s is %s, only completed payments can be refunded", p.TransactionID, p.Status)
	}
	gw, err := s.gateways.Get(Provider(p.Gateway))
	if err != nil {
		return nil, err
	}
	if err := gw.Refund(ctx, p.TransactionID, p.Amount); err != nil {
		return nil, errors.Annotatef(err, "refunding payment %s", p.TransactionID)
	}

	p, err = s.transition(ctx, tenant, id, db.PaymentRefunded, actor, reason, func(p *db.Payment) {
		if reason != "" {
			if p.DisputeMetadata == nil {
				p.DisputeMetadata = map[string]any{}
			}
			p.DisputeMetadata["refund_reason"] = reason
		}
	})
	if err != nil {
		return nil, err
	}

	v, err := s.store.VoucherByPayment(ctx, tenant, id)
	switch {
	case errors.Is(err, errors.NotFound):
		return p, nil
	case err != nil:
		return nil, errors.Trace(err)
	case v.Status.Terminal():
		return p, nil
	}
	if _, err := s.vouchers.Disable(ctx, tenant, v.ID, "payment refunded"); err != nil {
		return nil, errors.Annotatef(err, "disabling voucher %s", v.Code)
	}
	if _, err := s.queue.Enqueue(ctx, tenant, jobs.KindRevokeVoucher, v.ID); err != nil {
		return nil, errors.Trace(err)
	}
	return p, nil
}

// PollPending verifies stale pending payments with their gateways. Failures
// are logged per payment; the count of payments that changed is returned.
func (s *Service) PollPending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PendingAfter)
	pending, err := s.store.PendingPayments(ctx, cutoff, s.cfg.PollBatch)
	if err != nil {
		return 0, errors.Trace(err)
	}
	changed := 0
	for _, p := range pending {
		if Provider(p.Gateway) == ProviderManual {
			continue
		}
		updated, err := s.Verify(ctx, p.TenantID, p.ID)
		if err != nil {
			s.logger.Warnw("verifying pending payment failed", "tenant", p.TenantID, "payment", p.TransactionID, "err", err)
			continue
		}
		if updated.Status != db.PaymentPending {
			changed++
		}
	}
	return changed, nil
}

var allowedFrom = map[db.PaymentStatus][]db.PaymentStatus{
	db.PaymentCompleted: {db.PaymentPending},
	db.PaymentFailed:    {db.PaymentPending},
	db.PaymentCancelled: {db.PaymentPending},
	db.PaymentRefunded:  {db.PaymentCompleted},
}

// transition moves a payment to status `to` under a row lock. Repeating a
// transition that already happened is a no-op. Completing a payment enqueues
// its reconcile job in the same transaction.
func (s *Service) transition(ctx context.Context, tenant string, id uint, to db.PaymentStatus, actor, note string, mutate func(*db.Payment)) (*db.Payment, error) {
	var (
		p       *db.Payment
		changed bool
		from    db.PaymentStatus
	)
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockPayment(ctx, tenant, id)
		if err != nil {
			return errors.Trace(err)
		}
		p = locked
		from = locked.Status
		if locked.Status == to {
			return nil
		}
		if !contains(allowedFrom[to], locked.Status) {
			return core.InvalidStatef("payment %s is %s and cannot become %s", locked.TransactionID, locked.Status, to)
		}

		now := s.now()
		locked.Status = to
		switch to {
		case db.PaymentCompleted:
			locked.PaidAt = &now
		case db.PaymentFailed:
			locked.FailedAt = &now
		case db.PaymentRefunded:
			locked.RefundedAt = &now
		}
		if mutate != nil {
			mutate(locked)
		}
		locked.AuditTrail = append(locked.AuditTrail, db.PaymentAuditEntry{At: now, From: from, To: to, Actor: actor, Note: note})
		if err := tx.SavePayment(ctx, locked); err != nil {
			return errors.Trace(err)
		}
		if to == db.PaymentCompleted {
			if _, err := s.queue.EnqueueTx(ctx, tx, tenant, jobs.KindReconcilePayment, locked.ID); err != nil {
				return errors.Trace(err)
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Infow("payment status changed", "tenant", tenant, "payment", p.TransactionID, "from", from, "to", to, "actor", actor)
		s.publisher.Publish(ctx, events.Event{
			Kind:       events.PaymentStatusChanged,
			Action:     events.Updated,
			TenantID:   tenant,
			Subject:    "payment",
			SubjectID:  p.ID,
			Data:       map[string]any{"from": from, "to": to, "transaction_id": p.TransactionID},
			OccurredAt: s.now(),
		})
	}
	return p, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func contains(list []db.PaymentStatus, s db.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
