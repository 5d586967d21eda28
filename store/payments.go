package store

import (
	"context"
	"time"

	"github.com/juju/errors"

	"go-hotspot/db"
)

func (s *Store) CreatePayment(ctx context.Context, p *db.Payment) error {
	return translate(s.db.WithContext(ctx).Create(p).Error, "payment", p.TransactionID)
}

func (s *Store) GetPayment(ctx context.Context, tenant string, id uint) (*db.Payment, error) {
	var p db.Payment
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).First(&p, id).Error
	return &p, translate(err, "payment", id)
}

func (s *Store) LockPayment(ctx context.Context, tenant string, id uint) (*db.Payment, error) {
	var p db.Payment
	err := s.locked().WithContext(ctx).Where("tenant_id = ?", tenant).First(&p, id).Error
	return &p, translate(err, "payment", id)
}

func (s *Store) PaymentByTransaction(ctx context.Context, tenant, transactionID string) (*db.Payment, error) {
	var p db.Payment
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND transaction_id = ?", tenant, transactionID).First(&p).Error
	return &p, translate(err, "payment", transactionID)
}

func (s *Store) SavePayment(ctx context.Context, p *db.Payment) error {
	return translate(s.db.WithContext(ctx).Save(p).Error, "payment", p.ID)
}

// PendingPayments returns pending payments created before cutoff, across
// tenants, oldest first.
func (s *Store) PendingPayments(ctx context.Context, cutoff time.Time, limit int) ([]db.Payment, error) {
	var out []db.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", db.PaymentPending, cutoff).
		Order("created_at").Limit(limit).Find(&out).Error
	return out, errors.Trace(err)
}
