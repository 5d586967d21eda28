package store

import (
	"context"

	"github.com/juju/errors"

	"go-hotspot/db"
)

func (s *Store) CreateVoucher(ctx context.Context, v *db.Voucher) error {
	return translate(s.db.WithContext(ctx).Create(v).Error, "voucher", v.Code)
}

func (s *Store) GetVoucher(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	var v db.Voucher
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).First(&v, id).Error
	return &v, translate(err, "voucher", id)
}

// LockVoucher reads the voucher with SELECT ... FOR UPDATE. Only meaningful
// inside Transaction.
func (s *Store) LockVoucher(ctx context.Context, tenant string, id uint) (*db.Voucher, error) {
	var v db.Voucher
	err := s.locked().WithContext(ctx).Where("tenant_id = ?", tenant).First(&v, id).Error
	return &v, translate(err, "voucher", id)
}

func (s *Store) VoucherByCode(ctx context.Context, tenant, code string) (*db.Voucher, error) {
	var v db.Voucher
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND code = ?", tenant, code).First(&v).Error
	return &v, translate(err, "voucher", code)
}

func (s *Store) VoucherByPayment(ctx context.Context, tenant string, paymentID uint) (*db.Voucher, error) {
	var v db.Voucher
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND payment_id = ?", tenant, paymentID).First(&v).Error
	return &v, translate(err, "voucher for payment", paymentID)
}

func (s *Store) VoucherCodeExists(ctx context.Context, tenant, code string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&db.Voucher{}).
		Where("tenant_id = ? AND code = ?", tenant, code).Count(&n).Error
	return n > 0, errors.Trace(err)
}

func (s *Store) SaveVoucher(ctx context.Context, v *db.Voucher) error {
	return translate(s.db.WithContext(ctx).Save(v).Error, "voucher", v.ID)
}

// DeleteVoucher hard-deletes a voucher and detaches any device login bound to it.
func (s *Store) DeleteVoucher(ctx context.Context, tenant string, id uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		err := tx.db.WithContext(ctx).Model(&db.DeviceUser{}).
			Where("tenant_id = ? AND voucher_id = ?", tenant, id).
			Updates(map[string]any{"voucher_id": nil, "active": false}).Error
		if err != nil {
			return errors.Annotatef(err, "detaching device users from voucher %d", id)
		}
		res := tx.db.WithContext(ctx).Where("tenant_id = ?", tenant).Delete(&db.Voucher{}, id)
		if res.Error != nil {
			return errors.Annotatef(res.Error, "deleting voucher %d", id)
		}
		if res.RowsAffected == 0 {
			return errors.NotFoundf("voucher %d", id)
		}
		return nil
	})
}

func (s *Store) CountVouchers(ctx context.Context, tenant string, filters ...Filter) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&db.Voucher{}).Where("tenant_id = ?", tenant)
	err := apply(q, filters).Count(&n).Error
	return n, errors.Trace(err)
}

func (s *Store) FindVouchers(ctx context.Context, tenant string, filters ...Filter) ([]db.Voucher, error) {
	var out []db.Voucher
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenant)
	err := apply(q, filters).Order("id").Find(&out).Error
	return out, errors.Trace(err)
}

// VoucherTenants lists every tenant that owns at least one voucher.
func (s *Store) VoucherTenants(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&db.Voucher{}).Distinct().Order("tenant_id").Pluck("tenant_id", &out).Error
	return out, errors.Trace(err)
}
