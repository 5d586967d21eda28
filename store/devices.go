package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"

	"go-hotspot/db"
)

func deviceKey(tenant string, id uint) string {
	return fmt.Sprintf("device:%s:%d", tenant, id)
}

func (s *Store) CreateDevice(ctx context.Context, d *db.Device) error {
	return translate(s.db.WithContext(ctx).Create(d).Error, "device", d.Name)
}

// cachedDevice keeps the sealed credential, which the device's own JSON
// form leaves out.
type cachedDevice struct {
	*db.Device
	PasswordEnc []byte `json:"password_enc"`
}

// GetDevice serves reads from the cache when possible.
func (s *Store) GetDevice(ctx context.Context, tenant string, id uint) (*db.Device, error) {
	key := deviceKey(tenant, id)
	if s.cache != nil && s.pending == nil {
		if b, err := s.cache.Get(ctx, key); err == nil {
			var d db.Device
			c := cachedDevice{Device: &d}
			if json.Unmarshal(b, &c) == nil {
				d.PasswordEnc = c.PasswordEnc
				return &d, nil
			}
		}
	}

	var d db.Device
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).First(&d, id).Error
	if err != nil {
		return nil, translate(err, "device", id)
	}
	if s.cache != nil && s.pending == nil {
		if b, err := json.Marshal(cachedDevice{Device: &d, PasswordEnc: d.PasswordEnc}); err == nil {
			_ = s.cache.Set(ctx, key, b, s.ttl)
		}
	}
	return &d, nil
}

func (s *Store) LockDevice(ctx context.Context, tenant string, id uint) (*db.Device, error) {
	var d db.Device
	err := s.locked().WithContext(ctx).Where("tenant_id = ?", tenant).First(&d, id).Error
	return &d, translate(err, "device", id)
}

func (s *Store) ListDevices(ctx context.Context, tenant string) ([]db.Device, error) {
	var out []db.Device
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).Order("id").Find(&out).Error
	return out, errors.Trace(err)
}

func (s *Store) CountDevices(ctx context.Context, tenant string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&db.Device{}).Where("tenant_id = ?", tenant).Count(&n).Error
	return n, errors.Trace(err)
}

func (s *Store) SaveDevice(ctx context.Context, d *db.Device) error {
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return translate(err, "device", d.ID)
	}
	s.invalidate(ctx, deviceKey(d.TenantID, d.ID))
	return nil
}

// DeleteDevice removes the device together with its device-scoped logins.
// Configuration history and failure records are kept for audit.
func (s *Store) DeleteDevice(ctx context.Context, tenant string, id uint) error {
	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Where("tenant_id = ? AND device_id = ?", tenant, id).
			Delete(&db.DeviceUser{}).Error; err != nil {
			return errors.Annotatef(err, "deleting users of device %d", id)
		}
		res := tx.db.WithContext(ctx).Where("tenant_id = ?", tenant).Delete(&db.Device{}, id)
		if res.Error != nil {
			return errors.Annotatef(res.Error, "deleting device %d", id)
		}
		if res.RowsAffected == 0 {
			return errors.NotFoundf("device %d", id)
		}
		tx.invalidate(ctx, deviceKey(tenant, id))
		return nil
	})
	return err
}

// DeviceTenants lists every tenant that has registered devices.
func (s *Store) DeviceTenants(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&db.Device{}).Distinct().Order("tenant_id").Pluck("tenant_id", &out).Error
	return out, errors.Trace(err)
}

func (s *Store) CreateDeviceUser(ctx context.Context, u *db.DeviceUser) error {
	return translate(s.db.WithContext(ctx).Create(u).Error, "device user", u.Username)
}

func (s *Store) DeviceUserByVoucher(ctx context.Context, tenant string, voucherID uint) (*db.DeviceUser, error) {
	var u db.DeviceUser
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND voucher_id = ?", tenant, voucherID).First(&u).Error
	return &u, translate(err, "device user for voucher", voucherID)
}

func (s *Store) DeviceUserByName(ctx context.Context, tenant string, deviceID uint, username string) (*db.DeviceUser, error) {
	var u db.DeviceUser
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND username = ?", tenant, deviceID, username).First(&u).Error
	return &u, translate(err, "device user", username)
}

func (s *Store) ActiveDeviceUsers(ctx context.Context, tenant string, deviceID uint) ([]db.DeviceUser, error) {
	var out []db.DeviceUser
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND active = ?", tenant, deviceID, true).
		Order("id").Find(&out).Error
	return out, errors.Trace(err)
}

func (s *Store) SaveDeviceUser(ctx context.Context, u *db.DeviceUser) error {
	return translate(s.db.WithContext(ctx).Save(u).Error, "device user", u.ID)
}

func (s *Store) AppendDeviceEvent(ctx context.Context, e *db.DeviceEvent) error {
	return errors.Trace(s.db.WithContext(ctx).Create(e).Error)
}

func (s *Store) DeviceEvents(ctx context.Context, tenant string, deviceID uint) ([]db.DeviceEvent, error) {
	var out []db.DeviceEvent
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND device_id = ?", tenant, deviceID).
		Order("created_at, id").Find(&out).Error
	return out, errors.Trace(err)
}
