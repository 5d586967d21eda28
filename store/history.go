package store

import (
	"context"

	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
)

// AppendConfigHistory inserts a new history row. There is deliberately no
// way to update or delete one.
func (s *Store) AppendConfigHistory(ctx context.Context, h *db.ConfigHistory) error {
	if h.ID != 0 {
		return core.InvalidStatef("configuration history entry %d already written", h.ID)
	}
	return errors.Trace(s.db.WithContext(ctx).Create(h).Error)
}

func (s *Store) GetConfigHistory(ctx context.Context, tenant string, id uint) (*db.ConfigHistory, error) {
	var h db.ConfigHistory
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).First(&h, id).Error
	return &h, translate(err, "configuration history entry", id)
}

// ConfigHistory lists a device's entries in creation order.
func (s *Store) ConfigHistory(ctx context.Context, tenant string, deviceID uint) ([]db.ConfigHistory, error) {
	var out []db.ConfigHistory
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND device_id = ?", tenant, deviceID).
		Order("created_at, id").Find(&out).Error
	return out, errors.Trace(err)
}

func (s *Store) LatestBackup(ctx context.Context, tenant string, deviceID uint) (*db.ConfigHistory, error) {
	var h db.ConfigHistory
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND change_type = ?", tenant, deviceID, db.ChangeBackup).
		Order("created_at DESC, id DESC").First(&h).Error
	return &h, translate(err, "backup for device", deviceID)
}
