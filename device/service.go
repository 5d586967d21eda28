package device

import (
	"context"
	"time"

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

// LimitsFunc returns the resource limits of a tenant.
type LimitsFunc func(tenant string) core.Limits

type Service struct {
	store     *store.Store
	adapter   Adapter
	sealer    *Sealer
	queue     *jobs.Queue
	vouchers  *voucher.Service
	publisher events.Publisher
	clock     clock.Clock
	logger    *log.Logger
	limits    LimitsFunc
	// callTimeout bounds every adapter call made on behalf of a caller.
	callTimeout time.Duration
}

type ServiceConfig struct {
	CallTimeout time.Duration
	Limits      LimitsFunc
}

func NewService(cfg ServiceConfig, s *store.Store, adapter Adapter, sealer *Sealer, q *jobs.Queue,
	vouchers *voucher.Service, pub events.Publisher, clk clock.Clock, logger *log.Logger) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Limits == nil {
		cfg.Limits = func(string) core.Limits { return core.Limits{} }
	}
	return &Service{
		store:       s,
		adapter:     adapter,
		sealer:      sealer,
		queue:       q,
		vouchers:    vouchers,
		publisher:   pub,
		clock:       clk,
		logger:      logger.Named("device"),
		limits:      cfg.Limits,
		callTimeout: cfg.CallTimeout,
	}
}

type RegisterRequest struct {
	Name          string         `json:"name"`
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	Username      string         `json:"username"`
	Password      string         `json:"password"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

func (r RegisterRequest) validate() error {
	switch {
	case r.Name == "":
		return core.Configurationf("device name is required")
	case r.Host == "":
		return core.Configurationf("device host is required")
	case r.Port <= 0 || r.Port > 65535:
		return core.Configurationf("device port %d out of range", r.Port)
	}
	return nil
}

// Register adds a device to the tenant's fleet and schedules its first poll.
// An initial configuration, when given, is recorded as an update.
func (s *Service) Register(ctx context.Context, tenant string, req RegisterRequest, actor *uint) (*db.Device, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(req.Password)
	if err != nil {
		return nil, errors.Annotate(err, "sealing device password")
	}

	d := &db.Device{
		TenantID:      tenant,
		Name:          req.Name,
		Host:          req.Host,
		Port:          req.Port,
		Username:      req.Username,
		PasswordEnc:   sealed,
		Status:        db.DeviceOffline,
		Configuration: req.Configuration,
	}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		n, err := tx.CountDevices(ctx, tenant)
		if err != nil {
			return errors.Trace(err)
		}
		if !s.limits(tenant).AllowsDevices(n) {
			return core.InvalidStatef("tenant %s reached its device limit of %d", tenant, s.limits(tenant).MaxDevices)
		}
		if err := tx.CreateDevice(ctx, d); err != nil {
			return errors.Trace(err)
		}
		if len(req.Configuration) > 0 {
			if err := s.appendHistory(ctx, tx, d, req.Configuration, db.ChangeUpdate, actor, nil); err != nil {
				return err
			}
		}
		_, err = s.queue.EnqueueTx(ctx, tx, tenant, jobs.KindPollDevice, d.ID)
		return errors.Trace(err)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("device registered", "tenant", tenant, "device", d.ID, "addr", Target{Host: d.Host, Port: d.Port}.Addr())
	s.publish(ctx, events.DeviceStatusChanged, events.Added, d, map[string]any{"status": d.Status})
	return d, nil
}

func (s *Service) Get(ctx context.Context, tenant string, id uint) (*db.Device, error) {
	return s.store.GetDevice(ctx, tenant, id)
}

func (s *Service) List(ctx context.Context, tenant string) ([]db.Device, error) {
	return s.store.ListDevices(ctx, tenant)
}

// Delete removes the device and its device-scoped users. History is kept.
func (s *Service) Delete(ctx context.Context, tenant string, id uint) error {
	d, err := s.store.GetDevice(ctx, tenant, id)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.store.DeleteDevice(ctx, tenant, id); err != nil {
		return errors.Trace(err)
	}
	s.logger.Infow("device deleted", "tenant", tenant, "device", id)
	s.publish(ctx, events.DeviceStatusChanged, events.Deleted, d, nil)
	return nil
}

// Target resolves a device's address and decrypted credentials.
func (s *Service) Target(d *db.Device) (Target, error) {
	if len(d.PasswordEnc) == 0 && d.Username != "" {
		return Target{}, newFailure(FailureConfig, core.Configurationf("device %d has no stored credential for %s", d.ID, d.Username))
	}
	password, err := s.sealer.Open(d.PasswordEnc)
	if err != nil {
		return Target{}, newFailure(FailureConfig, err)
	}
	return Target{ID: d.ID, Host: d.Host, Port: d.Port, Username: d.Username, Password: password}, nil
}

// UpdateConfiguration pushes cfg to the device. The previous configuration,
// if any, is written to history as a backup before the device is touched,
// and the new one is recorded as an update afterwards. Nothing is recorded
// if the device refuses the change.
func (s *Service) UpdateConfiguration(ctx context.Context, tenant string, id uint, cfg map[string]any, actor *uint) (*db.Device, error) {
	if len(cfg) == 0 {
		return nil, core.Configurationf("empty configuration for device %d", id)
	}
	return s.reconfigure(ctx, tenant, id, cfg, db.ChangeUpdate, actor, nil)
}

// Restore re-applies the snapshot of a history entry and records a new
// restore entry pointing at it.
func (s *Service) Restore(ctx context.Context, tenant string, deviceID, historyID uint, actor *uint) (*db.Device, error) {
	entry, err := s.store.GetConfigHistory(ctx, tenant, historyID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if entry.DeviceID != deviceID {
		return nil, errors.NotFoundf("configuration history entry %d for device %d", historyID, deviceID)
	}
	if len(entry.Snapshot) == 0 {
		return nil, core.InvalidStatef("history entry %d holds no configuration", historyID)
	}
	return s.reconfigure(ctx, tenant, deviceID, entry.Snapshot, db.ChangeRestore, actor, &entry.ID)
}

// RestoreLatestBackup restores the most recent backup entry.
func (s *Service) RestoreLatestBackup(ctx context.Context, tenant string, deviceID uint, actor *uint) (*db.Device, error) {
	backup, err := s.store.LatestBackup(ctx, tenant, deviceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s.Restore(ctx, tenant, deviceID, backup.ID, actor)
}

func (s *Service) History(ctx context.Context, tenant string, deviceID uint) ([]db.ConfigHistory, error) {
	if _, err := s.store.GetDevice(ctx, tenant, deviceID); err != nil {
		return nil, errors.Trace(err)
	}
	return s.store.ConfigHistory(ctx, tenant, deviceID)
}

// reconfigure holds the device row for the whole change so configuration
// writes to one device are serialised. Other devices are unaffected.
func (s *Service) reconfigure(ctx context.Context, tenant string, id uint, cfg map[string]any, change db.ChangeType, actor, source *uint) (*db.Device, error) {
	var d *db.Device
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockDevice(ctx, tenant, id)
		if err != nil {
			return errors.Trace(err)
		}
		if len(locked.Configuration) > 0 {
			if err := s.appendHistory(ctx, tx, locked, locked.Configuration, db.ChangeBackup, actor, nil); err != nil {
				return err
			}
			locked.BackupConfiguration = locked.Configuration
		}

		t, err := s.Target(locked)
		if err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err = s.adapter.ApplyConfiguration(callCtx, t, cfg)
		cancel()
		if err != nil {
			return errors.Annotatef(err, "applying configuration to %s", t)
		}

		locked.Configuration = cfg
		if err := tx.SaveDevice(ctx, locked); err != nil {
			return errors.Trace(err)
		}
		if err := s.appendHistory(ctx, tx, locked, cfg, change, actor, source); err != nil {
			return err
		}
		d = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("device configuration changed", "tenant", tenant, "device", id, "change", change, "actor", actorID(actor))
	data := map[string]any{"change_type": change}
	if source != nil {
		data["source_id"] = *source
	}
	s.publish(ctx, events.ConfigurationChanged, events.Updated, d, data)
	return d, nil
}

func (s *Service) appendHistory(ctx context.Context, tx *store.Store, d *db.Device, snapshot map[string]any, change db.ChangeType, actor, source *uint) error {
	h := &db.ConfigHistory{
		TenantID:   d.TenantID,
		DeviceID:   d.ID,
		Snapshot:   copyMap(snapshot),
		ChangeType: change,
		ActorID:    actor,
		SourceID:   source,
	}
	return errors.Annotatef(tx.AppendConfigHistory(ctx, h), "recording %s of device %d", change, d.ID)
}

// ProvisionVoucher creates the voucher's login on the device its payment
// named. Vouchers bought without a target device need nothing.
func (s *Service) ProvisionVoucher(ctx context.Context, tenant string, voucherID uint) error {
	v, err := s.store.GetVoucher(ctx, tenant, voucherID)
	if err != nil {
		return errors.Trace(err)
	}
	now := s.clock.Now().UTC()
	if !voucher.IsUsable(v, now) {
		return core.InvalidStatef("voucher %s is %s and cannot be provisioned", v.Code, v.Status)
	}
	p, err := s.store.GetPayment(ctx, tenant, v.PaymentID)
	if err != nil {
		return errors.Trace(err)
	}
	if p.DeviceID == nil {
		return nil
	}
	d, err := s.store.GetDevice(ctx, tenant, *p.DeviceID)
	if err != nil {
		return errors.Trace(err)
	}
	t, err := s.Target(d)
	if err != nil {
		return err
	}

	creds := Credentials{
		Username:    v.Code,
		Password:    v.Password,
		Profile:     v.Profile,
		LimitUptime: int64(voucher.RemainingTime(v, now) / time.Second),
	}
	if v.DataLimitMB != nil {
		creds.LimitBytes = *v.DataLimitMB * 1024 * 1024
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.adapter.ProvisionUser(callCtx, t, creds); err != nil {
		return errors.Annotatef(err, "provisioning voucher %s on %s", v.Code, t)
	}

	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		u, err := tx.DeviceUserByName(ctx, tenant, d.ID, v.Code)
		switch {
		case errors.Is(err, errors.NotFound):
			u = &db.DeviceUser{TenantID: tenant, DeviceID: d.ID, Username: v.Code}
		case err != nil:
			return errors.Trace(err)
		}
		u.Password = v.Password
		u.Profile = v.Profile
		u.VoucherID = &v.ID
		u.Active = true
		if u.ID == 0 {
			if err := tx.CreateDeviceUser(ctx, u); err != nil {
				return errors.Trace(err)
			}
		} else if err := tx.SaveDeviceUser(ctx, u); err != nil {
			return errors.Trace(err)
		}

		locked, err := tx.LockVoucher(ctx, tenant, v.ID)
		if err != nil {
			return errors.Trace(err)
		}
		meta := copyMap(locked.DeviceMetadata)
		meta["device_id"] = d.ID
		meta["username"] = v.Code
		meta["provisioned_at"] = now.Format(time.RFC3339)
		locked.DeviceMetadata = meta
		return tx.SaveVoucher(ctx, locked)
	})
	if err != nil {
		return err
	}
	s.logger.Infow("voucher provisioned", "tenant", tenant, "voucher", v.Code, "device", d.ID)
	return nil
}

// RevokeVoucher removes the voucher's login from its device. A voucher that
// was never provisioned, or whose device is gone, is already revoked.
func (s *Service) RevokeVoucher(ctx context.Context, tenant string, voucherID uint) error {
	u, err := s.store.DeviceUserByVoucher(ctx, tenant, voucherID)
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	return s.revokeUser(ctx, tenant, u)
}

func (s *Service) revokeUser(ctx context.Context, tenant string, u *db.DeviceUser) error {
	d, err := s.store.GetDevice(ctx, tenant, u.DeviceID)
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	t, err := s.Target(d)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.adapter.RevokeUser(callCtx, t, u.Username); err != nil {
		return errors.Annotatef(err, "revoking %s on %s", u.Username, t)
	}
	u.Active = false
	if err := s.store.SaveDeviceUser(ctx, u); err != nil {
		return errors.Trace(err)
	}
	s.logger.Infow("device user revoked", "tenant", tenant, "device", d.ID, "username", u.Username)
	return nil
}

func (s *Service) HandleProvisionJob(ctx context.Context, job *db.Job) error {
	return s.ProvisionVoucher(ctx, job.TenantID, job.RefID)
}

func (s *Service) HandleRevokeJob(ctx context.Context, job *db.Job) error {
	return s.RevokeVoucher(ctx, job.TenantID, job.RefID)
}

func (s *Service) publish(ctx context.Context, kind events.Kind, action events.Action, d *db.Device, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["name"] = d.Name
	s.publisher.Publish(ctx, events.Event{
		Kind:       kind,
		Action:     action,
		TenantID:   d.TenantID,
		Subject:    "device",
		SubjectID:  d.ID,
		Data:       data,
		OccurredAt: s.clock.Now().UTC(),
	})
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func actorID(actor *uint) any {
	if actor == nil {
		return "system"
	}
	return *actor
}
