package device

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"go-hotspot/db"
	"go-hotspot/events"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/store"
	"go-hotspot/voucher"
)

type MonitorConfig struct {
	// PollTimeout bounds the status query of a single device.
	PollTimeout time.Duration
	// Concurrency is how many devices are polled at once.
	Concurrency int
	// SyncSessions also pulls active sessions from online devices and
	// records their usage on the vouchers.
	SyncSessions bool
}

// Monitor is the device reconciliation loop. Each poll queries the device
// without holding any lock and then applies the outcome under the device's
// row lock.
type Monitor struct {
	cfg       MonitorConfig
	store     *store.Store
	devices   *Service
	vouchers  *voucher.Service
	queue     *jobs.Queue
	publisher events.Publisher
	clock     clock.Clock
	logger    *log.Logger
}

func NewMonitor(cfg MonitorConfig, devices *Service, vouchers *voucher.Service, q *jobs.Queue,
	pub events.Publisher, clk clock.Clock, logger *log.Logger) *Monitor {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Monitor{
		cfg:       cfg,
		store:     devices.store,
		devices:   devices,
		vouchers:  vouchers,
		queue:     q,
		publisher: pub,
		clock:     clk,
		logger:    logger.Named("monitor"),
	}
}

// PollResult summarises one poll cycle.
type PollResult struct {
	Polled  int      `json:"polled"`
	Online  int      `json:"online"`
	Offline int      `json:"offline"`
	Error   int      `json:"error"`
	Errors  []string `json:"errors"`
}

func (r *PollResult) count(d *db.Device) {
	r.Polled++
	switch d.Status {
	case db.DeviceOnline:
		r.Online++
	case db.DeviceOffline:
		r.Offline++
	case db.DeviceError:
		r.Error++
	}
}

// PollAll polls every device of tenant, or of all tenants when tenant is
// empty. A device that fails, hangs or cannot be saved is reported in the
// result and never stops the others.
func (m *Monitor) PollAll(ctx context.Context, tenant string) (PollResult, error) {
	result := PollResult{Errors: []string{}}

	tenants := []string{tenant}
	if tenant == "" {
		all, err := m.store.DeviceTenants(ctx)
		if err != nil {
			return result, errors.Annotate(err, "listing tenants")
		}
		tenants = all
	}
	var fleet []db.Device
	for _, t := range tenants {
		devices, err := m.store.ListDevices(ctx, t)
		if err != nil {
			return result, errors.Annotatef(err, "listing devices of %s", t)
		}
		fleet = append(fleet, devices...)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.cfg.Concurrency)
	for i := range fleet {
		d := fleet[i]
		g.Go(func() error {
			updated, err := m.PollDevice(ctx, d.TenantID, d.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Errorw("polling device failed", "tenant", d.TenantID, "device", d.ID, "err", err)
				result.Errors = append(result.Errors, errors.Annotatef(err, "device %d", d.ID).Error())
				return nil
			}
			result.count(updated)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Infow("device poll finished", "tenant", tenant, "polled", result.Polled,
		"online", result.Online, "offline", result.Offline, "error", result.Error, "failures", len(result.Errors))
	return result, nil
}

// PollDevice queries one device and records the outcome. Connectivity
// problems become a status, not an error; the error return is for lookups
// and persistence.
func (m *Monitor) PollDevice(ctx context.Context, tenant string, id uint) (*db.Device, error) {
	d, err := m.store.GetDevice(ctx, tenant, id)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var status Status
	t, callErr := m.devices.Target(d)
	if callErr == nil {
		pollCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
		status, callErr = m.devices.adapter.QueryStatus(pollCtx, t)
		cancel()
	}
	if err := ctx.Err(); err != nil {
		// Caller gave up; leave the recorded status alone.
		return nil, errors.Annotatef(err, "polling device %d", id)
	}
	if callErr != nil {
		m.logger.Warnw("device unreachable", "tenant", tenant, "device", id, "class", Classify(callErr), "err", callErr)
	}

	updated, from, err := m.apply(ctx, tenant, id, status, callErr)
	if err != nil {
		return nil, err
	}
	if from != updated.Status {
		data := map[string]any{"from": from, "to": updated.Status}
		if updated.FailureClass != "" {
			data["failure_class"] = updated.FailureClass
		}
		if callErr == nil {
			data["metrics"] = status.Metrics()
		}
		m.devices.publish(ctx, events.DeviceStatusChanged, events.Updated, updated, data)
	}

	if callErr == nil && m.cfg.SyncSessions {
		if err := m.SyncSessions(ctx, updated, t); err != nil {
			m.logger.Warnw("session sync failed", "tenant", tenant, "device", id, "err", err)
		}
	}
	return updated, nil
}

func (m *Monitor) apply(ctx context.Context, tenant string, id uint, status Status, callErr error) (*db.Device, db.DeviceStatus, error) {
	var (
		d    *db.Device
		from db.DeviceStatus
	)
	err := m.store.Transaction(ctx, func(tx *store.Store) error {
		locked, err := tx.LockDevice(ctx, tenant, id)
		if err != nil {
			return errors.Trace(err)
		}
		d = locked
		from = locked.Status
		now := m.clock.Now().UTC()

		if callErr == nil {
			if locked.Status == db.DeviceOnline && locked.LastSeen != nil && now.After(*locked.LastSeen) {
				locked.UptimeSeconds += int64(now.Sub(*locked.LastSeen) / time.Second)
			}
			locked.Status = db.DeviceOnline
			locked.LastSeen = &now
			locked.ReportedUptime = status.UptimeSeconds
			locked.FailureClass = ""
			locked.LastError = ""
			locked.ConsecutiveFailures = 0
			return tx.SaveDevice(ctx, locked)
		}

		class := Classify(callErr)
		prevClass := locked.FailureClass
		locked.Status = class.Status()
		locked.FailureClass = string(class)
		locked.LastError = truncate(callErr.Error(), 512)
		locked.ConsecutiveFailures++
		if err := tx.SaveDevice(ctx, locked); err != nil {
			return err
		}
		if from == locked.Status && prevClass == string(class) {
			return nil
		}
		return tx.AppendDeviceEvent(ctx, &db.DeviceEvent{
			TenantID:     tenant,
			DeviceID:     id,
			FromStatus:   from,
			ToStatus:     locked.Status,
			FailureClass: string(class),
			Message:      locked.LastError,
		})
	})
	return d, from, errors.Trace(err)
}

// SyncSessions records the traffic of the device's active sessions on their
// vouchers. Vouchers that hit their data cap are marked used, and logins
// whose voucher is no longer usable are queued for revocation.
func (m *Monitor) SyncSessions(ctx context.Context, d *db.Device, t Target) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	sessions, err := m.devices.adapter.ListActiveSessions(callCtx, t)
	cancel()
	if err != nil {
		return errors.Annotate(err, "listing sessions")
	}
	byUser := make(map[string]Session, len(sessions))
	for _, s := range sessions {
		byUser[s.Username] = s
	}

	users, err := m.store.ActiveDeviceUsers(ctx, d.TenantID, d.ID)
	if err != nil {
		return errors.Trace(err)
	}
	for _, u := range users {
		if u.VoucherID == nil {
			continue
		}
		s, online := byUser[u.Username]
		if err := m.syncUser(ctx, d.TenantID, *u.VoucherID, s, online); err != nil {
			m.logger.Warnw("syncing device user failed", "tenant", d.TenantID, "device", d.ID, "username", u.Username, "err", err)
		}
	}
	return nil
}

func (m *Monitor) syncUser(ctx context.Context, tenant string, voucherID uint, s Session, online bool) error {
	v, err := m.vouchers.Get(ctx, tenant, voucherID)
	if err != nil {
		return errors.Trace(err)
	}
	if online {
		v, err = m.vouchers.RecordUsage(ctx, tenant, voucherID, map[string]any{
			"bytes_in":       s.BytesIn,
			"bytes_out":      s.BytesOut,
			"uptime_seconds": s.UptimeSeconds,
			"address":        s.Address,
		})
		if err != nil {
			return errors.Trace(err)
		}
	}

	now := m.clock.Now().UTC()
	if voucher.IsUsable(v, now) && voucher.DataCapReached(v) {
		if v, err = m.vouchers.MarkAsUsed(ctx, tenant, voucherID); err != nil {
			return errors.Trace(err)
		}
	}
	if !voucher.IsUsable(v, now) {
		_, err := m.queue.Enqueue(ctx, tenant, jobs.KindRevokeVoucher, voucherID)
		return errors.Trace(err)
	}
	return nil
}

func (m *Monitor) HandlePollJob(ctx context.Context, job *db.Job) error {
	_, err := m.PollDevice(ctx, job.TenantID, job.RefID)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
