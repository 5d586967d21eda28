// Package app assembles the services from configuration. Both binaries,
// the web service and the operations CLI, build the same App.
package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"go-hotspot/alert"
	"go-hotspot/cache"
	"go-hotspot/cleanup"
	"go-hotspot/config"
	"go-hotspot/core"
	"go-hotspot/db"
	"go-hotspot/device"
	"go-hotspot/events"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/payment"
	"go-hotspot/payment/reconcile"
	"go-hotspot/scheduler"
	"go-hotspot/store"
	"go-hotspot/voucher"
	"go-hotspot/web"
	"go-hotspot/web/controllers"
	"go-hotspot/web/middleware"
)

const (
	rateLimit       = 60
	rateLimitWindow = time.Minute
	eventBuffer     = 1024
)

type App struct {
	Config *config.Config
	Clock  clock.Clock
	Logger *log.Logger

	DB     *gorm.DB
	Redis  *redis.Client
	Store  *store.Store
	Events *events.Dispatcher
	Alerts *alert.Service

	Queue      *jobs.Queue
	Pool       *jobs.Pool
	Vouchers   *voucher.Service
	Payments   *payment.Service
	Reconciler *reconcile.Coordinator
	Devices    *device.Service
	Monitor    *device.Monitor
	Cleanup    *cleanup.Engine
	Limiter    *middleware.RateLimiter

	closers []func() error
}

// New connects to the database and brokers named in cfg and builds every
// service. The job pool is created but not started.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, clk clock.Clock) (_ *App, err error) {
	a := &App{Config: cfg, Clock: clk, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.DB, err = db.Open(db.Options{Driver: cfg.DB.Driver, DSN: cfg.DB.DSN, Clock: clk, Silent: !cfg.Development})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return db.Close(a.DB) })
	if err := db.Migrate(a.DB); err != nil {
		return nil, err
	}

	var c cache.Cache = cache.NewMemory(clk)
	if cfg.Redis.Addr != "" {
		a.Redis, err = cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
		c = cache.NewRedis(a.Redis, "hotspot:")
	}
	a.Store = store.New(a.DB, c)

	if err := a.startEvents(); err != nil {
		return nil, err
	}
	if err := a.buildAlerts(); err != nil {
		return nil, err
	}

	a.Queue = jobs.NewQueue(a.Store, clk, jobs.Policy{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		BaseDelay:   cfg.Jobs.BaseDelay,
		MaxDelay:    cfg.Jobs.MaxDelay,
		Deadline:    cfg.Jobs.Deadline,
		Lease:       cfg.Jobs.Lease,
	})

	gen := voucher.RandomGenerator{Prefix: cfg.Voucher.CodePrefix, PasswordLength: cfg.Voucher.PasswordLength}
	a.Vouchers = voucher.NewService(a.Store, gen, a.Events, clk, logger, cfg.Voucher.CodeAttempts)

	gateways, err := a.gateways()
	if err != nil {
		return nil, err
	}
	a.Payments = payment.NewService(payment.Config{
		CallbackBase: cfg.PublicURL,
		PendingAfter: cfg.Payment.PendingAfter,
	}, a.Store, gateways, a.Queue, a.Vouchers, a.Events, clk, logger)
	a.Reconciler = reconcile.NewCoordinator(a.Store, a.Queue, a.Vouchers, logger)

	if err := a.buildDevices(); err != nil {
		return nil, err
	}
	a.Cleanup = cleanup.NewEngine(a.Store, a.Vouchers, a.Queue, clk, logger)

	a.Pool = jobs.NewPool(jobs.PoolConfig{Workers: cfg.Jobs.Workers, PollInterval: cfg.Jobs.PollInterval}, a.Queue, a.Alerts, logger)
	a.Pool.Handle(jobs.KindReconcilePayment, a.Reconciler.HandleJob)
	a.Pool.Handle(jobs.KindProvisionVoucher, a.Devices.HandleProvisionJob)
	a.Pool.Handle(jobs.KindRevokeVoucher, a.Devices.HandleRevokeJob)
	a.Pool.Handle(jobs.KindPollDevice, a.Monitor.HandlePollJob)

	a.Limiter = middleware.NewRateLimiter(rateLimit, rateLimitWindow, a.Redis, clk, logger)
	return a, nil
}

func (a *App) startEvents() error {
	sinks := []events.Sink{events.LogSink{Logger: a.Logger.Named("events")}}
	if url := a.Config.AMQP.URL; url != "" {
		amqpSink, err := events.NewAMQPSink(url, a.Config.AMQP.Exchange)
		if err != nil {
			return errors.Annotate(err, "connecting event broker")
		}
		a.closers = append(a.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
	}
	a.Events = events.NewDispatcher(a.Logger, eventBuffer, sinks...)
	// Stop the dispatcher before the sinks it delivers to.
	a.closers = append(a.closers, func() error {
		a.Events.Kill()
		return a.Events.Wait()
	})
	return nil
}

func (a *App) buildAlerts() error {
	var notifiers []alert.Notifier
	if tg := a.Config.Telegram; tg.BotToken != "" {
		n, err := alert.NewTelegramNotifier(tg.BotToken, tg.ChatID)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, n)
	}
	if m := a.Config.SMTP; m.Server != "" {
		n, err := alert.NewEmailNotifier(alert.SMTPConfig{
			Server: m.Server, Port: m.Port, User: m.User, Password: m.Password,
			FromAddr: m.FromAddr, FromName: m.FromName, To: m.To,
		})
		if err != nil {
			return err
		}
		notifiers = append(notifiers, n)
	}
	a.Alerts = alert.NewService(a.Store, a.Events, a.Logger, a.Clock, notifiers...)
	return nil
}

func (a *App) gateways() (*payment.Registry, error) {
	var enabled []payment.Gateway
	for _, name := range a.Config.Payment.Providers {
		p, err := payment.ParseProvider(name)
		if err != nil {
			return nil, err
		}
		switch p {
		case payment.ProviderManual:
			enabled = append(enabled, payment.ManualGateway{})
		case payment.ProviderOrderService:
			pc := a.Config.Payment
			gw, err := payment.NewOrderServiceGateway(pc.OrderServiceURL, pc.CallTimeout, pc.CallAttempts, a.Clock)
			if err != nil {
				return nil, err
			}
			enabled = append(enabled, gw)
		}
	}
	return payment.NewRegistry(enabled...), nil
}

func (a *App) buildDevices() error {
	key, err := a.Config.DeviceKey()
	if err != nil {
		return err
	}
	sealer, err := device.NewSealer(key)
	if err != nil {
		return err
	}
	dc := a.Config.Device
	adapter := device.NewHTTPAdapter(device.HTTPAdapterConfig{Timeout: dc.CallTimeout, Attempts: dc.CallAttempts}, a.Clock)
	limits := a.Config.DefaultLimits
	a.Devices = device.NewService(device.ServiceConfig{
		CallTimeout: dc.CallTimeout,
		Limits:      func(string) core.Limits { return limits },
	}, a.Store, adapter, sealer, a.Queue, a.Vouchers, a.Events, a.Clock, a.Logger)
	a.Monitor = device.NewMonitor(device.MonitorConfig{
		PollTimeout:  dc.PollTimeout,
		Concurrency:  dc.Concurrency,
		SyncSessions: dc.SyncSessions,
	}, a.Devices, a.Vouchers, a.Queue, a.Events, a.Clock, a.Logger)
	return nil
}

// CleanupPolicy is the cleanup policy configured for scheduled runs.
func (a *App) CleanupPolicy() cleanup.Policy {
	return cleanup.Policy{
		AutoDisableAfterDays: a.Config.Cleanup.AutoDisableAfterDays,
		DeleteAfterDays:      a.Config.Cleanup.DeleteAfterDays,
		NotifyBeforeCleanup:  a.Config.Cleanup.Notify,
	}
}

func (a *App) Router() *gin.Engine {
	ctl := &controllers.Controllers{
		Payments:   a.Payments,
		Reconciler: a.Reconciler,
		Vouchers:   a.Vouchers,
		Devices:    a.Devices,
		Monitor:    a.Monitor,
		Queue:      a.Queue,
		PortalURL:  a.Config.PublicURL,
		Logger:     a.Logger.Named("web"),
	}
	return web.NewRouter(web.Options{
		JWTSecret:   []byte(a.Config.JWTSecret),
		CallbackKey: a.Config.CallbackKey,
		Clock:       a.Clock,
		Limiter:     a.Limiter,
		Development: a.Config.Development,
	}, ctl)
}

// Tasks are the periodic jobs run by the web service.
func (a *App) Tasks() []scheduler.Task {
	policy := a.CleanupPolicy()
	return []scheduler.Task{
		{
			Name:     "poll-devices",
			Interval: a.Config.Device.PollInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Monitor.PollAll(ctx, "")
				return err
			},
		},
		{
			Name:     "cleanup-vouchers",
			Interval: a.Config.Cleanup.Interval,
			Run: func(ctx context.Context) error {
				_, err := a.Cleanup.CleanupAll(ctx, policy, false)
				return err
			},
		},
		{
			Name:     "poll-payments",
			Interval: a.Config.Payment.PollInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Payments.PollPending(ctx)
				return err
			},
		},
		{
			Name:     "prune-rate-limits",
			Interval: rateLimitWindow,
			Run:      a.Limiter.Prune,
		},
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
