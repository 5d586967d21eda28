package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/urfave/cli/v2"

	"go-hotspot/app"
	"go-hotspot/cleanup"
	"go-hotspot/core"
	"go-hotspot/log"
	"go-hotspot/web/middleware"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "hotspotctl",
		Usage: "Operational tasks for the hotspot billing service",
		Flags: app.Flags(),
		Commands: []*cli.Command{
			{
				Name:  "cleanup-vouchers",
				Usage: "Expire, disable and delete old vouchers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Usage: "Only clean this tenant"},
					&cli.IntFlag{Name: "auto-disable-after-days", Usage: "Days past expiry before a voucher is disabled"},
					&cli.IntFlag{Name: "delete-after-days", Usage: "Days a disabled voucher is kept"},
					&cli.BoolFlag{Name: "notify", Usage: "Notify customers before cleanup"},
					&cli.BoolFlag{Name: "dry-run", Usage: "Only report what would change"},
				},
				Action: cleanupVouchers,
			},
			{
				Name:  "monitor-devices",
				Usage: "Poll devices and record their status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Usage: "Only poll this tenant"},
					&cli.UintFlag{Name: "device-id", Usage: "Poll a single device (needs --tenant)"},
				},
				Action: monitorDevices,
			},
			{
				Name:  "reconcile-payment",
				Usage: "Issue the voucher for a completed payment",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Required: true},
					&cli.UintFlag{Name: "payment-id", Required: true},
				},
				Action: reconcilePayment,
			},
			{
				Name:  "process-jobs",
				Usage: "Run due background jobs and exit",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max", Value: 100, Usage: "Stop after this many jobs, 0 for no limit"},
				},
				Action: processJobs,
			},
			{
				Name:  "issue-token",
				Usage: "Sign an admin API token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Required: true, Usage: "Tenant the token covers, * for all"},
					&cli.StringFlag{Name: "subject", Required: true, Usage: "Operator name recorded in audit trails"},
					&cli.UintFlag{Name: "admin-id"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: issueToken,
			},
		},
	}
}

// withApp builds the services for one command and tears them down after.
func withApp(c *cli.Context, fn func(a *app.App) (any, error)) error {
	cfg, err := app.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	logger, err := log.New(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	a, err := app.New(c.Context, cfg, logger, clock.WallClock)
	if err != nil {
		return errors.Annotate(err, "starting services")
	}
	defer a.Close()

	out, err := fn(a)
	if err != nil {
		return err
	}
	return printJSON(c, out)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cleanupVouchers(c *cli.Context) error {
	return withApp(c, func(a *app.App) (any, error) {
		policy := a.CleanupPolicy()
		if c.IsSet("auto-disable-after-days") {
			policy.AutoDisableAfterDays = c.Int("auto-disable-after-days")
		}
		if c.IsSet("delete-after-days") {
			policy.DeleteAfterDays = c.Int("delete-after-days")
		}
		if c.IsSet("notify") {
			policy.NotifyBeforeCleanup = c.Bool("notify")
		}

		var (
			res cleanup.Result
			err error
		)
		if tenant := c.String("tenant"); tenant != "" {
			res, err = a.Cleanup.Cleanup(c.Context, tenant, policy, c.Bool("dry-run"))
		} else {
			res, err = a.Cleanup.CleanupAll(c.Context, policy, c.Bool("dry-run"))
		}
		// Per voucher failures are in res.Errors and do not fail the run.
		return res, err
	})
}

func monitorDevices(c *cli.Context) error {
	return withApp(c, func(a *app.App) (any, error) {
		tenant := c.String("tenant")
		if id := c.Uint("device-id"); id != 0 {
			if tenant == "" {
				return nil, core.Configurationf("--device-id needs --tenant")
			}
			d, err := a.Monitor.PollDevice(c.Context, tenant, id)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"device_id":     d.ID,
				"status":        d.Status,
				"failure_class": d.FailureClass,
				"last_error":    d.LastError,
			}, nil
		}
		return a.Monitor.PollAll(c.Context, tenant)
	})
}

func reconcilePayment(c *cli.Context) error {
	return withApp(c, func(a *app.App) (any, error) {
		v, created, err := a.Reconciler.Reconcile(c.Context, c.String("tenant"), c.Uint("payment-id"))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"voucher_id": v.ID,
			"code":       v.Code,
			"status":     v.Status,
			"expires_at": v.ExpiresAt,
			"created":    created,
		}, nil
	})
}

func processJobs(c *cli.Context) error {
	return withApp(c, func(a *app.App) (any, error) {
		n, err := a.Pool.Drain(c.Context, c.Int("max"))
		return map[string]int{"processed": n}, err
	})
}

// issueToken needs only the signing secret, not the database.
func issueToken(c *cli.Context) error {
	cfg, err := app.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	token, err := middleware.IssueToken([]byte(cfg.JWTSecret), c.String("subject"), c.String("tenant"),
		c.Uint("admin-id"), c.Duration("ttl"), clock.WallClock.Now())
	if err != nil {
		return err
	}
	return printJSON(c, map[string]string{"token": token})
}
