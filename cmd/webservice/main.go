package main

import (
	"context"
	"fmt"
	stlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/urfave/cli/v2"

	"go-hotspot/app"
	"go-hotspot/core"
	"go-hotspot/log"
	"go-hotspot/scheduler"
	"go-hotspot/service"
)

func main() {
	cliApp := &cli.App{
		Name:  "webservice",
		Usage: "Hotspot billing service: admin API, gateway callbacks, job workers and scheduler",
		Flags: append(app.Flags(),
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port"},
			&cli.BoolFlag{Name: "no-workers", Usage: "Serve HTTP only, leave jobs and schedules to other instances"},
		),
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		stlog.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := app.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if c.IsSet("port") {
		cfg.HTTPPort = c.Int("port")
	}
	if cfg.JWTSecret == "" || cfg.CallbackKey == "" {
		return core.Configurationf("JWT_SECRET and CALLBACK_KEY are required")
	}

	logger, err := log.New(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, clock.WallClock)
	if err != nil {
		return errors.Annotate(err, "starting services")
	}
	defer a.Close()

	srv, err := service.Start("http", fmt.Sprintf(":%d", cfg.HTTPPort), a.Router(), logger)
	if err != nil {
		return err
	}
	workers := []worker.Worker{srv}

	if !c.Bool("no-workers") {
		a.Pool.Start()
		workers = append(workers, a.Pool, scheduler.New(clock.WallClock, logger, a.Tasks()...))
	}

	<-ctx.Done()
	logger.Info("shutting down")

	var first error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := worker.Stop(workers[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}
