package main

import (
	"context"
	"fmt"
	stlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/worker/v4"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"go-hotspot/config"
	"go-hotspot/core"
	"go-hotspot/log"
	"go-hotspot/node"
	"go-hotspot/service"
)

var version = "dev"

func main() {
	config.LoadEnv()

	cliApp := &cli.App{
		Name:  "nodeservice",
		Usage: "Hotspot device agent",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8728", EnvVars: []string{"NODE_ADDR"}, Usage: "Listen address"},
			&cli.StringFlag{Name: "admin-user", Value: "admin", EnvVars: []string{"NODE_ADMIN_USER"}},
			&cli.StringFlag{Name: "admin-password-hash", EnvVars: []string{"NODE_ADMIN_PASSWORD_HASH"}, Usage: "bcrypt hash of the admin password"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, EnvVars: []string{"DEVELOPMENT"}},
		},
		Commands: []*cli.Command{
			{
				Name:      "hash-password",
				Usage:     "Print the bcrypt hash for an admin password",
				ArgsUsage: "PASSWORD",
				Action: func(c *cli.Context) error {
					hash, err := bcrypt.GenerateFromPassword([]byte(c.Args().First()), bcrypt.DefaultCost)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(hash))
					return nil
				},
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		stlog.Fatal(err)
	}
}

func run(c *cli.Context) error {
	hash := c.String("admin-password-hash")
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return core.Configurationf("NODE_ADMIN_PASSWORD_HASH must be a bcrypt hash")
	}

	logger, err := log.New(c.Bool("development"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	agent := node.NewAgent(node.Config{
		Username:     c.String("admin-user"),
		PasswordHash: []byte(hash),
		Version:      version,
	}, clock.WallClock, logger)

	srv, err := service.Start("node", c.String("addr"), agent.Handler(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return worker.Stop(srv)
}
