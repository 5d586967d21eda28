package app

import (
	"github.com/urfave/cli/v2"

	"go-hotspot/config"
)

// Flags are the settings every command accepts on top of the environment.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "db-driver", Usage: "Database driver: postgres, mysql or sqlite"},
		&cli.StringFlag{Name: "db-dsn", Usage: "Database connection string"},
		&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for the shared cache and rate limits"},
		&cli.StringFlag{Name: "amqp-url", Usage: "AMQP broker for domain events"},
		&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
	}
}

// LoadConfig reads the environment, applies the flags that were set and
// validates the result.
func LoadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.FromEnv()

	if c.IsSet("db-driver") {
		cfg.DB.Driver = c.String("db-driver")
	}
	if c.IsSet("db-dsn") {
		cfg.DB.DSN = c.String("db-dsn")
	}
	if c.IsSet("redis-addr") {
		cfg.Redis.Addr = c.String("redis-addr")
	}
	if c.IsSet("amqp-url") {
		cfg.AMQP.URL = c.String("amqp-url")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
