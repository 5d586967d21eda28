package db

import (
	stdlog "log"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"go-hotspot/core"
)

type Options struct {
	Driver string
	DSN    string
	// Clock drives gorm's created_at/updated_at stamps.
	Clock clock.Clock
	// Silent disables gorm's own query logging.
	Silent bool
	// MaxOpenConns is left at the driver default when zero.
	MaxOpenConns int
}

func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "postgres":
		dialector = postgres.Open(opts.DSN)
	case "mysql":
		dialector = mysql.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, core.Configurationf("unsupported database driver %q", opts.Driver)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	level := gormLogger.Warn
	if opts.Silent {
		level = gormLogger.Silent
	}
	logger := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return clk.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", opts.Driver)
	}

	if opts.MaxOpenConns > 0 {
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, errors.Trace(err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	return conn, nil
}

// Migrate creates or updates every table the services use.
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&Voucher{},
		&Payment{},
		&Device{},
		&DeviceUser{},
		&ConfigHistory{},
		&DeviceEvent{},
		&Job{},
		&Alert{},
	)
	return errors.Annotate(err, "migrating schema")
}

func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return sqlDB.Close()
}
