package config

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"

	"go-hotspot/core"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "host=localhost dbname=hotspot")
	t.Setenv("DEVICE_SECRET_KEY", testKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DB.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.DB.Driver)
	}
	if cfg.Cleanup.AutoDisableAfterDays != 30 || cfg.Cleanup.DeleteAfterDays != 90 {
		t.Errorf("unexpected cleanup defaults: %+v", cfg.Cleanup)
	}
	if cfg.Jobs.MaxAttempts != 3 || cfg.Jobs.Deadline != 10*time.Minute {
		t.Errorf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.Device.PollTimeout != 30*time.Second {
		t.Errorf("expected 30s poll timeout, got %s", cfg.Device.PollTimeout)
	}
	if len(cfg.Payment.Providers) != 1 || cfg.Payment.Providers[0] != "manual" {
		t.Errorf("unexpected providers: %v", cfg.Payment.Providers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("DEVICE_SECRET_KEY", testKey)
	t.Setenv("PAYMENT_PROVIDERS", "manual, orderservice")
	t.Setenv("JOB_BASE_DELAY", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.Join(cfg.Payment.Providers, ",") != "manual,orderservice" {
		t.Errorf("unexpected providers: %v", cfg.Payment.Providers)
	}
	if cfg.Jobs.BaseDelay != 30*time.Second {
		t.Errorf("expected 30s base delay, got %s", cfg.Jobs.BaseDelay)
	}
}

func TestValidateRejectsBadDeviceKey(t *testing.T) {
	t.Setenv("DB_DSN", "host=localhost")
	t.Setenv("DEVICE_SECRET_KEY", "abcd")

	_, err := Load()
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
