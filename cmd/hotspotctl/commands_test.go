package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	t.Setenv("DEVICE_SECRET_KEY", strings.Repeat("0f", 32))
	t.Setenv("JWT_SECRET", "secret")

	var out bytes.Buffer
	a := newApp()
	a.Writer = &out
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	full := append([]string{"hotspotctl", "--db-driver", "sqlite", "--db-dsn", dsn}, args...)
	if err := a.Run(full); err != nil {
		return nil, err
	}
	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decoding %q: %v", out.String(), err)
	}
	return got, nil
}

func TestCleanupVouchersDryRun(t *testing.T) {
	got, err := run(t, "cleanup-vouchers", "--dry-run", "--delete-after-days", "7")
	if err != nil {
		t.Fatal(err)
	}
	if got["dry_run"] != true || got["deleted"] != float64(0) {
		t.Errorf("got %v", got)
	}
}

func TestCleanupVouchersRejectsBadPolicy(t *testing.T) {
	if _, err := run(t, "cleanup-vouchers", "--delete-after-days", "0"); err == nil {
		t.Error("accepted delete-after-days 0")
	}
}

func TestMonitorDevicesEmptyFleet(t *testing.T) {
	got, err := run(t, "monitor-devices")
	if err != nil {
		t.Fatal(err)
	}
	if got["polled"] != float64(0) {
		t.Errorf("got %v", got)
	}
	if _, err := run(t, "monitor-devices", "--device-id", "3"); err == nil {
		t.Error("device id without tenant accepted")
	}
}

func TestReconcileMissingPayment(t *testing.T) {
	if _, err := run(t, "reconcile-payment", "--tenant", "acme", "--payment-id", "42"); err == nil {
		t.Error("reconciled a payment that does not exist")
	}
}

func TestProcessJobs(t *testing.T) {
	got, err := run(t, "process-jobs", "--max", "5")
	if err != nil {
		t.Fatal(err)
	}
	if got["processed"] != float64(0) {
		t.Errorf("got %v", got)
	}
}

func TestIssueToken(t *testing.T) {
	got, err := run(t, "issue-token", "--tenant", "acme", "--subject", "ops")
	if err != nil {
		t.Fatal(err)
	}
	if tok, _ := got["token"].(string); strings.Count(tok, ".") != 2 {
		t.Errorf("not a jwt: %v", got["token"])
	}
}
