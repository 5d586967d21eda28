package device_test

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/crypto/bcrypt"

	"go-hotspot/core"
	"go-hotspot/device"
	"go-hotspot/log"
	"go-hotspot/node"
)

func startAgent(t *testing.T) (*node.Agent, device.Target) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("router-pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	agent := node.NewAgent(node.Config{
		Username:     "admin",
		PasswordHash: hash,
		Stats: func(context.Context) (node.Stats, error) {
			return node.Stats{UptimeSeconds: 42, CPUPercent: 3}, nil
		},
	}, clock.WallClock, log.Nop())
	srv := httptest.NewServer(agent.Handler())
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return agent, device.Target{ID: 1, Host: host, Port: p, Username: "admin", Password: "router-pw"}
}

func newAdapter() *device.HTTPAdapter {
	return device.NewHTTPAdapter(device.HTTPAdapterConfig{Timeout: 2 * time.Second, Attempts: 2, CallsPerSecond: 100, Burst: 10}, clock.WallClock)
}

func TestHTTPAdapterAgainstAgent(t *testing.T) {
	agent, target := startAgent(t)
	a := newAdapter()
	ctx := context.Background()

	st, err := a.QueryStatus(ctx, target)
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if st.UptimeSeconds != 42 {
		t.Errorf("uptime %d", st.UptimeSeconds)
	}

	creds := device.Credentials{Username: "HS-AAAA-BBBB", Password: "pw", Profile: "daily"}
	if err := a.ProvisionUser(ctx, target, creds); err != nil {
		t.Fatalf("ProvisionUser: %v", err)
	}
	if err := agent.Login("HS-AAAA-BBBB", "pw", "10.0.0.9"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := agent.AddTraffic("HS-AAAA-BBBB", 10, 20); err != nil {
		t.Fatal(err)
	}
	sessions, err := a.ListActiveSessions(ctx, target)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].BytesOut != 20 {
		t.Errorf("sessions %+v", sessions)
	}

	if err := a.ApplyConfiguration(ctx, target, map[string]any{"ether1": "mtu1400"}); err != nil {
		t.Fatalf("ApplyConfiguration: %v", err)
	}
	if agent.Configuration()["ether1"] != "mtu1400" {
		t.Errorf("agent config %v", agent.Configuration())
	}

	if err := a.RevokeUser(ctx, target, "HS-AAAA-BBBB"); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	// Revoking twice is fine.
	if err := a.RevokeUser(ctx, target, "HS-AAAA-BBBB"); err != nil {
		t.Errorf("second RevokeUser: %v", err)
	}
}

func TestHTTPAdapterClassifiesFailures(t *testing.T) {
	_, target := startAgent(t)
	a := newAdapter()
	ctx := context.Background()

	bad := target
	bad.Password = "wrong"
	_, err := a.QueryStatus(ctx, bad)
	if got := device.Classify(err); got != device.FailureAuth {
		t.Errorf("bad password classified %s (%v)", got, err)
	}
	if !core.Permanent(err) {
		t.Errorf("auth failures must not be retried")
	}

	err = a.ApplyConfiguration(ctx, target, map[string]any{})
	if got := device.Classify(err); got != device.FailureConfig {
		t.Errorf("rejected config classified %s (%v)", got, err)
	}

	// Nothing listens on a freshly closed port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()
	_, err = a.QueryStatus(ctx, device.Target{ID: 2, Host: "127.0.0.1", Port: addr.Port})
	if got := device.Classify(err); got != device.FailureUnreachable {
		t.Errorf("closed port classified %s (%v)", got, err)
	}
	if !errors.Is(err, core.ErrConnectivity) {
		t.Errorf("closed port should be a connectivity error: %v", err)
	}

	_, err = a.QueryStatus(ctx, device.Target{ID: 3})
	if got := device.Classify(err); got != device.FailureConfig {
		t.Errorf("missing address classified %s", got)
	}
}
