package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/time/rate"

	"go-hotspot/core"
)

// HTTPAdapter speaks the node agent protocol: a small JSON API guarded by
// HTTP basic auth (see package node).
type HTTPAdapter struct {
	client   *http.Client
	clock    clock.Clock
	attempts int
	// per device call budget, keyed by address
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type HTTPAdapterConfig struct {
	Timeout  time.Duration
	Attempts int
	// CallsPerSecond bounds the request rate to a single device.
	CallsPerSecond float64
	Burst          int
}

func NewHTTPAdapter(cfg HTTPAdapterConfig, clk clock.Clock) *HTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &HTTPAdapter{
		client:   &http.Client{Timeout: cfg.Timeout},
		clock:    clk,
		attempts: cfg.Attempts,
		limit:    rate.Limit(cfg.CallsPerSecond),
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *HTTPAdapter) ProvisionUser(ctx context.Context, t Target, c Credentials) error {
	return a.call(ctx, t, http.MethodPost, "/users", c, nil)
}

// RevokeUser removes a login. Removing a login the device does not know is
// not an error.
func (a *HTTPAdapter) RevokeUser(ctx context.Context, t Target, username string) error {
	err := a.call(ctx, t, http.MethodDelete, "/users/"+url.PathEscape(username), nil, nil)
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	return err
}

func (a *HTTPAdapter) QueryStatus(ctx context.Context, t Target) (Status, error) {
	var s Status
	err := a.call(ctx, t, http.MethodGet, "/status", nil, &s)
	return s, err
}

func (a *HTTPAdapter) ListActiveSessions(ctx context.Context, t Target) ([]Session, error) {
	var out []Session
	err := a.call(ctx, t, http.MethodGet, "/sessions", nil, &out)
	return out, err
}

func (a *HTTPAdapter) ApplyConfiguration(ctx context.Context, t Target, cfg map[string]any) error {
	return a.call(ctx, t, http.MethodPut, "/config", cfg, nil)
}

func (a *HTTPAdapter) limiter(addr string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[addr]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[addr] = l
	}
	return l
}

func (a *HTTPAdapter) call(ctx context.Context, t Target, method, path string, in, out any) error {
	if t.Host == "" || t.Port <= 0 {
		return newFailure(FailureConfig, errors.Errorf("%s has no address", t))
	}
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return newFailure(FailureConfig, errors.Annotate(err, "encoding request"))
		}
		body = b
	}
	return core.Retry(ctx, a.clock, a.attempts, 200*time.Millisecond, func() error {
		if err := a.limiter(t.Addr()).Wait(ctx); err != nil {
			return newFailure(FailureTimeout, err)
		}
		return a.do(ctx, t, method, path, body, out)
	})
}

func (a *HTTPAdapter) do(ctx context.Context, t Target, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("http://%s%s", t.Addr(), path), reader)
	if err != nil {
		return newFailure(FailureConfig, err)
	}
	req.SetBasicAuth(t.Username, t.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return newFailure(Classify(err), errors.Annotatef(err, "%s %s", method, path))
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return newFailure(FailureAuth, errors.Errorf("%s rejected credentials: %s", t, resp.Status))
	case code == http.StatusNotFound:
		return errors.NotFoundf("%s %s on %s", method, path, t)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return newFailure(FailureConfig, errors.Errorf("%s refused %s %s: %s", t, method, path, bytes.TrimSpace(msg)))
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
		return newFailure(FailureUnreachable, errors.Errorf("%s unavailable: %s", t, resp.Status))
	case code >= 300:
		return newFailure(FailureProtocol, errors.Errorf("%s answered %s %s with %s", t, method, path, resp.Status))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newFailure(FailureProtocol, errors.Annotatef(err, "decoding %s response", path))
	}
	return nil
}
