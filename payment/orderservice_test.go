package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
)

func newOrderService(t *testing.T, h http.HandlerFunc) *OrderServiceGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	gw, err := NewOrderServiceGateway(srv.URL, time.Second, 2, clock.WallClock)
	if err != nil {
		t.Fatalf("NewOrderServiceGateway: %v", err)
	}
	return gw
}

func TestOrderServiceStatusMapping(t *testing.T) {
	for status, want := range map[string]db.PaymentStatus{
		"pending":         db.PaymentPending,
		"paid":            db.PaymentCompleted,
		"callback_failed": db.PaymentCompleted,
		"expired":         db.PaymentFailed,
	} {
		gw := newOrderService(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/payment/order/status" || r.URL.Query().Get("order_id") != "tx-1" {
				http.Error(w, "unexpected request", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "ord-1", "status": status})
		})
		res, err := gw.Verify(context.Background(), "tx-1")
		if err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		if res.Status != want || res.Reference != "ord-1" {
			t.Errorf("%s: got %s/%s, want %s", status, res.Status, res.Reference, want)
		}
	}
}

func TestOrderServiceInitialize(t *testing.T) {
	gw := newOrderService(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.Method != http.MethodPost || q.Get("amount") != "5000" || q.Get("callback") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ord-9", "payment_link": "https://pay.example/ord-9"})
	})
	res, err := gw.Initialize(context.Background(), InitRequest{
		TransactionID: "tx-9", Amount: 5000, Currency: "UGX", CallbackURL: "https://hotspot.example/callbacks/t1/tx-9",
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !res.Success || res.Reference != "ord-9" || res.RedirectURL != "https://pay.example/ord-9" {
		t.Errorf("got %+v", res)
	}
}

func TestOrderServiceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw := newOrderService(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "paid"})
	})
	res, err := gw.Verify(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Status != db.PaymentCompleted || calls.Load() != 2 {
		t.Errorf("got %s after %d calls", res.Status, calls.Load())
	}
}

func TestOrderServiceErrorClasses(t *testing.T) {
	var calls atomic.Int32
	gw := newOrderService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	})
	_, err := gw.Verify(context.Background(), "tx-1")
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("401: got %v, want configuration error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("client errors must not be retried, got %d calls", calls.Load())
	}

	missing := newOrderService(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if _, err := missing.Verify(context.Background(), "tx-1"); !errors.Is(err, errors.NotFound) {
		t.Errorf("404: got %v, want not found", err)
	}
}

func TestNewOrderServiceRequiresURL(t *testing.T) {
	if _, err := NewOrderServiceGateway("", time.Second, 1, clock.WallClock); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("got %v", err)
	}
}
