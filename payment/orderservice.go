package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/db"
)

// OrderServiceGateway talks to an order service over HTTP. Orders are
// created with /api/payment/order/create and polled with
// /api/payment/order/status; status is one of pending, paid,
// callback_failed or expired.
type OrderServiceGateway struct {
	baseURL  string
	client   *http.Client
	clock    clock.Clock
	attempts int
}

func NewOrderServiceGateway(baseURL string, timeout time.Duration, attempts int, clk clock.Clock) (*OrderServiceGateway, error) {
	if baseURL == "" {
		return nil, core.Configurationf("ORDER_SERVICE_URL is required for the orderservice provider")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, core.Configurationf("invalid ORDER_SERVICE_URL: %v", err)
	}
	return &OrderServiceGateway{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		clock:    clk,
		attempts: attempts,
	}, nil
}

func (g *OrderServiceGateway) Provider() Provider { return ProviderOrderService }

func (g *OrderServiceGateway) Initialize(ctx context.Context, req InitRequest) (InitResult, error) {
	q := url.Values{}
	q.Set("order_id", req.TransactionID)
	q.Set("amount", strconv.FormatInt(req.Amount, 10))
	q.Set("currency", req.Currency)
	q.Set("callback", req.CallbackURL)

	result, err := g.call(ctx, http.MethodPost, "/api/payment/order/create", q)
	if err != nil {
		return InitResult{}, errors.Annotatef(err, "creating order %s", req.TransactionID)
	}
	res := InitResult{
		Success:       true,
		TransactionID: req.TransactionID,
		Raw:           result,
	}
	if id, ok := result["id"].(string); ok {
		res.Reference = id
	}
	if link, ok := result["payment_link"].(string); ok {
		res.RedirectURL = link
	}
	return res, nil
}

func (g *OrderServiceGateway) Verify(ctx context.Context, transactionID string) (VerifyResult, error) {
	q := url.Values{}
	q.Set("order_id", transactionID)

	result, err := g.call(ctx, http.MethodGet, "/api/payment/order/status", q)
	if err != nil {
		return VerifyResult{}, errors.Annotatef(err, "querying order %s", transactionID)
	}
	status, _ := result["status"].(string)
	res := VerifyResult{Raw: result}
	switch status {
	case "pending":
		res.Status = db.PaymentPending
	case "paid", "callback_failed":
		res.Status = db.PaymentCompleted
	case "expired":
		res.Status = db.PaymentFailed
	default:
		return VerifyResult{}, errors.Errorf("order %s: unexpected status %q", transactionID, status)
	}
	if id, ok := result["id"].(string); ok {
		res.Reference = id
	}
	return res, nil
}

func (g *OrderServiceGateway) Refund(ctx context.Context, transactionID string, amount int64) error {
	q := url.Values{}
	q.Set("order_id", transactionID)
	q.Set("amount", strconv.FormatInt(amount, 10))

	_, err := g.call(ctx, http.MethodPost, "/api/payment/order/refund", q)
	return errors.Annotatef(err, "refunding order %s", transactionID)
}

func (g *OrderServiceGateway) call(ctx context.Context, method, path string, q url.Values) (map[string]any, error) {
	var result map[string]any
	err := core.Retry(ctx, g.clock, g.attempts, 500*time.Millisecond, func() error {
		r, err := g.do(ctx, method, path, q)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (g *OrderServiceGateway) do(ctx context.Context, method, path string, q url.Values) (map[string]any, error) {
	reqURL := fmt.Sprintf("%s%s?%s", g.baseURL, path, q.Encode())
	request, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, core.Configurationf("building request: %v", err)
	}

	resp, err := g.client.Do(request)
	if err != nil {
		return nil, errors.WithType(errors.Annotate(err, "order service unreachable"), core.ErrConnectivity)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.WithType(errors.Errorf("order service returned %s", resp.Status), core.ErrConnectivity)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFoundf("order")
	case resp.StatusCode != http.StatusOK:
		return nil, core.Configurationf("order service rejected request: %s", resp.Status)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Annotate(err, "failed to parse order service response")
	}
	return result, nil
}
