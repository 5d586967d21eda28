// Package payment owns payment records and the gateway capability used to
// initialise, verify and refund them with an external provider.
package payment

import (
	"context"
	"sort"

	"go-hotspot/core"
	"go-hotspot/db"
)

// Provider enumerates the supported gateways.
type Provider string

const (
	ProviderManual       Provider = "manual"
	ProviderOrderService Provider = "orderservice"
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderManual, ProviderOrderService:
		return p, nil
	default:
		return "", core.Configurationf("unknown payment provider %q", s)
	}
}

type InitRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Description   string
	CallbackURL   string
}

type InitResult struct {
	Success                    bool
	TransactionID              string
	Reference                  string
	RedirectURL                string
	RequiresManualConfirmation bool
	Raw                        map[string]any
}

type VerifyResult struct {
	// Status is pending, completed or failed.
	Status    db.PaymentStatus
	Reference string
	Raw       map[string]any
}

type Gateway interface {
	Provider() Provider
	Initialize(ctx context.Context, req InitRequest) (InitResult, error)
	Verify(ctx context.Context, transactionID string) (VerifyResult, error)
	Refund(ctx context.Context, transactionID string, amount int64) error
}

// Registry holds the gateways enabled at startup.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(p Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, core.Configurationf("payment provider %q is not enabled", p)
	}
	return g, nil
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
