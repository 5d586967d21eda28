package payment

import (
	"context"

	"go-hotspot/db"
)

// ManualGateway covers cash and agent sales: an operator confirms the
// payment, the gateway itself never reports completion.
type ManualGateway struct{}

func (ManualGateway) Provider() Provider { return ProviderManual }

func (ManualGateway) Initialize(_ context.Context, req InitRequest) (InitResult, error) {
	return InitResult{
		Success:                    true,
		TransactionID:              req.TransactionID,
		Reference:                  req.TransactionID,
		RequiresManualConfirmation: true,
	}, nil
}

func (ManualGateway) Verify(context.Context, string) (VerifyResult, error) {
	return VerifyResult{Status: db.PaymentPending}, nil
}

// Refund is settled outside the system.
func (ManualGateway) Refund(context.Context, string, int64) error {
	return nil
}
