package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-hotspot/payment"
)

func (ctl *Controllers) InitiatePayment(c *gin.Context) {
	var req payment.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if req.Provider == "" {
		req.Provider = payment.ProviderManual
	}

	p, res, err := ctl.Payments.Initiate(c.Request.Context(), tenant(c), req)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment":                      p,
		"redirect_url":                 res.RedirectURL,
		"reference":                    res.Reference,
		"requires_manual_confirmation": res.RequiresManualConfirmation,
	})
}

func (ctl *Controllers) GetPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := ctl.Payments.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (ctl *Controllers) ConfirmPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := ctl.Payments.ConfirmManual(c.Request.Context(), tenant(c), id, actor(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (ctl *Controllers) VerifyPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := ctl.Payments.Verify(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (ctl *Controllers) CancelPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := ctl.Payments.Cancel(c.Request.Context(), tenant(c), id, actor(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (ctl *Controllers) RefundPayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	// The reason is optional, so an empty body is fine.
	_ = c.ShouldBindJSON(&body)

	p, err := ctl.Payments.Refund(c.Request.Context(), tenant(c), id, actor(c), body.Reason)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ReconcilePayment issues the voucher for a completed payment right away
// instead of waiting for the job queue.
func (ctl *Controllers) ReconcilePayment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	v, created, err := ctl.Reconciler.Reconcile(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"voucher": v, "created": created})
}

// Callback is hit by payment gateways. Only the transaction id is taken from
// the request; the outcome comes from asking the gateway.
func (ctl *Controllers) Callback(c *gin.Context) {
	p, err := ctl.Payments.HandleCallback(c.Request.Context(), c.Param("tenant"), c.Param("transaction"))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": p.TransactionID, "status": p.Status})
}
