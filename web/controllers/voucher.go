package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"go-hotspot/jobs"
	"go-hotspot/voucher"
)

func (ctl *Controllers) GetVoucher(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	v, err := ctl.Vouchers.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (ctl *Controllers) DisableVoucher(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "disabled by " + actor(c)
	}

	v, err := ctl.Vouchers.Disable(c.Request.Context(), tenant(c), id, body.Reason)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	// The device login goes with it.
	if _, err := ctl.Queue.Enqueue(c.Request.Context(), v.TenantID, jobs.KindRevokeVoucher, v.ID); err != nil {
		ctl.Logger.Warnw("scheduling revoke failed", "tenant", v.TenantID, "voucher", v.Code, "err", err)
	}
	c.JSON(http.StatusOK, v)
}

func (ctl *Controllers) RenewVoucher(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Hours int `json:"hours"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	v, err := ctl.Vouchers.Renew(c.Request.Context(), tenant(c), id, body.Hours)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// VoucherQRCode renders the voucher's portal login as a PNG. ?size= sets the
// edge in pixels.
func (ctl *Controllers) VoucherQRCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "256"))
	if err != nil || size < 64 || size > 2048 {
		badRequest(c, "size must be between 64 and 2048")
		return
	}

	v, err := ctl.Vouchers.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	png, err := voucher.QRCode(ctl.PortalURL, v, size)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
