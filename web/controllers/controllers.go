// Package controllers holds the gin handlers of the admin and callback API.
package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"

	"go-hotspot/core"
	"go-hotspot/device"
	"go-hotspot/jobs"
	"go-hotspot/log"
	"go-hotspot/payment"
	"go-hotspot/payment/reconcile"
	"go-hotspot/voucher"
	"go-hotspot/web/middleware"
)

type Controllers struct {
	Payments   *payment.Service
	Reconciler *reconcile.Coordinator
	Vouchers   *voucher.Service
	Devices    *device.Service
	Monitor    *device.Monitor
	Queue      *jobs.Queue
	// PortalURL is the captive portal encoded in voucher QR codes.
	PortalURL string
	Logger    *log.Logger
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// status maps service errors onto HTTP codes.
func status(err error) int {
	var failure *device.Failure
	switch {
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	case errors.As(err, &failure):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidState), errors.Is(err, core.ErrPersistenceConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrConnectivity):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (ctl *Controllers) fail(c *gin.Context, err error) {
	code := status(err)
	body := gin.H{"error": err.Error()}
	var failure *device.Failure
	if errors.As(err, &failure) {
		body["failure_class"] = failure.Class
	}
	if code == http.StatusInternalServerError {
		ctl.Logger.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		body["error"] = "internal error"
	}
	c.AbortWithStatusJSON(code, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func tenant(c *gin.Context) string {
	return c.Param(middleware.ContextTenant)
}

// actor names the admin for audit trails.
func actor(c *gin.Context) string {
	claims := middleware.Admin(c)
	if claims == nil || claims.Subject == "" {
		return "admin"
	}
	return claims.Subject
}

func actorID(c *gin.Context) *uint {
	claims := middleware.Admin(c)
	if claims == nil || claims.AdminID == 0 {
		return nil
	}
	id := claims.AdminID
	return &id
}
