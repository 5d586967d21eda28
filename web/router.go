// Package web is the HTTP boundary: gateway callbacks and the tenant admin
// API.
package web

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"

	"go-hotspot/web/controllers"
	"go-hotspot/web/middleware"
)

type Options struct {
	JWTSecret   []byte
	CallbackKey string
	Clock       clock.Clock
	Limiter     *middleware.RateLimiter
	// AllowOrigins defaults to any origin.
	AllowOrigins []string
	Development  bool
}

func NewRouter(opts Options, ctl *controllers.Controllers) *gin.Engine {
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Development {
		r.Use(gin.Logger())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Cache-Control", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(opts.AllowOrigins) == 0 {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = opts.AllowOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", controllers.Health)

	limit := func(c *gin.Context) { c.Next() }
	if opts.Limiter != nil {
		limit = opts.Limiter.Middleware()
	}

	r.POST("/callbacks/:tenant/:transaction", limit, middleware.RequireCallbackKey(opts.CallbackKey), ctl.Callback)

	admin := r.Group("/admin/tenants/:tenant", limit, middleware.RequireAdmin(opts.JWTSecret, opts.Clock))
	{
		admin.POST("/payments", ctl.InitiatePayment)
		admin.GET("/payments/:id", ctl.GetPayment)
		admin.POST("/payments/:id/confirm", ctl.ConfirmPayment)
		admin.POST("/payments/:id/verify", ctl.VerifyPayment)
		admin.POST("/payments/:id/cancel", ctl.CancelPayment)
		admin.POST("/payments/:id/refund", ctl.RefundPayment)
		admin.POST("/payments/:id/reconcile", ctl.ReconcilePayment)

		admin.POST("/devices", ctl.RegisterDevice)
		admin.GET("/devices", ctl.ListDevices)
		admin.POST("/devices/poll", ctl.PollDevices)
		admin.GET("/devices/:id", ctl.GetDevice)
		admin.DELETE("/devices/:id", ctl.DeleteDevice)
		admin.PUT("/devices/:id/configuration", ctl.UpdateConfiguration)
		admin.POST("/devices/:id/restore", ctl.RestoreConfiguration)
		admin.GET("/devices/:id/history", ctl.ConfigurationHistory)
		admin.POST("/devices/:id/poll", ctl.PollDevice)

		admin.GET("/vouchers/:id", ctl.GetVoucher)
		admin.POST("/vouchers/:id/disable", ctl.DisableVoucher)
		admin.POST("/vouchers/:id/renew", ctl.RenewVoucher)
		admin.GET("/vouchers/:id/qr", ctl.VoucherQRCode)
	}
	return r
}
