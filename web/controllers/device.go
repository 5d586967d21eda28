package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-hotspot/db"
	"go-hotspot/device"
)

func (ctl *Controllers) RegisterDevice(c *gin.Context) {
	var req device.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	d, err := ctl.Devices.Register(c.Request.Context(), tenant(c), req, actorID(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (ctl *Controllers) ListDevices(c *gin.Context) {
	devices, err := ctl.Devices.List(c.Request.Context(), tenant(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (ctl *Controllers) GetDevice(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	d, err := ctl.Devices.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (ctl *Controllers) DeleteDevice(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := ctl.Devices.Delete(c.Request.Context(), tenant(c), id); err != nil {
		ctl.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controllers) UpdateConfiguration(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var cfg map[string]any
	if err := c.ShouldBindJSON(&cfg); err != nil || len(cfg) == 0 {
		badRequest(c, "configuration must be a non-empty object")
		return
	}
	d, err := ctl.Devices.UpdateConfiguration(c.Request.Context(), tenant(c), id, cfg, actorID(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// RestoreConfiguration applies a history entry, or the latest backup when no
// history_id is given.
func (ctl *Controllers) RestoreConfiguration(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		HistoryID uint `json:"history_id"`
	}
	_ = c.ShouldBindJSON(&body)

	ctx := c.Request.Context()
	var (
		d   *db.Device
		err error
	)
	if body.HistoryID == 0 {
		d, err = ctl.Devices.RestoreLatestBackup(ctx, tenant(c), id, actorID(c))
	} else {
		d, err = ctl.Devices.Restore(ctx, tenant(c), id, body.HistoryID, actorID(c))
	}
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (ctl *Controllers) ConfigurationHistory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	history, err := ctl.Devices.History(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (ctl *Controllers) PollDevice(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	d, err := ctl.Monitor.PollDevice(c.Request.Context(), tenant(c), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (ctl *Controllers) PollDevices(c *gin.Context) {
	res, err := ctl.Monitor.PollAll(c.Request.Context(), tenant(c))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
