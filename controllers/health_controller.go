package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/channel"
)

// Health reports liveness plus the push channel's binding, so a stuck
// fallback to polling is visible.
func (ctl *Controller) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if ctl.Push != nil {
		resp["push"] = gin.H{
			"connected": ctl.Push.Connected(),
			"user_id":   ctl.Push.UserID(),
			"listeners": gin.H{
				channel.EventNotification: ctl.Push.ListenerCount(channel.EventNotification),
				channel.EventOrderUpdate:  ctl.Push.ListenerCount(channel.EventOrderUpdate),
			},
		}
	}
	c.JSON(http.StatusOK, resp)
}
