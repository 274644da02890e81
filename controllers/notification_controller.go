package controllers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/logging"
	"storefront/middlewares"
)

func (ctl *Controller) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"notifications": ctl.Notes.List(),
		"unread":        ctl.Notes.Unread(),
	})
}

func (ctl *Controller) RefreshNotifications(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("notifications_refresh", c.Writer.Status() < 300)
	}()

	userID := c.GetString(middlewares.CtxUserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No user id for this session"})
		return
	}
	list, err := ctl.Backend.Notifications(c.Request.Context(), c.GetString(middlewares.CtxToken), userID)
	if err != nil {
		logging.FromCtx(c.Request.Context()).Error("fetch notifications", slog.Any("err", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch notifications"})
		return
	}
	ctl.Notes.Replace(list)
	ctl.ListNotifications(c)
}

// MarkNotificationRead flips the local flag and mirrors it to the backend
// when signed in. Backend failures are logged only.
func (ctl *Controller) MarkNotificationRead(c *gin.Context) {
	id := c.Param("id")
	if !ctl.Notes.MarkRead(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return
	}
	if token := c.GetString(middlewares.CtxToken); token != "" {
		if err := ctl.Backend.MarkNotificationRead(c.Request.Context(), token, id); err != nil {
			logging.FromCtx(c.Request.Context()).Warn("mark notification read", slog.String("id", id), slog.Any("err", err))
		}
	}
	ctl.ListNotifications(c)
}

func (ctl *Controller) MarkAllNotificationsRead(c *gin.Context) {
	ctl.Notes.MarkAllRead()
	token, userID := c.GetString(middlewares.CtxToken), c.GetString(middlewares.CtxUserID)
	if token != "" && userID != "" {
		if err := ctl.Backend.MarkAllNotificationsRead(c.Request.Context(), token, userID); err != nil {
			logging.FromCtx(c.Request.Context()).Warn("mark all notifications read", slog.Any("err", err))
		}
	}
	ctl.ListNotifications(c)
}

func (ctl *Controller) ClearNotifications(c *gin.Context) {
	ctl.Notes.Clear()
	ctl.ListNotifications(c)
}

// StreamNotifications pushes each new notification as a server-sent event
// until the client goes away.
func (ctl *Controller) StreamNotifications(c *gin.Context) {
	ch, cancel := ctl.Notes.Watch()
	defer cancel()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case n := <-ch:
			c.SSEvent("notification", n)
			return true
		case <-done:
			return false
		}
	})
}
