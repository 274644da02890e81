package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/middlewares"
	"storefront/reconcile"
)

// PaymentSuccess is the landing view after a hosted payment. It reconciles
// the order for at most the configured view wait, tearing the session down
// when the request ends, and reports what the view should show.
func (ctl *Controller) PaymentSuccess(c *gin.Context) {
	if c.Query("cancelled") == "true" {
		c.JSON(http.StatusOK, reconcile.Snapshot{State: reconcile.StateCancelled, Reason: "payment was cancelled"})
		return
	}

	wait := ctl.ViewWait
	if w := c.Query("wait"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait duration"})
			return
		}
		wait = min(d, ctl.ViewWait)
	}

	p := reconcile.Params{
		OrderID:   c.Query("order_id"),
		SessionID: c.Query("session_id"),
		Token:     c.GetString(middlewares.CtxToken),
		UserID:    c.GetString(middlewares.CtxUserID),
	}
	// Legacy card flow: success=true with the captured payment's id.
	if c.Query("success") == "true" {
		p.PaymentID = c.Query("payment_id")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()

	sess := ctl.Reconciler.Start(ctx, p)
	defer sess.Stop()

	c.JSON(http.StatusOK, sess.Wait(ctx))
}

func (ctl *Controller) PaymentCancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   reconcile.StateCancelled,
		"message": "Payment was cancelled. Your cart has been kept.",
		"cart":    ctl.cartView(),
	})
}
