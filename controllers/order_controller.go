package controllers

import (
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/api"
	"storefront/logging"
	"storefront/middlewares"
	"storefront/models"
)

func (ctl *Controller) ListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.Orders.List())
}

func (ctl *Controller) GetOrderDetails(c *gin.Context) {
	o, ok := ctl.Orders.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "progress": o.Progress()})
}

// RefreshOrders replaces the local list with the user's orders from the backend.
func (ctl *Controller) RefreshOrders(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("orders_refresh", c.Writer.Status() < 300)
	}()

	orders, err := ctl.Backend.MyOrders(c.Request.Context(), c.GetString(middlewares.CtxToken))
	if err != nil {
		logging.FromCtx(c.Request.Context()).Error("fetch orders", slog.Any("err", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch orders"})
		return
	}
	ctl.Orders.ReplaceAll(orders)
	c.JSON(http.StatusOK, ctl.Orders.List())
}

type placeOrderRequest struct {
	Address string `json:"address"`
}

// PlaceOrder creates an order from the cart directly with the backend and
// clears the cart once it is accepted.
func (ctl *Controller) PlaceOrder(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("place_order", c.Writer.Status() < 300)
	}()

	var req placeOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	items := ctl.Cart.Items()
	if len(items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Your cart is empty"})
		return
	}
	if user, ok := ctl.Sessions.User(); ok && req.Address == "" {
		req.Address = user.Address
	}

	ctx := c.Request.Context()
	o, err := ctl.Backend.PlaceOrder(ctx, c.GetString(middlewares.CtxToken), api.PlaceOrderRequest{
		Items:   orderLines(items),
		Amount:  ctl.Cart.Total(),
		Address: req.Address,
	})
	if err != nil {
		logging.FromCtx(ctx).Error("place order", slog.Any("err", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to place order"})
		return
	}
	ctl.Orders.Upsert(o)
	ctl.Cart.Clear(ctx)
	c.JSON(http.StatusCreated, o)
}

func orderLines(items []models.CartItem) []models.OrderItem {
	lines := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, models.OrderItem{Product: it.ID, Qty: it.Qty})
	}
	return lines
}

type checkoutRequest struct {
	Address string `json:"address"`
	Email   string `json:"email"`
}

// Checkout opens a hosted payment session for the current cart. The cart is
// kept until the payment is confirmed.
func (ctl *Controller) Checkout(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("checkout", c.Writer.Status() < 300)
	}()

	var req checkoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	items := ctl.Cart.Items()
	if len(items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Your cart is empty"})
		return
	}

	if user, ok := ctl.Sessions.User(); ok {
		if req.Address == "" {
			req.Address = user.Address
		}
		if req.Email == "" {
			req.Email = user.Email
		}
	}

	sess, err := ctl.Backend.CreateCheckoutSession(c.Request.Context(), c.GetString(middlewares.CtxToken), api.CheckoutRequest{
		Items:   orderLines(items),
		Amount:  int64(math.Round(ctl.Cart.Total() * 100)),
		Address: req.Address,
		Email:   req.Email,
	})
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			return
		}
		logging.FromCtx(c.Request.Context()).Error("create checkout session", slog.Any("err", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}
