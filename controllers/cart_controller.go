package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/middlewares"
	"storefront/models"
)

func (ctl *Controller) cartView() gin.H {
	return gin.H{
		"items": ctl.Cart.Items(),
		"total": ctl.Cart.Total(),
		"count": ctl.Cart.Count(),
	}
}

func (ctl *Controller) GetCart(c *gin.Context) {
	c.JSON(http.StatusOK, ctl.cartView())
}

func (ctl *Controller) AddCartItem(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("cart_add", c.Writer.Status() < 300)
	}()

	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctl.Cart.Add(c.Request.Context(), p)
	c.JSON(http.StatusOK, ctl.cartView())
}

func (ctl *Controller) RemoveCartItem(c *gin.Context) {
	ctl.Cart.Remove(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, ctl.cartView())
}

type quantityRequest struct {
	Qty *int `json:"qty" binding:"required"`
}

// SetCartItemQuantity clamps to 1; unknown ids leave the cart untouched.
func (ctl *Controller) SetCartItemQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctl.Cart.SetQuantity(c.Request.Context(), c.Param("id"), *req.Qty)
	c.JSON(http.StatusOK, ctl.cartView())
}

func (ctl *Controller) ClearCart(c *gin.Context) {
	ctl.Cart.Clear(c.Request.Context())
	c.JSON(http.StatusOK, ctl.cartView())
}
