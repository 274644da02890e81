package controllers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront/middlewares"
)

func NewRouter(ctl *Controller, auth gin.HandlerFunc, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.PrometheusMiddleware(), middlewares.Logging(log), auth)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", ctl.Health)

	r.GET("/payment/success", ctl.PaymentSuccess)
	r.GET("/payment/cancel", ctl.PaymentCancel)

	api := r.Group("/api")
	{
		api.POST("/auth/login", ctl.SignIn)
		api.POST("/auth/register", ctl.Register)
		api.POST("/auth/logout", ctl.Logout)

		api.POST("/session", ctl.Login)
		api.DELETE("/session", ctl.Logout)
		api.GET("/session", ctl.GetSession)

		api.GET("/cart", ctl.GetCart)
		api.POST("/cart/items", ctl.AddCartItem)
		api.PUT("/cart/items/:id", ctl.SetCartItemQuantity)
		api.DELETE("/cart/items/:id", ctl.RemoveCartItem)
		api.DELETE("/cart", ctl.ClearCart)

		api.GET("/orders", ctl.ListOrders)
		api.GET("/orders/:id", ctl.GetOrderDetails)

		api.GET("/notifications", ctl.ListNotifications)
		api.PUT("/notifications/read-all", ctl.MarkAllNotificationsRead)
		api.PUT("/notifications/:id/read", ctl.MarkNotificationRead)
		api.DELETE("/notifications", ctl.ClearNotifications)
		api.GET("/notifications/stream", ctl.StreamNotifications)
	}

	authGroup := r.Group("/api")
	authGroup.Use(middlewares.RequireAuth())
	{
		authGroup.GET("/auth/profile", ctl.RefreshProfile)
		authGroup.POST("/orders", ctl.PlaceOrder)
		authGroup.POST("/checkout", ctl.Checkout)
		authGroup.POST("/orders/refresh", ctl.RefreshOrders)
		authGroup.POST("/notifications/refresh", ctl.RefreshNotifications)
	}

	return r
}
