package controllers

import (
	"context"
	"time"

	"storefront/api"
	"storefront/models"
	"storefront/reconcile"
	"storefront/store"
)

// Backend is the slice of the remote service the HTTP handlers call.
type Backend interface {
	Login(ctx context.Context, cred api.Credentials) (api.AuthResult, error)
	Register(ctx context.Context, reg api.Registration) (api.AuthResult, error)
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, token string) (models.User, error)

	MyOrders(ctx context.Context, token string) ([]models.Order, error)
	PlaceOrder(ctx context.Context, token string, req api.PlaceOrderRequest) (models.Order, error)
	CreateCheckoutSession(ctx context.Context, token string, req api.CheckoutRequest) (api.CheckoutSession, error)

	Notifications(ctx context.Context, token, userID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, token, id string) error
	MarkAllNotificationsRead(ctx context.Context, token, userID string) error
}

// PushConnector opens and closes the per-user push channel.
type PushConnector interface {
	Connect(ctx context.Context, userID string) error
	Disconnect() error
	Connected() bool
	UserID() string
	ListenerCount(name string) int
}

type Controller struct {
	Cart       *store.CartStore
	Orders     *store.OrderStore
	Notes      *store.NotificationStore
	Sessions   *store.SessionStore
	Reconciler *reconcile.Reconciler
	Backend    Backend
	Push       PushConnector // optional

	// JWTSecret verifies tokens handed to the session endpoints; empty
	// accepts them unverified, as the auth middleware does.
	JWTSecret string
	// ViewWait caps how long the payment-success view blocks for a result.
	ViewWait time.Duration
}
