package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront/models"
)

var ErrNotFound = errors.New("not found")

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Client talks to the remote order, payment and notification service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type ConfirmPaymentRequest struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
}

type PaymentStatusUpdate struct {
	OrderID   string             `json:"orderId"`
	PaymentID string             `json:"paymentId,omitempty"`
	Status    models.OrderStatus `json:"status"`
}

type NotifyRequest struct {
	UserID  string                  `json:"userId"`
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Type    models.NotificationType `json:"type"`
}

type CheckoutRequest struct {
	Items   []models.OrderItem `json:"items"`
	Amount  int64              `json:"amount"` // minor units
	Address string             `json:"address"`
	Email   string             `json:"email"`
}

type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is what the backend returns from login and register.
type AuthResult struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type PlaceOrderRequest struct {
	Items   []models.OrderItem `json:"items"`
	Amount  float64            `json:"amount"`
	Address string             `json:"address"`
}

func (c *Client) Login(ctx context.Context, cred Credentials) (AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", cred, &res)
	return res, err
}

func (c *Client) Register(ctx context.Context, reg Registration) (AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, http.MethodPost, "/api/auth/register", "", reg, &res)
	return res, err
}

func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, struct{}{}, nil)
}

func (c *Client) Profile(ctx context.Context, token string) (models.User, error) {
	var res struct {
		User models.User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/api/auth/profile", token, nil, &res)
	return res.User, err
}

// PlaceOrder creates an order outside the hosted checkout flow.
func (c *Client) PlaceOrder(ctx context.Context, token string, req PlaceOrderRequest) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, http.MethodPost, "/api/orders", token, req, &o)
	return o, err
}

func (c *Client) GetOrder(ctx context.Context, token, orderID string) (models.Order, error) {
	var o models.Order
	err := c.do(ctx, http.MethodGet, "/api/payments/order/"+url.PathEscape(orderID), token, nil, &o)
	return o, err
}

func (c *Client) ConfirmPayment(ctx context.Context, token string, req ConfirmPaymentRequest) error {
	return c.do(ctx, http.MethodPost, "/api/payments/confirm", token, req, nil)
}

func (c *Client) UpdatePaymentStatus(ctx context.Context, token string, upd PaymentStatusUpdate) error {
	return c.do(ctx, http.MethodPut, "/api/payments/payment", token, upd, nil)
}

func (c *Client) NotifyNow(ctx context.Context, token string, req NotifyRequest) error {
	return c.do(ctx, http.MethodPost, "/api/notification/notify-now", token, req, nil)
}

func (c *Client) MyOrders(ctx context.Context, token string) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, http.MethodGet, "/api/orders/me", token, nil, &orders)
	return orders, err
}

func (c *Client) CreateCheckoutSession(ctx context.Context, token string, req CheckoutRequest) (CheckoutSession, error) {
	var s CheckoutSession
	err := c.do(ctx, http.MethodPost, "/api/payments/checkout", token, req, &s)
	return s, err
}

func (c *Client) Notifications(ctx context.Context, token, userID string) ([]models.Notification, error) {
	var list []models.Notification
	err := c.do(ctx, http.MethodGet, "/api/notification/"+url.PathEscape(userID), token, nil, &list)
	return list, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodPut, "/api/notification/read/"+url.PathEscape(id), token, struct{}{}, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, token, userID string) error {
	return c.do(ctx, http.MethodPut, "/api/notification/read-all/"+url.PathEscape(userID), token, struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
