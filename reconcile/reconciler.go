package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"storefront/api"
	"storefront/channel"
	"storefront/models"
	"storefront/store"
)

var ErrMissingParams = errors.New("missing parameters")

// OrderSource fetches the authoritative order record.
type OrderSource interface {
	GetOrder(ctx context.Context, token, orderID string) (models.Order, error)
}

// Backend receives the side-effect calls made on a confirmed payment.
type Backend interface {
	ConfirmPayment(ctx context.Context, token string, req api.ConfirmPaymentRequest) error
	NotifyNow(ctx context.Context, token string, req api.NotifyRequest) error
	UpdatePaymentStatus(ctx context.Context, token string, upd api.PaymentStatusUpdate) error
}

// PushChannel is the subset of channel.Channel the reconciler needs.
type PushChannel interface {
	Connected() bool
	On(name string, h channel.Handler) (off func())
}

type Options struct {
	Interval    time.Duration // base poll period
	MaxInterval time.Duration // backoff cap after failed fetches
	Timeout     time.Duration // polling gives up after this; 0 polls until stopped
	CallTimeout time.Duration // per side-effect call
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = o.Interval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	return o
}

type Reconciler struct {
	source  OrderSource
	backend Backend
	push    PushChannel // nil when no push channel is configured
	orders  *store.OrderStore
	cart    *store.CartStore
	notes   *store.NotificationStore
	opts    Options
	log     *slog.Logger

	mu    sync.Mutex
	fired map[string]struct{} // orders whose payment side effects already ran

	activePollers atomic.Int32
}

type Deps struct {
	Source  OrderSource
	Backend Backend
	Push    PushChannel
	Orders  *store.OrderStore
	Cart    *store.CartStore
	Notes   *store.NotificationStore
}

func New(d Deps, opts Options, log *slog.Logger) *Reconciler {
	return &Reconciler{
		source:  d.Source,
		backend: d.Backend,
		push:    d.Push,
		orders:  d.Orders,
		cart:    d.Cart,
		notes:   d.Notes,
		opts:    opts.withDefaults(),
		log:     log,
		fired:   make(map[string]struct{}),
	}
}

// Params are the correlation keys of one post-payment redirect.
type Params struct {
	OrderID   string
	SessionID string
	Token     string
	UserID    string
	// PaymentID is set by the legacy card flow, where the client reports
	// the captured payment itself before the order can turn paid.
	PaymentID string
}

// ActivePollers is the number of live poll timers.
func (r *Reconciler) ActivePollers() int {
	return int(r.activePollers.Load())
}

// Start begins reconciling p.OrderID until ctx ends, Stop is called, or the
// order settles. Missing parameters yield an inert session that never fetches.
func (r *Reconciler) Start(ctx context.Context, p Params) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		r:        r,
		params:   p,
		cancel:   cancel,
		settled:  make(chan struct{}),
		pollDone: make(chan struct{}),
		off:      func() {},
		started:  time.Now(),
	}

	if p.OrderID == "" || p.Token == "" {
		s.err = ErrMissingParams
		s.markSettled()
		close(s.pollDone)
		r.log.Info("reconciliation skipped", slog.Bool("has_order_id", p.OrderID != ""), slog.Bool("has_token", p.Token != ""))
		return s
	}

	sessionsActive.Inc()
	if r.push != nil {
		s.off = r.push.On(channel.EventOrderUpdate, s.onPush)
	}
	r.activePollers.Add(1)
	go s.poll(ctx)
	return s
}

// claim reports whether the caller is first to fire side effects for id.
func (r *Reconciler) claim(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fired[orderID]; ok {
		return false
	}
	r.fired[orderID] = struct{}{}
	return true
}

func (r *Reconciler) pushConnected() bool {
	return r.push != nil && r.push.Connected()
}

// reportPayment tells the backend a card payment was captured. Best-effort.
func (r *Reconciler) reportPayment(ctx context.Context, p Params) {
	if r.backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()
	err := r.backend.UpdatePaymentStatus(ctx, p.Token, api.PaymentStatusUpdate{
		OrderID:   p.OrderID,
		PaymentID: p.PaymentID,
		Status:    models.StatusPaid,
	})
	if err != nil {
		r.log.Warn("payment status update failed", slog.String("order_id", p.OrderID), slog.Any("err", err))
	}
}

// onPaid runs the one-time effects of a confirmed payment. Every call is
// best-effort: failures are logged and never surfaced.
func (r *Reconciler) onPaid(p Params, o models.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.CallTimeout)
	defer cancel()
	log := r.log.With(slog.String("order_id", o.ID))

	if p.SessionID != "" && r.backend != nil {
		if err := r.backend.ConfirmPayment(ctx, p.Token, api.ConfirmPaymentRequest{OrderID: o.ID, SessionID: p.SessionID}); err != nil {
			log.Warn("confirm payment failed", slog.Any("err", err))
		}
	}

	r.cart.Clear(ctx)

	title := "Payment Successful"
	msg := fmt.Sprintf("Your payment for order %s has been received!", o.ID)
	r.notes.Add(models.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   msg,
		Type:      models.NotificationSuccess,
		CreatedAt: time.Now(),
	})

	if p.UserID != "" && r.backend != nil {
		if err := r.backend.NotifyNow(ctx, p.Token, api.NotifyRequest{
			UserID: p.UserID, Title: title, Message: msg, Type: models.NotificationSuccess,
		}); err != nil {
			log.Warn("notify-now failed", slog.Any("err", err))
		}
	}

	transitions.Inc()
	log.Info("payment confirmed", slog.String("status", string(o.Status)))
}
