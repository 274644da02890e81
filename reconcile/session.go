package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storefront/api"
	"storefront/channel"
	"storefront/models"
)

// State is what the payment-success view should show.
type State string

const (
	StateConfirmed  State = "confirmed"  // order located and past pending
	StateProcessing State = "processing" // order located, still pending
	StateUnmatched  State = "unmatched"  // order could not be located
	StateDelayed    State = "delayed"    // polling timed out while pending
	StateCancelled  State = "cancelled"
)

type Snapshot struct {
	State    State                 `json:"state"`
	Reason   string                `json:"reason,omitempty"`
	Order    *models.Order         `json:"order,omitempty"`
	Progress []models.ProgressStep `json:"progress,omitempty"`
	Polls    int                   `json:"polls"`
}

const backoffFactor = 1.6

// Session is one reconciliation run, tied to the lifetime of the view that
// started it.
type Session struct {
	r        *Reconciler
	params   Params
	cancel   context.CancelFunc
	off      func()
	started  time.Time
	settled  chan struct{}
	pollDone chan struct{}

	settleOnce sync.Once
	stopOnce   sync.Once

	mu      sync.Mutex
	issued  uint64 // last sequence number handed out
	applied uint64 // sequence number of the result currently held
	order   *models.Order
	paid    bool
	delayed bool
	polls   int
	err     error
}

// Stop tears the session down: the poll timer is cancelled, the push
// listener removed and the poll goroutine awaited. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.off()
		<-s.pollDone
	})
}

// Wait blocks until the session settles, stops, or ctx ends, and returns
// the view state at that point.
func (s *Session) Wait(ctx context.Context) Snapshot {
	select {
	case <-s.settled:
	case <-s.pollDone:
	case <-ctx.Done():
	}
	return s.Snapshot()
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Polls: s.polls}
	switch {
	case s.err != nil:
		snap.State, snap.Reason = StateUnmatched, s.err.Error()
		return snap
	case s.order == nil:
		snap.State, snap.Reason = StateUnmatched, "order not found"
		return snap
	}

	o := *s.order
	snap.Order = &o
	switch {
	case o.Status.Settled():
		snap.State = StateConfirmed
		snap.Progress = o.Progress()
	case s.delayed:
		snap.State, snap.Reason = StateDelayed, "payment confirmation is taking longer than expected"
	default:
		snap.State = StateProcessing
	}
	return snap
}

// newPollBackOff is the fetch schedule: the base interval after a successful
// fetch, growing by backoffFactor up to MaxInterval while fetches fail.
func newPollBackOff(o Options) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     o.Interval,
		RandomizationFactor: 0,
		Multiplier:          backoffFactor,
		MaxInterval:         o.MaxInterval,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func nextDelay(b backoff.BackOff, ok bool) time.Duration {
	if ok {
		b.Reset()
	}
	return b.NextBackOff()
}

func (s *Session) poll(ctx context.Context) {
	defer func() {
		s.r.activePollers.Add(-1)
		sessionsActive.Dec()
		close(s.pollDone)
	}()

	opts := s.r.opts
	if s.params.PaymentID != "" {
		s.r.reportPayment(ctx, s.params)
	}

	// The timeout lives in its own context: Reset on the exponential
	// schedule restarts its elapsed clock, so MaxElapsedTime cannot carry it.
	var b backoff.BackOff = newPollBackOff(opts)
	var deadline <-chan struct{}
	if opts.Timeout > 0 {
		dlCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		deadline = dlCtx.Done()
		b = backoff.WithContext(b, dlCtx)
	}

	ok := s.fetch(ctx)
	for {
		delay := nextDelay(b, ok)
		if delay == backoff.Stop {
			s.markDelayed()
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.settled:
			timer.Stop()
			return
		case <-deadline:
			timer.Stop()
			s.markDelayed()
			return
		case <-timer.C:
		}

		// The push listener covers updates while the channel is up.
		if s.r.pushConnected() {
			ok = true
			continue
		}
		ok = s.fetch(ctx)
	}
}

// fetch issues one GET for the order and reports whether it succeeded.
func (s *Session) fetch(ctx context.Context) bool {
	seq := s.nextSeq()
	o, err := s.r.source.GetOrder(ctx, s.params.Token, s.params.OrderID)

	s.mu.Lock()
	s.polls++
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		result := "error"
		if errors.Is(err, api.ErrNotFound) {
			result = "not_found"
		}
		polls.WithLabelValues(result).Inc()
		s.r.log.Debug("order fetch failed", slog.String("order_id", s.params.OrderID), slog.Any("err", err))
		return false
	}

	polls.WithLabelValues("ok").Inc()
	if o.ID == "" {
		o.ID = s.params.OrderID
	}
	s.apply(seq, o, false)
	return true
}

func (s *Session) onPush(ev channel.Event) {
	var oe models.OrderEvent
	if err := json.Unmarshal(ev.Data, &oe); err != nil {
		s.r.log.Warn("invalid orderUpdate payload", slog.Any("err", err))
		return
	}
	o := oe.Resolve()
	if o.ID != s.params.OrderID {
		return
	}

	seq := s.nextSeq()
	s.mu.Lock()
	if s.order != nil && len(o.Items) == 0 && o.CreatedAt.IsZero() {
		merged := *s.order
		merged.Status = o.Status
		o = merged
	}
	s.mu.Unlock()
	s.apply(seq, o, true)
}

func (s *Session) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// apply merges a fetched or pushed record unless a newer one was already
// applied, and fires the payment side effects on the first settled status.
// Pushed records run the effects on their own goroutine so the channel's
// dispatch loop is not held up by backend calls.
func (s *Session) apply(seq uint64, o models.Order, pushed bool) {
	s.mu.Lock()
	if seq < s.applied {
		s.mu.Unlock()
		staleDiscarded.Inc()
		return
	}
	s.applied = seq
	s.order = &o
	s.r.orders.Upsert(o)
	first := !s.paid && o.Status.Settled()
	if first {
		s.paid = true
	}
	s.mu.Unlock()

	if !first {
		return
	}
	if pushed {
		go s.confirm(o)
		return
	}
	s.confirm(o)
}

func (s *Session) confirm(o models.Order) {
	if s.r.claim(o.ID) {
		s.r.onPaid(s.params, o)
	}
	s.markSettled()
}

func (s *Session) markDelayed() {
	s.mu.Lock()
	if s.paid {
		s.mu.Unlock()
		return
	}
	s.delayed = true
	s.mu.Unlock()
	s.r.log.Warn("order did not settle before timeout",
		slog.String("order_id", s.params.OrderID), slog.Duration("elapsed", time.Since(s.started)))
	s.markSettled()
}

func (s *Session) markSettled() {
	s.settleOnce.Do(func() { close(s.settled) })
}
