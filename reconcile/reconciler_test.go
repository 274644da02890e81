package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api"
	"storefront/channel"
	"storefront/logging"
	"storefront/models"
	"storefront/storage"
	"storefront/store"
)

// scriptedSource answers GetOrder from a list of statuses; the last entry
// repeats. An empty status means "not found".
type scriptedSource struct {
	mu       sync.Mutex
	statuses []models.OrderStatus
	calls    int
	block    chan struct{} // when set, the first call waits on it
}

func (s *scriptedSource) GetOrder(ctx context.Context, _, orderID string) (models.Order, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	block := s.block
	s.mu.Unlock()

	if n == 0 && block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.Order{}, ctx.Err()
		}
	}

	st := s.statuses[min(n, len(s.statuses)-1)]
	if st == "" {
		return models.Order{}, api.ErrNotFound
	}
	return models.Order{ID: orderID, Status: st, Amount: 25}, nil
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingBackend struct {
	confirms atomic.Int32
	notifies atomic.Int32
	reports  atomic.Int32
	fail     bool
	hold     chan struct{} // when set, ConfirmPayment waits on it
}

func (b *recordingBackend) ConfirmPayment(context.Context, string, api.ConfirmPaymentRequest) error {
	if b.hold != nil {
		<-b.hold
	}
	b.confirms.Add(1)
	if b.fail {
		return errors.New("confirm failed")
	}
	return nil
}

func (b *recordingBackend) NotifyNow(context.Context, string, api.NotifyRequest) error {
	b.notifies.Add(1)
	if b.fail {
		return errors.New("notify failed")
	}
	return nil
}

func (b *recordingBackend) UpdatePaymentStatus(_ context.Context, _ string, upd api.PaymentStatusUpdate) error {
	if upd.Status == models.StatusPaid && upd.PaymentID != "" {
		b.reports.Add(1)
	}
	return nil
}

type fakePush struct {
	mu        sync.Mutex
	connected bool
	handlers  map[int]channel.Handler
	next      int
}

func newFakePush(connected bool) *fakePush {
	return &fakePush{connected: connected, handlers: make(map[int]channel.Handler)}
}

func (p *fakePush) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePush) On(_ string, h channel.Handler) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.handlers[id] = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *fakePush) listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

func (p *fakePush) emit(t *testing.T, payload string) {
	t.Helper()
	p.mu.Lock()
	hs := make([]channel.Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(channel.Event{Name: channel.EventOrderUpdate, Data: json.RawMessage(payload)})
	}
}

type fixture struct {
	rec     *Reconciler
	source  *scriptedSource
	backend *recordingBackend
	orders  *store.OrderStore
	cart    *store.CartStore
	notes   *store.NotificationStore
}

func newFixture(t *testing.T, source *scriptedSource, push PushChannel, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		source:  source,
		backend: &recordingBackend{},
		orders:  store.NewOrderStore(),
		cart:    store.NewCartStore(storage.NewMemoryStorage(), logging.Discard()),
		notes:   store.NewNotificationStore(),
	}
	f.cart.Add(context.Background(), models.Product{ID: "p1", Price: 25})

	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}
	f.rec = New(Deps{
		Source:  source,
		Backend: f.backend,
		Push:    push,
		Orders:  f.orders,
		Cart:    f.cart,
		Notes:   f.notes,
	}, opts, logging.Discard())
	return f
}

func (f *fixture) successNotifications() int {
	n := 0
	for _, it := range f.notes.List() {
		if it.Type == models.NotificationSuccess {
			n++
		}
	}
	return n
}

var params = Params{OrderID: "o1", SessionID: "cs_1", Token: "tok", UserID: "u1"}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReconciler_PollsUntilPaid(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPending, models.StatusPending, models.StatusPaid}}
	f := newFixture(t, src, nil, Options{})

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()

	snap := s.Wait(waitCtx(t))
	require.Equal(t, StateConfirmed, snap.State)
	require.NotNil(t, snap.Order)
	assert.Equal(t, models.StatusPaid, snap.Order.Status)
	assert.Len(t, snap.Progress, 4)

	assert.Equal(t, 3, src.count())
	assert.Empty(t, f.cart.Items())
	assert.Equal(t, 1, f.successNotifications())
	assert.Equal(t, int32(1), f.backend.confirms.Load())
	assert.Equal(t, int32(1), f.backend.notifies.Load())

	o, ok := f.orders.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPaid, o.Status)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 3, src.count(), "no polls after the order settled")
	assert.Zero(t, f.rec.ActivePollers())
}

func TestReconciler_TransientFailuresAreRetried(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{"", "", models.StatusShipped}}
	f := newFixture(t, src, nil, Options{MaxInterval: 20 * time.Millisecond})
	f.backend.fail = true

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()

	snap := s.Wait(waitCtx(t))
	assert.Equal(t, StateConfirmed, snap.State)
	assert.Empty(t, f.cart.Items(), "side-effect call failures do not block the cart clear")
	assert.Equal(t, 1, f.successNotifications())
}

func TestReconciler_MissingParams(t *testing.T) {
	for _, p := range []Params{{Token: "tok"}, {OrderID: "o1"}} {
		src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPaid}}
		f := newFixture(t, src, newFakePush(true), Options{})

		s := f.rec.Start(context.Background(), p)
		snap := s.Wait(waitCtx(t))
		s.Stop()

		assert.Equal(t, StateUnmatched, snap.State)
		assert.ErrorIs(t, s.Err(), ErrMissingParams)
		assert.Zero(t, src.count())
		assert.Len(t, f.cart.Items(), 1)
	}
}

func TestReconciler_PushIgnoresOtherOrders(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{""}}
	push := newFakePush(true)
	f := newFixture(t, src, push, Options{})

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, 5*time.Millisecond)

	push.emit(t, `{"_id":"other","status":"paid"}`)
	assert.Zero(t, f.orders.Len())
	assert.Len(t, f.cart.Items(), 1)

	push.emit(t, `{"orderId":"o1","status":"paid"}`)
	snap := s.Wait(waitCtx(t))
	assert.Equal(t, StateConfirmed, snap.State)
	assert.Equal(t, 1, f.orders.Len())
	assert.Empty(t, f.cart.Items())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, src.count(), "connected push channel suppresses polling")
}

func TestReconciler_StaleFetchIsDiscarded(t *testing.T) {
	src := &scriptedSource{
		statuses: []models.OrderStatus{models.StatusPending},
		block:    make(chan struct{}),
	}
	push := newFakePush(true)
	f := newFixture(t, src, push, Options{})

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, 5*time.Millisecond)

	push.emit(t, `{"_id":"o1","status":"shipped"}`)
	close(src.block)

	require.Eventually(t, func() bool { return f.rec.ActivePollers() == 0 }, time.Second, 5*time.Millisecond)
	o, ok := f.orders.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusShipped, o.Status, "older in-flight fetch must not overwrite the push result")
	assert.Equal(t, StateConfirmed, s.Snapshot().State)
}

func TestReconciler_MountUnmountDoesNotLeak(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPending}}
	push := newFakePush(false)
	f := newFixture(t, src, push, Options{})

	for i := 0; i < 2; i++ {
		s := f.rec.Start(context.Background(), params)
		assert.Equal(t, 1, f.rec.ActivePollers())
		assert.Equal(t, 1, push.listeners())

		time.Sleep(25 * time.Millisecond)
		s.Stop()
		s.Stop()

		assert.Zero(t, f.rec.ActivePollers())
		assert.Zero(t, push.listeners())
	}

	calls := src.count()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, src.count(), "no polling after unmount")
}

func TestReconciler_CancelledContextStopsPolling(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPending}}
	f := newFixture(t, src, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	s := f.rec.Start(ctx, params)
	cancel()

	snap := s.Wait(waitCtx(t))
	s.Stop()
	assert.NotEqual(t, StateConfirmed, snap.State)
	assert.Zero(t, f.rec.ActivePollers())
}

func TestReconciler_TimeoutYieldsDelayed(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPending}}
	f := newFixture(t, src, nil, Options{Timeout: 50 * time.Millisecond})

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()

	snap := s.Wait(waitCtx(t))
	assert.Equal(t, StateDelayed, snap.State)
	assert.Len(t, f.cart.Items(), 1)

	require.Eventually(t, func() bool { return f.rec.ActivePollers() == 0 }, time.Second, 5*time.Millisecond)
	calls := src.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.count())
}

func TestReconciler_NeverFoundIsUnmatched(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{""}}
	f := newFixture(t, src, nil, Options{Timeout: 40 * time.Millisecond})

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()

	snap := s.Wait(waitCtx(t))
	assert.Equal(t, StateUnmatched, snap.State)
	assert.Nil(t, snap.Order)
	assert.Positive(t, snap.Polls)
}

func TestReconciler_UnknownStatusIsPendingLike(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{"awaiting_capture"}}
	f := newFixture(t, src, nil, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	s := f.rec.Start(context.Background(), params)
	defer s.Stop()

	snap := s.Wait(ctx)
	assert.Equal(t, StateProcessing, snap.State)
	assert.Len(t, f.cart.Items(), 1)
}

func TestReconciler_SideEffectsOncePerOrder(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPaid}}
	f := newFixture(t, src, nil, Options{})

	for i := 0; i < 2; i++ {
		s := f.rec.Start(context.Background(), params)
		assert.Equal(t, StateConfirmed, s.Wait(waitCtx(t)).State)
		s.Stop()
	}

	assert.Equal(t, 1, f.successNotifications())
	assert.Equal(t, int32(1), f.backend.confirms.Load())
}

func TestReconciler_NoSessionIDSkipsConfirm(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPaid}}
	f := newFixture(t, src, nil, Options{})

	p := params
	p.SessionID = ""
	s := f.rec.Start(context.Background(), p)
	defer s.Stop()

	assert.Equal(t, StateConfirmed, s.Wait(waitCtx(t)).State)
	assert.Zero(t, f.backend.confirms.Load())
	assert.Equal(t, int32(1), f.backend.notifies.Load())
}

func TestPollBackOff_Schedule(t *testing.T) {
	b := newPollBackOff(Options{Interval: 10 * time.Millisecond, MaxInterval: 30 * time.Millisecond})

	wantMs := []float64{10, 16, 25.6, 30, 30}
	for i, w := range wantMs {
		assert.InDelta(t, w*float64(time.Millisecond), float64(nextDelay(b, false)), float64(time.Microsecond), "step %d", i)
	}
	assert.InDelta(t, float64(10*time.Millisecond), float64(nextDelay(b, true)), float64(time.Microsecond), "success restarts at the base interval")
}

func TestReconciler_PushEffectsDoNotBlockDispatch(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPending}}
	push := newFakePush(true)
	f := newFixture(t, src, push, Options{})
	f.backend.hold = make(chan struct{})

	s := f.rec.Start(context.Background(), params)
	defer s.Stop()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, 5*time.Millisecond)

	returned := make(chan struct{})
	go func() {
		push.emit(t, `{"orderId":"o1","status":"paid"}`)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("push handler blocked on the confirm call")
	}

	o, ok := f.orders.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPaid, o.Status)

	close(f.backend.hold)
	assert.Equal(t, StateConfirmed, s.Wait(waitCtx(t)).State)
	assert.Equal(t, int32(1), f.backend.confirms.Load())
	assert.Empty(t, f.cart.Items())
}

func TestReconciler_ReportsLegacyCardPayment(t *testing.T) {
	src := &scriptedSource{statuses: []models.OrderStatus{models.StatusPaid}}
	f := newFixture(t, src, nil, Options{})

	p := params
	p.SessionID, p.PaymentID = "", "pi_1"
	s := f.rec.Start(context.Background(), p)
	defer s.Stop()

	assert.Equal(t, StateConfirmed, s.Wait(waitCtx(t)).State)
	assert.Equal(t, int32(1), f.backend.reports.Load())
	assert.Zero(t, f.backend.confirms.Load())
}
