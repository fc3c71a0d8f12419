package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/orders"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/core/queue"
	"github.com/vinhphannn/eatnow-dispatch/core/score"
)

type memQueue struct {
	mu      sync.Mutex
	entries map[string]queue.Priority
}

func newMemQueue() *memQueue { return &memQueue{entries: make(map[string]queue.Priority)} }

func (q *memQueue) Enqueue(_ context.Context, orderID string, p queue.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[orderID]; !ok {
		q.entries[orderID] = p
	}
	return nil
}

func (q *memQueue) EnqueueBoosted(_ context.Context, orderID string, p queue.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.entries[orderID]; !ok || p < cur {
		q.entries[orderID] = p
	}
	return nil
}

func (q *memQueue) PopNext(context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best string
	var bestP queue.Priority
	for id, p := range q.entries {
		if best == "" || p < bestP || (p == bestP && id < best) {
			best, bestP = id, p
		}
	}
	if best == "" {
		return "", false, nil
	}
	delete(q.entries, best)
	return best, true, nil
}

func (q *memQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

func (q *memQueue) priority(orderID string) (queue.Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.entries[orderID]
	return p, ok
}

type memPending struct {
	mu sync.Mutex
	m  map[string]model.PendingAssignment
}

func newMemPending() *memPending { return &memPending{m: make(map[string]model.PendingAssignment)} }

func (s *memPending) Create(_ context.Context, p model.PendingAssignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[p.OrderID]; ok {
		return false, nil
	}
	s.m[p.OrderID] = p
	return true, nil
}

func (s *memPending) Get(_ context.Context, orderID string) (model.PendingAssignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[orderID]
	return p, ok, nil
}

func (s *memPending) Delete(_ context.Context, orderID, courierID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[orderID]
	if !ok || p.CourierID != courierID {
		return false, nil
	}
	delete(s.m, orderID)
	return true, nil
}

func (s *memPending) PopExpired(_ context.Context, now time.Time, limit int) ([]model.PendingAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PendingAssignment
	for id, p := range s.m {
		if p.Expired(now) && len(out) < limit {
			out = append(out, p)
			delete(s.m, id)
		}
	}
	return out, nil
}

func (s *memPending) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.m)), nil
}

type memRegistry struct {
	mu         sync.Mutex
	candidates []model.Candidate
	err        error
	delivering []string
	completed  []string
}

func (r *memRegistry) Register(context.Context, model.CourierPresence) error { return nil }
func (r *memRegistry) UpdateLocation(context.Context, string, model.LatLng) error {
	return nil
}

func (r *memRegistry) FindNearby(context.Context, model.LatLng, float64, int) ([]model.Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.candidates, nil
}

func (r *memRegistry) MarkDelivering(_ context.Context, courierID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivering = append(r.delivering, courierID)
	return nil
}

func (r *memRegistry) MarkAvailable(_ context.Context, courierID string, _ *model.LatLng) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, courierID)
	return nil
}

func (r *memRegistry) Get(context.Context, string) (model.CourierPresence, error) {
	return model.CourierPresence{}, presence.ErrNotRegistered
}

func (r *memRegistry) Unregister(context.Context, string) error { return nil }

type memOrders struct {
	mu      sync.Mutex
	m       map[string]model.Order
	getErr  error
	assigns int
}

func newMemOrders(os ...model.Order) *memOrders {
	s := &memOrders{m: make(map[string]model.Order)}
	for _, o := range os {
		s.m[o.ID] = o
	}
	return s
}

func (s *memOrders) GetOrder(_ context.Context, orderID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return model.Order{}, s.getErr
	}
	o, ok := s.m[orderID]
	if !ok {
		return model.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *memOrders) AssignDriver(_ context.Context, orderID, courierID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[orderID]
	if !ok {
		return model.Order{}, orders.ErrNotFound
	}
	if o.DriverID != "" {
		return model.Order{}, orders.ErrConflict
	}
	if !o.Status.NeedsAssignment() {
		return model.Order{}, orders.ErrInvalidTransition
	}
	o.DriverID = courierID
	o.Status = model.OrderAssigned
	s.m[orderID] = o
	s.assigns++
	return o, nil
}

func (s *memOrders) CompleteDelivery(_ context.Context, orderID, courierID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[orderID]
	if !ok {
		return model.Order{}, orders.ErrNotFound
	}
	if o.DriverID != courierID {
		return model.Order{}, orders.ErrConflict
	}
	if !o.Status.Deliverable() {
		return model.Order{}, orders.ErrInvalidTransition
	}
	o.Status = model.OrderDelivered
	s.m[orderID] = o
	return o, nil
}

type recNotifier struct {
	mu       sync.Mutex
	offers   []model.PendingAssignment
	statuses []model.Order
}

func (n *recNotifier) NotifyAssignment(_ string, offer model.PendingAssignment, _ model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, offer)
}

func (n *recNotifier) BroadcastStatus(o model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, o)
}

func testCandidate(id string, distKm, rating float64, active, max int) model.Candidate {
	return model.Candidate{
		CourierPresence: model.CourierPresence{
			CourierID:           id,
			Status:              model.StatusAvailable,
			Rating:              rating,
			ActiveOrderCount:    active,
			MaxConcurrentOrders: max,
		},
		DistanceKm: distKm,
	}
}

func readyOrder(id string) model.Order {
	return model.Order{
		ID:           id,
		CustomerID:   "cust-1",
		RestaurantID: "rest-1",
		Status:       model.OrderReady,
		Pickup:       model.LatLng{Lat: 10.77, Lng: 106.70},
	}
}

func newTestWorker(t *testing.T, q queue.ReadinessQueue, reg presence.Registry, pend PendingStore, ord orders.Store, n Notifier) *Worker {
	t.Helper()
	cfg := Config{Score: score.Config{MaxDistanceKm: 10, MinRating: 3.0}}
	w, err := NewWorker(cfg, q, reg, pend, ord, n, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func TestProcessOrderOffersTopCandidate(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{candidates: []model.Candidate{
		testCandidate("far", 1.5, 3.0, 0, 3),
		testCandidate("near", 0.5, 4.5, 0, 3),
		testCandidate("busy", 1.0, 5.0, 2, 3),
	}}
	ord := newMemOrders(readyOrder("o1"))
	n := &recNotifier{}
	w := newTestWorker(t, q, reg, pend, ord, n)

	w.processOrder(context.Background(), "o1")

	p, ok, _ := pend.Get(context.Background(), "o1")
	if !ok {
		t.Fatal("expected a pending offer")
	}
	if p.CourierID != "near" {
		t.Fatalf("expected courier near, got %s", p.CourierID)
	}
	if len(n.offers) != 1 {
		t.Fatalf("expected one notification, got %d", len(n.offers))
	}
	if p.TimeoutAt.Before(p.AssignedAt) {
		t.Fatal("offer timeout must be after assignment time")
	}
}

func TestProcessOrderNoCandidatesRequeues(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{}
	ord := newMemOrders(readyOrder("o1"))
	w := newTestWorker(t, q, reg, pend, ord, &recNotifier{})

	w.processOrder(context.Background(), "o1")

	if _, ok := q.priority("o1"); !ok {
		t.Fatal("order must be re-enqueued when no courier is nearby")
	}
	if _, ok, _ := pend.Get(context.Background(), "o1"); ok {
		t.Fatal("no offer should exist")
	}
}

func TestProcessOrderRegistryUnreachable(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{err: presence.ErrUnavailable}
	ord := newMemOrders(readyOrder("o1"))
	w := newTestWorker(t, q, reg, pend, ord, &recNotifier{})

	// Must not panic and must not lose the order.
	w.processOrder(context.Background(), "o1")

	if _, ok := q.priority("o1"); !ok {
		t.Fatal("order must be re-enqueued when the registry is unreachable")
	}
}

func TestProcessOrderDropsSettledOrder(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{candidates: []model.Candidate{testCandidate("c", 1, 4, 0, 3)}}
	o := readyOrder("o1")
	o.Status = model.OrderAssigned
	o.DriverID = "someone"
	ord := newMemOrders(o)
	w := newTestWorker(t, q, reg, pend, ord, &recNotifier{})

	w.processOrder(context.Background(), "o1")

	if _, ok := q.priority("o1"); ok {
		t.Fatal("settled order must be dropped silently")
	}
	if _, ok, _ := pend.Get(context.Background(), "o1"); ok {
		t.Fatal("settled order must not get an offer")
	}
}

func TestConfirmConcurrentSingleWinner(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{}
	ord := newMemOrders(readyOrder("o1"))
	w := newTestWorker(t, q, reg, pend, ord, &recNotifier{})

	offer := model.PendingAssignment{
		OrderID:    "o1",
		CourierID:  "c1",
		AssignedAt: time.Now(),
		TimeoutAt:  time.Now().Add(time.Minute),
	}
	if _, err := pend.Create(context.Background(), offer); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.Confirm(context.Background(), "o1", "c1")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, orders.ErrConflict) || errors.Is(err, ErrNoOffer):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got %d/%d", wins, conflicts)
	}
	if ord.assigns != 1 {
		t.Fatalf("driver must be assigned exactly once, got %d", ord.assigns)
	}
	if len(reg.delivering) != 1 || reg.delivering[0] != "c1" {
		t.Fatalf("winner must transition to delivering: %v", reg.delivering)
	}
}

func TestConfirmWithoutOffer(t *testing.T) {
	q := newMemQueue()
	w := newTestWorker(t, q, &memRegistry{}, newMemPending(), newMemOrders(readyOrder("o1")), &recNotifier{})
	if _, err := w.Confirm(context.Background(), "o1", "c1"); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("expected ErrNoOffer, got %v", err)
	}
}

func TestSweepExpiredRequeuesBoosted(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	ord := newMemOrders(readyOrder("o1"))
	w := newTestWorker(t, q, &memRegistry{}, pend, ord, &recNotifier{})

	now := time.Now()
	offer := model.PendingAssignment{
		OrderID:    "o1",
		CourierID:  "c1",
		AssignedAt: now.Add(-2 * time.Minute),
		TimeoutAt:  now.Add(-time.Minute),
	}
	if _, err := pend.Create(context.Background(), offer); err != nil {
		t.Fatal(err)
	}

	w.SweepExpired(context.Background())

	p, ok := q.priority("o1")
	if !ok {
		t.Fatal("expired offer must return the order to the queue")
	}
	if p >= queue.At(now) {
		t.Fatalf("requeue priority must be boosted ahead of now: %v", p)
	}
	if _, ok, _ := pend.Get(context.Background(), "o1"); ok {
		t.Fatal("expired offer must be destroyed")
	}

	// The boosted order is served before a fresher one.
	if err := q.Enqueue(context.Background(), "o2", queue.At(now)); err != nil {
		t.Fatal(err)
	}
	next, ok, _ := q.PopNext(context.Background())
	if !ok || next != "o1" {
		t.Fatalf("boosted order must be served first, got %q", next)
	}
}

func TestRejectRequeuesAndKeepsCourier(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	w := newTestWorker(t, q, &memRegistry{}, pend, newMemOrders(readyOrder("o1")), &recNotifier{})

	offer := model.PendingAssignment{OrderID: "o1", CourierID: "c1", AssignedAt: time.Now(), TimeoutAt: time.Now().Add(time.Minute)}
	if _, err := pend.Create(context.Background(), offer); err != nil {
		t.Fatal(err)
	}

	if err := w.Reject(context.Background(), "o1", "c1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, ok := q.priority("o1"); !ok {
		t.Fatal("rejected order must be requeued")
	}

	// A second reject, or a reject from the wrong courier, finds no offer.
	if err := w.Reject(context.Background(), "o1", "c1"); !errors.Is(err, ErrNoOffer) {
		t.Fatalf("expected ErrNoOffer, got %v", err)
	}
}

func TestCompleteFreesCourier(t *testing.T) {
	q := newMemQueue()
	reg := &memRegistry{}
	o := readyOrder("o1")
	o.Status = model.OrderPickedUp
	o.DriverID = "c1"
	ord := newMemOrders(o)
	n := &recNotifier{}
	w := newTestWorker(t, q, reg, newMemPending(), ord, n)

	res, err := w.Complete(context.Background(), "o1", "c1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Status != model.OrderDelivered {
		t.Fatalf("expected delivered, got %s", res.Status)
	}
	if len(reg.completed) != 1 {
		t.Fatal("courier must regain capacity on completion")
	}
	if len(n.statuses) != 1 {
		t.Fatal("status change must be broadcast")
	}

	if _, err := w.Complete(context.Background(), "o1", "other"); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("wrong courier must get a conflict, got %v", err)
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{candidates: []model.Candidate{testCandidate("c1", 1, 4.5, 0, 3)}}
	// o-missing is unknown to the store; o-good must still be dispatched.
	ord := newMemOrders(readyOrder("o-good"))
	n := &recNotifier{}
	w := newTestWorker(t, q, reg, pend, ord, n)

	now := time.Now()
	_ = q.Enqueue(context.Background(), "o-missing", queue.At(now.Add(-time.Second)))
	_ = q.Enqueue(context.Background(), "o-good", queue.At(now))

	w.Tick(context.Background())
	w.wg.Wait()

	if _, ok, _ := pend.Get(context.Background(), "o-good"); !ok {
		t.Fatal("healthy order must be dispatched despite the bad one")
	}
}

// ctxQueue refuses writes once the context is cancelled, like the real
// redis-backed queue does.
type ctxQueue struct {
	*memQueue
}

func (q *ctxQueue) Enqueue(ctx context.Context, orderID string, p queue.Priority) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.memQueue.Enqueue(ctx, orderID, p)
}

func (q *ctxQueue) EnqueueBoosted(ctx context.Context, orderID string, p queue.Priority) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.memQueue.EnqueueBoosted(ctx, orderID, p)
}

// stallingOrders parks GetOrder until released, or fails when the caller's
// context dies first.
type stallingOrders struct {
	entered chan struct{}
	release chan error
}

func (s *stallingOrders) GetOrder(ctx context.Context, _ string) (model.Order, error) {
	close(s.entered)
	select {
	case err := <-s.release:
		return model.Order{}, err
	case <-ctx.Done():
		return model.Order{}, fmt.Errorf("%w: %v", orders.ErrUnavailable, ctx.Err())
	}
}

func (s *stallingOrders) AssignDriver(context.Context, string, string) (model.Order, error) {
	return model.Order{}, orders.ErrNotFound
}

func (s *stallingOrders) CompleteDelivery(context.Context, string, string) (model.Order, error) {
	return model.Order{}, orders.ErrNotFound
}

func TestCancelMidFlightDoesNotLoseOrder(t *testing.T) {
	mem := newMemQueue()
	q := &ctxQueue{memQueue: mem}
	st := &stallingOrders{entered: make(chan struct{}), release: make(chan error, 1)}
	w := newTestWorker(t, q, &memRegistry{}, newMemPending(), st, &recNotifier{})
	_ = mem.Enqueue(context.Background(), "o1", queue.At(time.Now()))

	// The order is popped and parks inside the store, then the loop context
	// is cancelled as a shutdown would do. The transient store failure that
	// follows must still requeue the order.
	ctx, cancel := context.WithCancel(context.Background())
	w.Tick(ctx)
	<-st.entered
	cancel()
	st.release <- orders.ErrUnavailable
	w.wg.Wait()

	if _, ok := mem.priority("o1"); !ok {
		t.Fatal("order popped before cancel must be requeued, not lost")
	}
}

func TestStopDrainsInFlight(t *testing.T) {
	q := newMemQueue()
	pend := newMemPending()
	reg := &memRegistry{candidates: []model.Candidate{testCandidate("c1", 1, 4.5, 0, 3)}}
	ord := newMemOrders(readyOrder("o1"))
	w := newTestWorker(t, q, reg, pend, ord, &recNotifier{})
	_ = q.Enqueue(context.Background(), "o1", queue.At(time.Now()))

	w.Start(context.Background())
	w.Tick(context.Background())
	w.Stop()

	// After Stop returns, no goroutine is still processing.
	if _, ok, _ := pend.Get(context.Background(), "o1"); !ok {
		t.Fatal("in-flight order must finish before Stop returns")
	}
}
