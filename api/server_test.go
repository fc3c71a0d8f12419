package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vinhphannn/eatnow-dispatch/core/dispatch"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/orders"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/core/queue"
	"github.com/vinhphannn/eatnow-dispatch/core/realtime"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID string, role model.Role) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

type memQueue struct {
	mu      sync.Mutex
	entries map[string]queue.Priority
}

func newMemQueue() *memQueue { return &memQueue{entries: make(map[string]queue.Priority)} }

func (q *memQueue) Enqueue(_ context.Context, id string, p queue.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		q.entries[id] = p
	}
	return nil
}

func (q *memQueue) EnqueueBoosted(_ context.Context, id string, p queue.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.entries[id]; !ok || p < cur {
		q.entries[id] = p
	}
	return nil
}

func (q *memQueue) PopNext(context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var best string
	var bestP queue.Priority
	for id, p := range q.entries {
		if best == "" || p < bestP {
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

type memPending struct {
	mu     sync.Mutex
	offers map[string]model.PendingAssignment
}

func newMemPending() *memPending {
	return &memPending{offers: make(map[string]model.PendingAssignment)}
}

func (s *memPending) Create(_ context.Context, p model.PendingAssignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offers[p.OrderID]; ok {
		return false, nil
	}
	s.offers[p.OrderID] = p
	return true, nil
}

func (s *memPending) Get(_ context.Context, orderID string) (model.PendingAssignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.offers[orderID]
	return p, ok, nil
}

func (s *memPending) Delete(_ context.Context, orderID, courierID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.offers[orderID]
	if !ok || p.CourierID != courierID {
		return false, nil
	}
	delete(s.offers, orderID)
	return true, nil
}

func (s *memPending) PopExpired(_ context.Context, now time.Time, limit int) ([]model.PendingAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PendingAssignment
	for id, p := range s.offers {
		if len(out) >= limit {
			break
		}
		if p.Expired(now) {
			out = append(out, p)
			delete(s.offers, id)
		}
	}
	return out, nil
}

func (s *memPending) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.offers)), nil
}

type memRegistry struct {
	mu       sync.Mutex
	couriers map[string]model.CourierPresence
}

func newMemRegistry() *memRegistry {
	return &memRegistry{couriers: make(map[string]model.CourierPresence)}
}

func (r *memRegistry) Register(_ context.Context, c model.CourierPresence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.couriers[c.CourierID] = c
	return nil
}

func (r *memRegistry) UpdateLocation(_ context.Context, id string, loc model.LatLng) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.couriers[id]; ok {
		c.Location = loc
		r.couriers[id] = c
	}
	return nil
}

func (r *memRegistry) FindNearby(context.Context, model.LatLng, float64, int) ([]model.Candidate, error) {
	return nil, nil
}

func (r *memRegistry) MarkDelivering(_ context.Context, id, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.couriers[id]; ok {
		c.ActiveOrderCount++
		c.Status = model.StatusDelivering
		r.couriers[id] = c
	}
	return nil
}

func (r *memRegistry) MarkAvailable(_ context.Context, id string, _ *model.LatLng) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.couriers[id]; ok {
		if c.ActiveOrderCount > 0 {
			c.ActiveOrderCount--
		}
		c.Status = model.StatusAvailable
		r.couriers[id] = c
	}
	return nil
}

func (r *memRegistry) Get(_ context.Context, id string) (model.CourierPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.couriers[id]
	if !ok {
		return model.CourierPresence{}, presence.ErrNotRegistered
	}
	return c, nil
}

func (r *memRegistry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.couriers, id)
	return nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]model.Order
}

func newMemOrders(list ...model.Order) *memOrders {
	m := &memOrders{orders: make(map[string]model.Order)}
	for _, o := range list {
		m.orders[o.ID] = o
	}
	return m
}

func (s *memOrders) GetOrder(_ context.Context, id string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *memOrders) AssignDriver(_ context.Context, id, courierID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
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
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return o, nil
}

func (s *memOrders) CompleteDelivery(_ context.Context, id, courierID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
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
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return o, nil
}

type testEnv struct {
	server  *Server
	queue   *memQueue
	pending *memPending
	reg     *memRegistry
	orders  *memOrders
}

func newTestServer(t *testing.T, list ...model.Order) *testEnv {
	t.Helper()
	q := newMemQueue()
	pend := newMemPending()
	reg := newMemRegistry()
	ord := newMemOrders(list...)
	hub := realtime.NewHub(realtime.Config{}, nil, nil)
	worker, err := dispatch.NewWorker(dispatch.Config{}, q, reg, pend, ord, hub, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(Config{Auth: AuthConfig{Secret: testSecret}}, worker, hub, reg, q, pend)
	return &testEnv{server: srv, queue: q, pending: pend, reg: reg, orders: ord}
}

func (env *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rr, req)
	return rr
}

func TestAcceptOrder(t *testing.T) {
	env := newTestServer(t, model.Order{ID: "o1", CustomerID: "u1", RestaurantID: "r1", Status: model.OrderReady})
	env.reg.couriers["d1"] = model.CourierPresence{CourierID: "d1", Status: model.StatusAvailable}
	env.pending.offers["o1"] = model.PendingAssignment{
		OrderID:    "o1",
		CourierID:  "d1",
		AssignedAt: time.Now(),
		TimeoutAt:  time.Now().Add(time.Minute),
	}

	rr := env.do(http.MethodPost, "/v1/orders/o1/accept", signToken(t, "d1", model.RoleCourier), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", rr.Code, rr.Body)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.DriverID != "d1" || resp.Status != model.OrderAssigned {
		t.Errorf("response = %+v", resp)
	}
}

func TestAcceptWithoutOfferConflicts(t *testing.T) {
	env := newTestServer(t, model.Order{ID: "o1", Status: model.OrderReady})

	rr := env.do(http.MethodPost, "/v1/orders/o1/accept", signToken(t, "d1", model.RoleCourier), "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestRejectRequeuesOrder(t *testing.T) {
	env := newTestServer(t, model.Order{ID: "o1", Status: model.OrderReady})
	env.pending.offers["o1"] = model.PendingAssignment{
		OrderID:   "o1",
		CourierID: "d1",
		TimeoutAt: time.Now().Add(time.Minute),
	}

	rr := env.do(http.MethodPost, "/v1/orders/o1/reject", signToken(t, "d1", model.RoleCourier), "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("reject status = %d, body %s", rr.Code, rr.Body)
	}
	if n, _ := env.queue.Len(context.Background()); n != 1 {
		t.Fatalf("queue depth = %d, want 1 after reject", n)
	}
}

func TestAcceptRequiresCourierRole(t *testing.T) {
	env := newTestServer(t, model.Order{ID: "o1", Status: model.OrderReady})

	rr := env.do(http.MethodPost, "/v1/orders/o1/accept", signToken(t, "u1", model.RoleCustomer), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(http.MethodPost, "/v1/orders/o1/accept", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	rr = env.do(http.MethodPost, "/v1/orders/o1/accept", "garbage", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad token", rr.Code)
	}
}

func TestPresenceRegistration(t *testing.T) {
	env := newTestServer(t)
	token := signToken(t, "d1", model.RoleCourier)

	rr := env.do(http.MethodPut, "/v1/couriers/presence", token,
		`{"lat":10.77,"lng":106.70,"max_concurrent_orders":2,"rating":4.5}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("register status = %d, body %s", rr.Code, rr.Body)
	}
	c, err := env.reg.Get(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != model.StatusAvailable || c.MaxConcurrentOrders != 2 {
		t.Errorf("registered presence = %+v", c)
	}

	rr = env.do(http.MethodPut, "/v1/couriers/presence", token, `{"lat":123.0,"lng":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid location status = %d, want 400", rr.Code)
	}

	rr = env.do(http.MethodDelete, "/v1/couriers/presence", token, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("unregister status = %d", rr.Code)
	}
	if _, err := env.reg.Get(context.Background(), "d1"); err != presence.ErrNotRegistered {
		t.Fatalf("expected courier gone, got %v", err)
	}
}

func TestDispatchStatsAdminOnly(t *testing.T) {
	env := newTestServer(t)
	_ = env.queue.Enqueue(context.Background(), "o1", queue.At(time.Now()))

	rr := env.do(http.MethodGet, "/v1/dispatch/stats", signToken(t, "d1", model.RoleCourier), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("courier stats status = %d, want 403", rr.Code)
	}

	rr = env.do(http.MethodGet, "/v1/dispatch/stats", signToken(t, "ops", model.RoleAdmin), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("admin stats status = %d, body %s", rr.Code, rr.Body)
	}
	var resp statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", resp.QueueDepth)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t)
	rr := env.do(http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
}
