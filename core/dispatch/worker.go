// Package dispatch implements the courier assignment worker: a polling loop
// that drains the readiness queue, ranks nearby couriers and manages the
// offer/confirm/timeout/reject lifecycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinhphannn/eatnow-dispatch/core/logger"
	"github.com/vinhphannn/eatnow-dispatch/core/metrics"
	"github.com/vinhphannn/eatnow-dispatch/core/model"
	"github.com/vinhphannn/eatnow-dispatch/core/notify"
	"github.com/vinhphannn/eatnow-dispatch/core/orders"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/core/queue"
	"github.com/vinhphannn/eatnow-dispatch/core/score"
	"github.com/vinhphannn/eatnow-dispatch/internal/eventbus"
)

// Worker runs the dispatch loop. Each order drained from the queue is
// processed in its own goroutine so one failure never stalls the batch.
type Worker struct {
	cfg      Config
	queue    queue.ReadinessQueue
	registry presence.Registry
	pending  PendingStore
	orders   orders.Store
	scorer   score.Scorer
	notifier Notifier
	durable  notify.Publisher
	sink     metrics.Sink
	bus      eventbus.EventBus
	log      logger.Logger

	now func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewWorker creates a dispatch worker. The notifier, durable publisher, sink
// and bus may be nil; stores and the queue may not.
func NewWorker(cfg Config, q queue.ReadinessQueue, reg presence.Registry, pend PendingStore, ord orders.Store, notifier Notifier, durable notify.Publisher, sink metrics.Sink, bus eventbus.EventBus, log logger.Logger) (*Worker, error) {
	if q == nil || reg == nil || pend == nil || ord == nil {
		return nil, fmt.Errorf("dispatch: nil store provided to NewWorker")
	}
	cfg.SetDefaults()
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if durable == nil {
		durable = notify.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Worker{
		cfg:      cfg,
		queue:    q,
		registry: reg,
		pending:  pend,
		orders:   ord,
		scorer:   score.New(cfg.Score),
		notifier: notifier,
		durable:  durable,
		sink:     sink,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}, nil
}

// Start launches the poll loop and the expired-offer sweep. It returns
// immediately; use Stop to drain in-flight work.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.started = true

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.SweepExpired(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts scheduling of new batches and waits for in-flight order
// processing to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.started = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Tick drains up to BatchSize orders and processes each independently.
func (w *Worker) Tick(ctx context.Context) {
	depth, err := w.queue.Len(ctx)
	if err != nil {
		w.log.Warnf("queue length: %v", err)
		return
	}
	queueDepth.Set(float64(depth))
	if qr, ok := w.sink.(metrics.QueueDepthRecorder); ok {
		if err := qr.RecordQueueDepth(depth); err != nil {
			w.log.Errorf("queue depth metrics error: %v", err)
		}
	}
	if depth == 0 {
		return
	}
	if n, err := w.pending.Count(ctx); err == nil {
		pendingOffers.Set(float64(n))
	}

	// A popped order is absent from the queue, so its cycle must run to
	// completion (or requeue it) even when Stop cancels the loop mid-flight.
	// Stop's wg.Wait provides the drain.
	procCtx := context.WithoutCancel(ctx)
	for i := 0; i < w.cfg.BatchSize; i++ {
		orderID, ok, err := w.queue.PopNext(ctx)
		if err != nil {
			w.log.Warnf("queue pop: %v", err)
			return
		}
		if !ok {
			return
		}
		w.wg.Add(1)
		go func(id string) {
			defer w.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					w.log.Errorf("order %s: dispatch panic: %v", id, r)
				}
			}()
			w.processOrder(procCtx, id)
		}(orderID)
	}
}

// processOrder runs the match cycle for a single dequeued order.
func (w *Worker) processOrder(ctx context.Context, orderID string) {
	start := w.now()

	o, err := w.orders.GetOrder(ctx, orderID)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		w.log.Warnf("order %s: vanished, dropping", orderID)
		return
	case err != nil:
		// Order store unreachable: the order must not be lost.
		w.log.Errorf("order %s: fetch failed, requeueing: %v", orderID, err)
		w.requeueBackoff(ctx, orderID)
		return
	}
	if !o.Status.NeedsAssignment() || o.DriverID != "" {
		w.log.Debugf("order %s: no longer needs assignment (%s)", orderID, o.Status)
		return
	}

	candidates, err := w.registry.FindNearby(ctx, o.Pickup, w.cfg.RadiusKm, w.cfg.CandidateLimit)
	if err != nil {
		// Registry unreachable reads as "no candidates", never as offline.
		w.log.Warnf("order %s: presence lookup failed: %v", orderID, err)
		w.requeueBackoff(ctx, orderID)
		return
	}
	best, ok := w.scorer.Best(candidates)
	if !ok {
		w.log.Debugf("order %s: no eligible courier within %.1fkm", orderID, w.cfg.RadiusKm)
		w.recordReassign(orderID, "", "no_candidates")
		w.requeueBackoff(ctx, orderID)
		return
	}

	offer := model.PendingAssignment{
		OrderID:    orderID,
		CourierID:  best.CourierID,
		AssignedAt: w.now(),
		TimeoutAt:  w.now().Add(w.cfg.OfferTimeout()),
	}
	created, err := w.pending.Create(ctx, offer)
	if err != nil {
		w.log.Errorf("order %s: pending create failed, requeueing: %v", orderID, err)
		w.requeueBackoff(ctx, orderID)
		return
	}
	if !created {
		// Another worker already has an offer in flight for this order.
		w.log.Debugf("order %s: offer already in flight", orderID)
		return
	}

	w.notifier.NotifyAssignment(best.CourierID, offer, o)
	if err := w.durable.Publish(ctx, notify.Notification{
		ID:            orderID + ":" + best.CourierID,
		Kind:          notify.KindAssignmentOffer,
		RecipientRole: model.RoleCourier,
		RecipientID:   best.CourierID,
		OrderID:       orderID,
		Payload:       offer,
		CreatedAt:     w.now(),
	}); err != nil {
		w.log.Errorf("order %s: durable notification failed: %v", orderID, err)
	}

	ordersOffered.Inc()
	offerLatency.Observe(w.now().Sub(start).Seconds())
	if err := w.sink.RecordAssignment(metrics.AssignmentEvent{
		OrderID:    orderID,
		CourierID:  best.CourierID,
		Score:      w.scorer.Score(best),
		DistanceKm: best.DistanceKm,
		Candidates: len(candidates),
		Time:       w.now(),
	}); err != nil {
		w.log.Errorf("assignment metrics error: %v", err)
	}
	if w.bus != nil {
		w.bus.Publish(OfferEvent{Offer: offer, Score: w.scorer.Score(best)})
	}
	w.log.Infof("order %s: offered to courier %s (%.2fkm)", orderID, best.CourierID, best.DistanceKm)
}

// SweepExpired requeues orders whose offers timed out without an answer.
func (w *Worker) SweepExpired(ctx context.Context) {
	expired, err := w.pending.PopExpired(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		w.log.Warnf("pending sweep: %v", err)
		return
	}
	// Popped offers are already destroyed; the requeue must not fail on a
	// cancelled loop context or the order is lost.
	ctx = context.WithoutCancel(ctx)
	for _, p := range expired {
		w.requeueBoosted(ctx, p.OrderID)
		w.recordReassign(p.OrderID, p.CourierID, "timeout")
		w.log.Infof("order %s: offer to %s timed out, requeued", p.OrderID, p.CourierID)
	}
}

// Reject handles an explicit courier rejection: the offer is destroyed and
// the order returns to the queue ahead of newly-ready orders. The courier
// stays available for other work.
func (w *Worker) Reject(ctx context.Context, orderID, courierID string) error {
	deleted, err := w.pending.Delete(ctx, orderID, courierID)
	if err != nil {
		return fmt.Errorf("reject order %s: %w", orderID, err)
	}
	if !deleted {
		return ErrNoOffer
	}
	w.requeueBoosted(ctx, orderID)
	w.recordReassign(orderID, courierID, "reject")
	w.log.Infof("order %s: rejected by courier %s, requeued", orderID, courierID)
	return nil
}

// Confirm handles a courier accepting an offer. The external order store
// performs the atomic conditional driver update, so a confirmation racing a
// timeout or another courier can only succeed once.
func (w *Worker) Confirm(ctx context.Context, orderID, courierID string) (model.Order, error) {
	p, ok, err := w.pending.Get(ctx, orderID)
	if err != nil {
		return model.Order{}, fmt.Errorf("confirm order %s: %w", orderID, err)
	}
	if !ok || p.CourierID != courierID {
		orderConfirmed.WithLabelValues("no_offer").Inc()
		return model.Order{}, ErrNoOffer
	}

	o, err := w.orders.AssignDriver(ctx, orderID, courierID)
	if err != nil {
		if errors.Is(err, orders.ErrConflict) {
			orderConfirmed.WithLabelValues("conflict").Inc()
			w.recordConfirm(orderID, courierID, false, p.AssignedAt)
		}
		return model.Order{}, err
	}
	if _, err := w.pending.Delete(ctx, orderID, courierID); err != nil {
		w.log.Warnf("order %s: pending cleanup failed: %v", orderID, err)
	}
	if err := w.registry.MarkDelivering(ctx, courierID, orderID); err != nil {
		w.log.Warnf("order %s: mark delivering failed: %v", orderID, err)
	}

	orderConfirmed.WithLabelValues("confirmed").Inc()
	w.recordConfirm(orderID, courierID, true, p.AssignedAt)
	w.notifier.BroadcastStatus(o)
	if err := w.durable.Publish(ctx, notify.Notification{
		ID:            orderID + ":status:" + string(o.Status),
		Kind:          notify.KindStatusChange,
		RecipientRole: model.RoleCustomer,
		RecipientID:   o.CustomerID,
		OrderID:       orderID,
		Payload:       map[string]any{"status": o.Status},
		CreatedAt:     w.now(),
	}); err != nil {
		w.log.Errorf("order %s: durable notification failed: %v", orderID, err)
	}
	if w.bus != nil {
		w.bus.Publish(ConfirmEvent{Order: o, CourierID: courierID, Time: w.now()})
	}
	w.log.Infof("order %s: confirmed by courier %s", orderID, courierID)
	return o, nil
}

// Complete settles a delivery: the order store verifies the courier is the
// assigned driver before transitioning, then the courier regains capacity.
func (w *Worker) Complete(ctx context.Context, orderID, courierID string) (model.Order, error) {
	o, err := w.orders.CompleteDelivery(ctx, orderID, courierID)
	if err != nil {
		return model.Order{}, err
	}
	if err := w.registry.MarkAvailable(ctx, courierID, nil); err != nil {
		w.log.Warnf("order %s: mark available failed: %v", orderID, err)
	}
	w.notifier.BroadcastStatus(o)
	w.log.Infof("order %s: delivered by courier %s", orderID, courierID)
	return o, nil
}

func (w *Worker) requeueBackoff(ctx context.Context, orderID string) {
	p := queue.At(w.now().Add(w.cfg.NoCandidateBackoff()))
	if err := w.queue.Enqueue(ctx, orderID, p); err != nil {
		w.log.Errorf("order %s: requeue failed: %v", orderID, err)
	}
}

func (w *Worker) requeueBoosted(ctx context.Context, orderID string) {
	p := queue.At(w.now().Add(-w.cfg.RequeueBoost()))
	if err := w.queue.EnqueueBoosted(ctx, orderID, p); err != nil {
		w.log.Errorf("order %s: boosted requeue failed: %v", orderID, err)
	}
}

func (w *Worker) recordReassign(orderID, courierID, reason string) {
	reassignments.WithLabelValues(reason).Inc()
	if err := w.sink.RecordReassignment(metrics.ReassignmentEvent{
		OrderID:   orderID,
		CourierID: courierID,
		Reason:    reason,
		Time:      w.now(),
	}); err != nil {
		w.log.Errorf("reassignment metrics error: %v", err)
	}
	if w.bus != nil {
		w.bus.Publish(ReassignEvent{OrderID: orderID, CourierID: courierID, Reason: reason, Time: w.now()})
	}
}

func (w *Worker) recordConfirm(orderID, courierID string, won bool, offeredAt time.Time) {
	if cr, ok := w.sink.(metrics.ConfirmationRecorder); ok {
		if err := cr.RecordConfirmation(metrics.ConfirmationEvent{
			OrderID:   orderID,
			CourierID: courierID,
			Won:       won,
			Latency:   w.now().Sub(offeredAt),
			Time:      w.now(),
		}); err != nil {
			w.log.Errorf("confirmation metrics error: %v", err)
		}
	}
}
