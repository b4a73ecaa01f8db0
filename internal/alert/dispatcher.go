// Package alert delivers fraud alerts off the request's critical path.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Dispatcher publishes alerts to the event bus from a background loop.
// Dispatch never blocks the caller and never surfaces delivery errors;
// every attempt is bounded by a per-dispatch timeout so a slow
// notification dependency cannot stall the loop indefinitely.
type Dispatcher struct {
	bus     domain.EventBus
	queue   chan domain.Alert
	timeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// NewDispatcher creates a dispatcher and starts its delivery loop.
func NewDispatcher(bus domain.EventBus, cfg domain.AlertConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		bus:     bus,
		queue:   make(chan domain.Alert, queueSize),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Dispatch enqueues an alert for delivery. If the queue is full the alert
// is dropped and logged rather than blocking the scoring path.
func (d *Dispatcher) Dispatch(alert domain.Alert) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("alert dropped: dispatcher closed",
			"customer_id", alert.CustomerID,
			"fraud_type", alert.FraudType,
		)
		return
	}
	d.mu.Unlock()

	select {
	case d.queue <- alert:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		slog.Warn("alert dropped: queue full",
			"customer_id", alert.CustomerID,
			"fraud_type", alert.FraudType,
		)
	}
}

// run is the delivery loop. It drains the queue before exiting on close.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case alert, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(alert)
		case <-d.ctx.Done():
			// Drain whatever is already queued
			for {
				select {
				case alert, ok := <-d.queue:
					if !ok {
						return
					}
					d.deliver(alert)
				default:
					return
				}
			}
		}
	}
}

// deliver publishes a single alert with a bounded timeout. Failures are
// logged and swallowed: alerting is best-effort.
func (d *Dispatcher) deliver(alert domain.Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		slog.Error("failed to marshal alert",
			"customer_id", alert.CustomerID,
			"error", err,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.bus.Publish(ctx, domain.TopicFraudAlert, payload); err != nil {
		slog.Error("alert dispatch failed",
			"customer_id", alert.CustomerID,
			"fraud_type", alert.FraudType,
			"error", err,
		)
		return
	}

	slog.Info("alert dispatched",
		"customer_id", alert.CustomerID,
		"fraud_type", alert.FraudType,
	)
}

// Dropped returns how many alerts were dropped due to a full queue.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops the delivery loop after draining queued alerts.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}

// compile-time interface check
var _ domain.AlertDispatcher = (*Dispatcher)(nil)
