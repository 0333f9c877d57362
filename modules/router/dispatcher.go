package router

import (
	"context"
	"sync"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/metrics"
	"github.com/go-monolith/mono/pkg/types"
)

// Sink delivers outbound events to live connections. Deliver must not block
// on slow connections.
type Sink interface {
	Deliver(deliveries []Delivery)
}

// Dispatcher runs commands through the Router and hands the resulting
// deliveries to a Sink. Presence mutations and the delivery of their
// notices happen under one lock, so every member observes room changes in
// the same order. Private sends hold no lock while the message is stored.
type Dispatcher struct {
	router  *Router
	sink    Sink
	logger  types.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(r *Router, sink Sink, logger types.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		router:  r,
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
}

// Dispatch handles one command from conn. Calls for the same connection
// must be made sequentially by the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, conn domain.ConnectionID, cmd Command) error {
	var (
		out []Delivery
		err error
	)
	if _, ok := cmd.(SendPrivateMessage); ok {
		out, err = d.router.Handle(ctx, conn, cmd)
		d.sink.Deliver(out)
	} else {
		d.mu.Lock()
		out, err = d.router.Handle(ctx, conn, cmd)
		d.sink.Deliver(out)
		d.mu.Unlock()
	}

	d.observe(conn, cmd.EventName(), err)
	return err
}

// Reject sends the error event for err to conn without touching any state.
// It is used for frames that never became a Command.
func (d *Dispatcher) Reject(conn domain.ConnectionID, event string, err error) {
	d.sink.Deliver([]Delivery{{To: conn, Event: ErrorEvent(err)}})
	d.observe(conn, event, err)
}

func (d *Dispatcher) observe(conn domain.ConnectionID, event string, err error) {
	switch {
	case err == nil:
		d.metrics.Event(event, "ok")
	case IsExpected(err):
		d.metrics.Event(event, "rejected")
		d.logger.Debug("event rejected", "conn", conn, "event", event, "error", err)
	default:
		d.metrics.Event(event, "failed")
		d.logger.Error("event failed", "conn", conn, "event", event, "error", err)
	}
}
