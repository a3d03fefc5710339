package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdelaire/vkbot/core/metrics"
)

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("handler panicked")

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Router *Router
	// API is handed to every handler as Context.API.
	API Client
	// State is the shared application state. The dispatcher never locks it.
	State   any
	Logger  *slog.Logger
	Metrics metrics.Recorder
	// MaxInFlight bounds concurrently running handlers. Zero means unbounded.
	MaxInFlight int
}

// Dispatcher runs one goroutine per event. It never waits for handlers to
// finish before accepting the next event, and a failing handler only ends
// its own goroutine.
type Dispatcher struct {
	router  *Router
	api     Client
	state   any
	logger  *slog.Logger
	metrics metrics.Recorder
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		router:  cfg.Router,
		api:     cfg.API,
		state:   cfg.State,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if d.router == nil {
		d.router = NewRouter()
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.metrics == nil {
		d.metrics = metrics.Noop{}
	}
	if cfg.MaxInFlight > 0 {
		d.sem = make(chan struct{}, cfg.MaxInFlight)
	}
	return d
}

// Dispatch starts a handler goroutine for each event, in order. It returns
// early only if ctx ends while waiting for a free slot; the remaining events
// of the batch are then not delivered.
// The router is sealed before the first batch.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) error {
	if !d.router.Sealed() {
		d.router.Seal()
	}
	for _, ev := range events {
		if err := d.ready(ctx); err != nil {
			return err
		}
		d.spawn(ctx, ev)
	}
	return nil
}

// Seal freezes the route table. The poll loop calls it before the first
// batch.
func (d *Dispatcher) Seal() {
	d.router.Seal()
}

// Wait blocks until every spawned handler has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ready is the per-event checkpoint before a unit is spawned.
func (d *Dispatcher) ready(ctx context.Context) error {
	if d.sem == nil {
		return nil
	}
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) release() {
	if d.sem != nil {
		<-d.sem
	}
}

func (d *Dispatcher) spawn(ctx context.Context, ev Event) {
	// Handlers outlive the poll loop's context.
	unitCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release()
		d.run(unitCtx, ev)
	}()
}

func (d *Dispatcher) run(ctx context.Context, ev Event) {
	h := d.router.Resolve(ev)
	if h == nil {
		d.metrics.RecordDropped(ctx, ev.Type)
		return
	}

	unitID := uuid.NewString()
	logger := d.logger.With("unit_id", unitID, "event_id", ev.EventID, "event_type", ev.Type)

	c := &Context{
		Event:  ev,
		API:    d.api,
		State:  d.state,
		Logger: logger,
		UnitID: unitID,
	}

	start := time.Now()
	err := invoke(ctx, h, c, logger)
	d.metrics.RecordHandler(ctx, ev.Type, time.Since(start), err)
	if err != nil {
		logger.Error("handler failed", "error", err)
		return
	}
	logger.Debug("handler done", "duration", time.Since(start))
}

func invoke(ctx context.Context, h Handler, c *Context, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, c)
}
