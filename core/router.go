package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrDuplicateRoute    = errors.New("route already registered")
	ErrDuplicateFallback = errors.New("fallback handler already registered")
	ErrRouterSealed      = errors.New("router is sealed")
)

// RouteKey identifies a route. No two routes may share one.
type RouteKey struct {
	Kind    string
	Trigger string
	Filter  Filter
}

// Route binds a command trigger to a handler.
type Route struct {
	Kind    string
	Trigger string
	Filter  Filter
	Handler Handler

	match matcher
}

// Key returns the route's identity.
func (r Route) Key() RouteKey {
	return RouteKey{Kind: r.Kind, Trigger: r.Trigger, Filter: r.Filter}
}

// Router holds command routes and an optional fallback.
//
// Routes are registered during setup. Once Seal is called the table is
// read-only and Resolve may be called from any number of goroutines.
type Router struct {
	mu       sync.Mutex
	keys     map[RouteKey]struct{}
	routes   []*Route
	fallback Handler
	sealed   atomic.Bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{keys: make(map[RouteKey]struct{})}
}

// Register adds a route for events of the given kind.
func (r *Router) Register(kind, trigger string, filter Filter, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %q: nil handler", trigger)
	}
	m, err := compileMatcher(trigger, filter)
	if err != nil {
		return fmt.Errorf("register %q: %w", trigger, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("register %q: %w", trigger, ErrRouterSealed)
	}
	key := RouteKey{Kind: kind, Trigger: trigger, Filter: filter}
	if _, exists := r.keys[key]; exists {
		return fmt.Errorf("%w: kind=%s trigger=%q filter=%s", ErrDuplicateRoute, kind, trigger, filter)
	}
	r.keys[key] = struct{}{}
	r.routes = append(r.routes, &Route{
		Kind:    kind,
		Trigger: trigger,
		Filter:  filter,
		Handler: h,
		match:   m,
	})
	return nil
}

// Command registers a route for new messages.
func (r *Router) Command(trigger string, h Handler, filter Filter) error {
	return r.Register(KindMessageNew, trigger, filter, h)
}

// Fallback sets the handler used when no command route matches.
func (r *Router) Fallback(h Handler) error {
	if h == nil {
		return errors.New("register fallback: nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("register fallback: %w", ErrRouterSealed)
	}
	if r.fallback != nil {
		return ErrDuplicateFallback
	}
	r.fallback = h
	return nil
}

// MustCommand is Command that panics on error. Intended for setup code.
func (r *Router) MustCommand(trigger string, h Handler, filter Filter) *Router {
	if err := r.Command(trigger, h, filter); err != nil {
		panic(err)
	}
	return r
}

// MustFallback is Fallback that panics on error.
func (r *Router) MustFallback(h Handler) *Router {
	if err := r.Fallback(h); err != nil {
		panic(err)
	}
	return r
}

// Seal makes the router read-only. It is safe to call more than once.
func (r *Router) Seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Router) Sealed() bool {
	return r.sealed.Load()
}

// Resolve returns the handler responsible for ev, or nil if the event should
// be dropped. Command routes are tried in registration order and the first
// match wins; the fallback is used when none match. The router must be
// sealed.
func (r *Router) Resolve(ev Event) Handler {
	if text, ok := ev.Text(); ok {
		for _, rt := range r.routes {
			if rt.Kind == ev.Type && rt.match(text) {
				return rt.Handler
			}
		}
	}
	return r.fallback
}

// Routes returns the registered command routes in registration order.
func (r *Router) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Route, len(r.routes))
	for i, rt := range r.routes {
		out[i] = *rt
	}
	return out
}

// HasFallback reports whether a fallback handler is registered.
func (r *Router) HasFallback() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallback != nil
}
