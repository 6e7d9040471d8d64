// Package connectivity routes named service calls either to an in-process
// handler or to a remote endpoint, as decided by a SQLite routes table that
// can change while the daemon runs.
//
// viewtrans uses it for the two cross-process messages of the pipeline:
// translate_batch (session → translation service) and viewtrans_command
// (controller → session registry).
//
//	router := connectivity.New()
//	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
//	router.RegisterLocal("translate_batch", svc.Handle)
//	go router.Watch(ctx, db, time.Second)
//
//	resp, err := router.Call(ctx, "translate_batch", payload)
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

// Route strategies.
const (
	StrategyLocal = "local"
	StrategyHTTP  = "http"
	StrategyNoop  = "noop"
)

// Handler is one service: bytes in, bytes out. Local functions and remote
// clients share the signature.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds the Handler of a remote route. The close function
// runs when the route is removed or changed; it may be nil.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

// Route is one row of the routes table.
type Route struct {
	Service  string          `json:"service"`
	Strategy string          `json:"strategy"`
	Endpoint string          `json:"endpoint,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

func (rt Route) key() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remote struct {
	handler Handler
	close   func()
}

// Router is safe for concurrent use. Calls take a read lock; Reload swaps
// the route set under the write lock.
type Router struct {
	mu         sync.RWMutex
	locals     map[string]Handler
	remotes    map[string]remote
	routes     map[string]Route
	factories  map[string]TransportFactory
	middleware []HandlerMiddleware
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every dispatched handler, local or remote. The first
// middleware is the outermost.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.middleware = append(r.middleware, mws...) }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		locals:    make(map[string]Handler),
		remotes:   make(map[string]remote),
		routes:    make(map[string]Route),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers the in-process handler of service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.locals[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers the factory used by routes whose strategy is
// protocol.
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// Call dispatches payload to service. A noop route succeeds with a nil
// response; a remote route wins over a local handler; a service with
// neither fails with *ErrServiceNotFound.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	rt, routed := r.routes[service]
	rem, isRemote := r.remotes[service]
	local := r.locals[service]
	mws := r.middleware
	r.mu.RUnlock()

	var h Handler
	switch {
	case routed && rt.Strategy == StrategyNoop:
		r.logger.DebugContext(ctx, "connectivity: noop", "service", service)
		return nil, nil
	case isRemote:
		r.logger.DebugContext(ctx, "connectivity: remote", "service", service, "endpoint", rt.Endpoint)
		h = rem.handler
	case local != nil:
		r.logger.DebugContext(ctx, "connectivity: local", "service", service)
		h = local
	default:
		return nil, &ErrServiceNotFound{Service: service}
	}

	if len(mws) > 0 {
		h = Chain(mws...)(h)
	}
	return h(withService(ctx, service), payload)
}

// Reload replaces the route set with the rows of the routes table. Remote
// handlers whose route is unchanged are kept; the others are rebuilt and
// the replaced ones closed. A route whose transport is missing or whose
// factory fails is skipped and logged.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	routes, err := LoadRoutes(ctx, db)
	if err != nil {
		return err
	}

	next := make(map[string]Route, len(routes))
	for _, rt := range routes {
		next[rt.Service] = rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remotes := make(map[string]remote)
	for name, rt := range next {
		if rt.Strategy == StrategyLocal || rt.Strategy == StrategyNoop {
			continue
		}
		if old, ok := r.routes[name]; ok && old.key() == rt.key() {
			if rem, ok := r.remotes[name]; ok {
				remotes[name] = rem
				continue
			}
		}

		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.Warn("connectivity: route skipped",
				"error", &ErrNoFactory{Service: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.Error("connectivity: route skipped", "error", &ErrFactoryFailed{
				Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err,
			})
			continue
		}
		remotes[name] = remote{handler: h, close: closeFn}
		r.logger.Info("connectivity: route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remotes {
		if rt, stays := next[name]; stays && r.routes[name].key() == rt.key() {
			continue
		}
		if old.close != nil {
			old.close()
		}
	}

	r.remotes = remotes
	r.routes = next
	r.logger.Info("connectivity: routes reloaded", "total", len(next), "remote", len(remotes))
	return nil
}

// Routes returns the current route set sorted by service name.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Close closes every remote handler and forgets all routes.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range r.remotes {
		if rem.close != nil {
			rem.close()
		}
	}
	r.remotes = make(map[string]remote)
	r.routes = make(map[string]Route)
	return nil
}

type serviceKey struct{}

func withService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey{}, service)
}

// ServiceFrom returns the service name of the call carrying ctx.
func ServiceFrom(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey{}).(string)
	return s
}
