package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/dotside-studios/warehouse-agent/protocol"
)

// HandlerFunc answers one client request. It sends its own response,
// including error responses; a returned error is only logged.
type HandlerFunc func(ctx context.Context, c *Client, req protocol.WebSocketRequest) error

// WebSocketHandlerFunc takes over a WebSocket connection whose request matched.
// It returns false to fall back to the client session.
type WebSocketHandlerFunc func(w http.ResponseWriter, r *http.Request) bool

// HandlerServer is what a ServerHandler registers itself with.
type HandlerServer interface {
	// Handle routes one "namespace.action" message type to handler.
	Handle(messageType string, handler HandlerFunc) error

	// HandleAll registers every entry of routes.
	HandleAll(routes map[string]HandlerFunc) error

	// HandleWebSocket intercepts upgrades that matcher accepts, ahead of the
	// client session.
	HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc)

	// StartLifecycle runs start with the server context once serving begins.
	StartLifecycle(start func(ctx context.Context))

	// Broadcast sends a typed message to every connected client.
	Broadcast(messageType string, payload any)
}

// ServerHandler owns a set of message types and background work.
type ServerHandler interface {
	Register(server HandlerServer) error
}

type wsRoute struct {
	matcher func(r *http.Request) bool
	handler WebSocketHandlerFunc
}

// HandlerRegistry maps message types to handlers. It is safe for concurrent
// use; registration normally happens once in New.
type HandlerRegistry struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	wsRoutes   []wsRoute
	lifecycles []func(ctx context.Context)
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// validMessageType reports whether t has the "namespace.action" shape.
func validMessageType(t string) bool {
	namespace, action, ok := strings.Cut(t, ".")
	return ok && namespace != "" && action != "" && !strings.ContainsAny(t, " \t\n")
}

// Handle registers handler for messageType. Each type may be registered once.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %q", messageType)
	}
	if !validMessageType(messageType) {
		return fmt.Errorf("invalid message type %q, want namespace.action", messageType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[messageType]; dup {
		return fmt.Errorf("message type %q already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// HandleAll registers every entry of routes in message type order, so the
// same failure is reported on every run. It stops at the first failure.
func (r *HandlerRegistry) HandleAll(routes map[string]HandlerFunc) error {
	types := make([]string, 0, len(routes))
	for t := range routes {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		if err := r.Handle(t, routes[t]); err != nil {
			return err
		}
	}
	return nil
}

// RegisterLifecycle queues start for StartLifecycleHandlers.
func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycles = append(r.lifecycles, start)
}

// HandleWebSocket adds a connection takeover, tried in registration order.
func (r *HandlerRegistry) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wsRoutes = append(r.wsRoutes, wsRoute{matcher: matcher, handler: handler})
}

// TryCustomWebSocketHandler hands req to the first matching takeover and
// reports whether it handled the connection.
func (r *HandlerRegistry) TryCustomWebSocketHandler(w http.ResponseWriter, req *http.Request) bool {
	r.mu.RLock()
	routes := slices.Clone(r.wsRoutes)
	r.mu.RUnlock()

	for _, route := range routes {
		if route.matcher(req) {
			return route.handler(w, req)
		}
	}
	return false
}

func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// MessageTypes lists the registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// StartLifecycleHandlers runs every registered lifecycle function with ctx.
// They are expected to return promptly, spawning goroutines for long work.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	starters := slices.Clone(r.lifecycles)
	r.mu.RUnlock()

	for _, start := range starters {
		start(ctx)
	}
}
