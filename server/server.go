// Package server provides the HTTP and WebSocket surface of the warehouse agent.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/warehouse-agent/backend"
	"github.com/dotside-studios/warehouse-agent/buildinfo"
	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/protocol"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/workflow"
)

const (
	maxMessageSize  = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// SyncService is the backend synchronization the server exposes.
type SyncService interface {
	Status() backend.Status
	Subscribe(ctx context.Context) <-chan backend.Status
	SyncNow(ctx context.Context) (backend.Report, error)
}

// Config holds the server configuration
type Config struct {
	Port      int
	APISecret string // Optional API secret for WebSocket connection
	Advertise bool   // Register the mDNS service

	Printer *printer.Manager
	Scanner *scanner.Manager

	// ScannerAddress is connected when scanner.connect names no address.
	ScannerAddress string

	Store     storage.Store
	Reception *workflow.Reception
	Shipment  *workflow.Shipment

	// Sync is nil when no backend is configured.
	Sync SyncService

	Logger *log.Logger
}

// StatusPayload is the body of GET /api/v1/status.
type StatusPayload struct {
	Version       string              `json:"version"`
	Printer       *device.Status      `json:"printer,omitempty"`
	Scanner       *device.Status      `json:"scanner,omitempty"`
	Sync          *backend.Status     `json:"sync,omitempty"`
	SessionActive bool                `json:"sessionActive"`
	ActiveTask    string              `json:"activeTask,omitempty"`
	LastScan      *workflow.ScanEvent `json:"lastScan,omitempty"`
	DroppedScans  uint64              `json:"droppedScans"`
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config   Config
	logger   *log.Logger
	clients  *ClientManager
	sessions *SessionManager
	upgrader websocket.Upgrader
	feed     *workflow.Feed

	// Handler registry (unified for both client and device connections)
	handlerRegistry *HandlerRegistry

	mu         sync.Mutex
	httpServer *http.Server
	cancel     context.CancelFunc
	mdnsServer *zeroconf.Server

	scanMu   sync.RWMutex
	lastScan *workflow.ScanEvent
}

// New creates a server and registers the handlers for the configured
// components.
func New(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	s := &Server{
		config:   config,
		logger:   logger,
		clients:  NewClientManager(logger),
		sessions: NewSessionManager(config.APISecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		handlerRegistry: NewHandlerRegistry(),
	}
	s.feed = workflow.NewFeed(config.Shipment, s.publishScan, log.New(logger.Writer(), "[feed] ", logger.Flags()))

	handlers := []ServerHandler{
		&DeviceHandler{
			Printer:        config.Printer,
			Scanner:        config.Scanner,
			ScannerAddress: config.ScannerAddress,
			Settings:       config.Store,
			Logger:         logger,
		},
		&WorkflowHandler{
			Reception: config.Reception,
			Shipment:  config.Shipment,
			Store:     config.Store,
			Feed:      s.feed,
			Scanner:   config.Scanner,
		},
		&SyncHandler{Sync: config.Sync},
		&DeviceModeHandler{
			APISecret: config.APISecret,
			Handle:    s.feed.Handle,
			Logger:    log.New(logger.Writer(), "[device] ", logger.Flags()),
		},
	}
	for _, h := range handlers {
		if err := h.Register(s); err != nil {
			return nil, fmt.Errorf("register handler: %w", err)
		}
	}
	return s, nil
}

// Handle implements HandlerServer interface.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// HandleAll implements HandlerServer interface.
func (s *Server) HandleAll(routes map[string]HandlerFunc) error {
	return s.handlerRegistry.HandleAll(routes)
}

// HandleWebSocket implements HandlerServer interface.
func (s *Server) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	s.handlerRegistry.HandleWebSocket(matcher, handler)
}

// StartLifecycle implements HandlerServer interface.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.handlerRegistry.RegisterLifecycle(start)
}

// Broadcast sends a typed message to all connected clients.
func (s *Server) Broadcast(messageType string, payload any) {
	s.clients.Broadcast(protocol.WebSocketMessage{Type: messageType, Payload: payload})
}

// Feed returns the scan feed shared by the scanner, device-mode phones and
// the HTTP scan endpoint.
func (s *Server) Feed() *workflow.Feed {
	return s.feed
}

// LastScan returns the most recent scan, if any.
func (s *Server) LastScan() (workflow.ScanEvent, bool) {
	s.scanMu.RLock()
	defer s.scanMu.RUnlock()
	if s.lastScan == nil {
		return workflow.ScanEvent{}, false
	}
	return *s.lastScan, true
}

func (s *Server) publishScan(ev workflow.ScanEvent) {
	s.scanMu.Lock()
	s.lastScan = &ev
	s.scanMu.Unlock()
	s.Broadcast(protocol.WSTypeScan, ev)
}

// Status reports the state of every configured component.
func (s *Server) Status() StatusPayload {
	status := StatusPayload{
		Version:    buildinfo.FullVersion(),
		ActiveTask: s.feed.ActiveTask(),
	}
	status.SessionActive, _ = s.sessions.Active()
	if s.config.Printer != nil {
		st := s.config.Printer.Status()
		status.Printer = &st
	}
	if s.config.Scanner != nil {
		st := s.config.Scanner.Status()
		status.Scanner = &st
		status.DroppedScans = s.config.Scanner.Dropped()
	}
	if s.config.Sync != nil {
		st := s.config.Sync.Status()
		status.Sync = &st
	}
	if ev, ok := s.LastScan(); ok {
		status.LastScan = &ev
	}
	return status
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	// Preflight for every path
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.handleScanInput).Methods(http.MethodPost)

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " Server Running"))
	}).Methods(http.MethodGet)
	return r
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)
		next.ServeHTTP(w, r)
	})
}

// Start listens on the configured port and serves until ctx is done or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.httpServer = httpServer
	s.cancel = cancel
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting server on %s", ln.Addr())
		errCh <- httpServer.Serve(ln)
	}()

	if s.config.Advertise {
		port := s.config.Port
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		if err := s.startMDNS(port); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	// Start lifecycle handlers (status forwarding and the scan pump)
	s.handlerRegistry.StartLifecycleHandlers(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Println("Server context cancelled, initiating shutdown...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve http: %w", err)
		}
	}
	cancel()
	s.shutdown()
	return serveErr
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	httpServer, mdnsServer := s.httpServer, s.mdnsServer
	s.httpServer, s.mdnsServer, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.logger.Printf("mDNS service stopped")
	}
	// Hijacked connections are not closed by Shutdown.
	s.clients.CloseAll()
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("Server shutdown error: %v", err)
		}
	}
}

// startMDNS registers the agent as an mDNS service for auto-discovery
func (s *Server) startMDNS(port int) error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"device_mode=?mode=device",
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	s.logger.Printf("mDNS service registered: %s on port %d", MDNSServiceName, port)
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket connections and manages
// the client connection lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Device connections are taken over by their own handler
	if s.handlerRegistry.TryCustomWebSocketHandler(w, r) {
		return
	}

	token, err := s.sessions.Acquire(r.URL.Query().Get("secret"), r.RemoteAddr)
	switch {
	case errors.Is(err, ErrInvalidSecret):
		s.logger.Printf("WebSocket connection rejected: invalid API secret")
		writeError(w, http.StatusUnauthorized, CodeInvalidSecret, "invalid API secret")
		return
	case err != nil:
		s.logger.Printf("WebSocket connection rejected: session already claimed")
		writeError(w, http.StatusConflict, CodeSessionClaimed, "session already claimed by another client")
		return
	}
	defer s.sessions.Release(token)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	client := newClient(conn)

	s.logger.Printf("WebSocket connected from %s", r.RemoteAddr)
	s.clients.Register(client)
	defer func() {
		s.clients.Unregister(client)
		client.Close()
		s.logger.Printf("WebSocket disconnected, session released")
	}()

	s.sendInitialState(client)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.logger.Printf("Failed to parse WebSocket message: %v", err)
			SendErrorResponse(client, "", CodeParseError, "Invalid message format")
			continue
		}

		handler, ok := s.handlerRegistry.Get(req.Type)
		if !ok {
			s.logger.Printf("Unknown message type: %s", req.Type)
			SendErrorResponse(client, req.ID, CodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		// Handlers send their own responses, including errors
		if err := handler(r.Context(), client, req); err != nil {
			s.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
	}
}

// sendInitialState tells a new client the current device and sync status.
func (s *Server) sendInitialState(c *Client) {
	var messages []protocol.WebSocketMessage
	if s.config.Printer != nil {
		messages = append(messages, protocol.WebSocketMessage{Type: protocol.WSTypePrinterStatus, Payload: s.config.Printer.Status()})
	}
	if s.config.Scanner != nil {
		messages = append(messages, protocol.WebSocketMessage{Type: protocol.WSTypeScannerStatus, Payload: s.config.Scanner.Status()})
	}
	if s.config.Sync != nil {
		messages = append(messages, protocol.WebSocketMessage{Type: protocol.WSTypeSyncStatus, Payload: s.config.Sync.Status()})
	}
	for _, m := range messages {
		if err := c.WriteJSON(m); err != nil {
			s.logger.Printf("Failed to send initial state: %v", err)
			return
		}
	}
}
