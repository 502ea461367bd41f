package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/protocol"
	"github.com/dotside-studios/warehouse-agent/storage"
)

const (
	defaultProductLimit = 100
	maxProductLimit     = 1000
	maxScanBody         = 16 << 10
	httpScanSource      = "http-api"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeStoreError maps a storage error to a response.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus reports device, sync and session state (GET /api/v1/status)
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// handleListProducts lists received products, newest first (GET /api/v1/products?limit=N)
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "storage not configured")
		return
	}
	limit := defaultProductLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidPayload, "limit must be a positive integer")
			return
		}
		limit = min(n, maxProductLimit)
	}
	products, err := s.config.Store.ListProducts(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleGetProduct returns one product (GET /api/v1/products/{id})
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "storage not configured")
		return
	}
	product, err := s.config.Store.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// handleListTasks lists picking tasks with their items (GET /api/v1/tasks)
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "storage not configured")
		return
	}
	tasks, err := s.config.Store.ListTasks(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleGetTask returns one task (GET /api/v1/tasks/{id})
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.config.Store == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "storage not configured")
		return
	}
	task, err := s.config.Store.GetTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleScanInput injects a scan as if a scanner had read it (POST /api/v1/scan)
func (s *Server) handleScanInput(w http.ResponseWriter, r *http.Request) {
	var input protocol.ScanInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, CodeParseError, "invalid request body: "+err.Error())
		return
	}
	input.Data = strings.TrimSpace(input.Data)
	if input.Data == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidPayload, "data is required")
		return
	}
	if input.Source == "" {
		input.Source = httpScanSource
	}

	ev := s.feed.Handle(r.Context(), scanner.Scan{
		Address: input.Source,
		Data:    input.Data,
		At:      time.Now(),
	})
	writeJSON(w, http.StatusOK, ev)
}
