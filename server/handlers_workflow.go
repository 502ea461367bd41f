package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/protocol"
	"github.com/dotside-studios/warehouse-agent/qr"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/workflow"
)

// WorkflowHandler serves the QR, reception and shipment requests, and pumps
// scanner scans into the feed.
type WorkflowHandler struct {
	Reception *workflow.Reception
	Shipment  *workflow.Shipment
	Store     storage.TaskStore
	Feed      *workflow.Feed

	// Scanner, if set, has its scans pumped into Feed.
	Scanner *scanner.Manager
}

// Register implements ServerHandler.
func (h *WorkflowHandler) Register(s HandlerServer) error {
	routes := map[string]HandlerFunc{
		protocol.WSTypeQRClassify: h.handleClassify,
	}
	if h.Reception != nil {
		routes[protocol.WSTypeReceptionPrefill] = h.handlePrefill
		routes[protocol.WSTypeReceptionReceive] = h.handleReceive
	}
	if h.Shipment != nil {
		routes[protocol.WSTypeShipmentScan] = h.handleShipmentScan
		routes[protocol.WSTypeShipmentPause] = h.handleShipmentPause
		routes[protocol.WSTypeShipmentResume] = h.handleShipmentResume
		routes[protocol.WSTypeShipmentSetActive] = h.handleSetActive
	}
	if h.Store != nil {
		routes[protocol.WSTypeTasksList] = h.handleTasksList
	}
	if err := s.HandleAll(routes); err != nil {
		return err
	}

	if h.Scanner != nil && h.Feed != nil {
		s.StartLifecycle(func(ctx context.Context) {
			go h.Feed.Pump(ctx, h.Scanner.Scans())
		})
	}
	return nil
}

func (h *WorkflowHandler) handleClassify(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.RawRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, qr.Encode(qr.Classify(payload.Raw)), nil)
}

func (h *WorkflowHandler) handlePrefill(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.RawRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, h.Reception.Prefill(payload.Raw), nil)
}

func (h *WorkflowHandler) handleReceive(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var draft workflow.Draft
	if err := decode(req, &draft); err != nil {
		return respond(c, req, nil, err)
	}
	receipt, err := h.Reception.Receive(ctx, draft)
	if err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, receipt, nil)
}

func (h *WorkflowHandler) handleShipmentScan(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.ShipmentScanRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	taskID := strings.TrimSpace(payload.TaskID)
	if taskID == "" && h.Feed != nil {
		taskID = h.Feed.ActiveTask()
	}
	if taskID == "" {
		return respond(c, req, nil, fmt.Errorf("%w: taskId is required", errInvalidPayload))
	}
	quantity := payload.Quantity
	if quantity == 0 {
		quantity = 1
	}
	result, err := h.Shipment.ScanQuantity(ctx, taskID, payload.Raw, quantity)
	if err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, result, nil)
}

func (h *WorkflowHandler) handleShipmentPause(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return h.setPaused(ctx, c, req, true)
}

func (h *WorkflowHandler) handleShipmentResume(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	return h.setPaused(ctx, c, req, false)
}

func (h *WorkflowHandler) setPaused(ctx context.Context, c *Client, req protocol.WebSocketRequest, paused bool) error {
	var payload protocol.TaskRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	if strings.TrimSpace(payload.TaskID) == "" {
		return respond(c, req, nil, fmt.Errorf("%w: taskId is required", errInvalidPayload))
	}

	var err error
	if paused {
		err = h.Shipment.Pause(ctx, payload.TaskID)
	} else {
		err = h.Shipment.Resume(ctx, payload.TaskID)
	}
	if err != nil {
		return respond(c, req, nil, err)
	}
	if h.Store == nil {
		return respond(c, req, nil, nil)
	}
	task, err := h.Store.GetTask(ctx, strings.TrimSpace(payload.TaskID))
	return respond(c, req, task, err)
}

// handleSetActive routes later scanner scans to a task. An empty task id
// stops routing.
func (h *WorkflowHandler) handleSetActive(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	var payload protocol.TaskRequest
	if err := decode(req, &payload); err != nil {
		return respond(c, req, nil, err)
	}
	taskID := strings.TrimSpace(payload.TaskID)
	if taskID != "" && h.Store != nil {
		if _, err := h.Store.GetTask(ctx, taskID); err != nil {
			return respond(c, req, nil, err)
		}
	}
	h.Feed.SetActiveTask(taskID)
	return respond(c, req, protocol.TaskRequest{TaskID: taskID}, nil)
}

func (h *WorkflowHandler) handleTasksList(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	tasks, err := h.Store.ListTasks(ctx)
	if err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, tasks, nil)
}

// SyncHandler serves on-demand sync and broadcasts the sync status.
type SyncHandler struct {
	// Sync is nil when no backend is configured; requests then fail with
	// SYNC_DISABLED.
	Sync SyncService
}

// Register implements ServerHandler.
func (h *SyncHandler) Register(s HandlerServer) error {
	if err := s.Handle(protocol.WSTypeSyncNow, h.handleSyncNow); err != nil {
		return err
	}
	if h.Sync != nil {
		s.StartLifecycle(func(ctx context.Context) {
			go forwardStatus(ctx, s, protocol.WSTypeSyncStatus, h.Sync.Subscribe(ctx))
		})
	}
	return nil
}

func (h *SyncHandler) handleSyncNow(ctx context.Context, c *Client, req protocol.WebSocketRequest) error {
	if h.Sync == nil {
		return respond(c, req, nil, errSyncDisabled)
	}
	report, err := h.Sync.SyncNow(ctx)
	if err != nil {
		return respond(c, req, nil, err)
	}
	return respond(c, req, report, nil)
}
