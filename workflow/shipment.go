package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dotside-studios/warehouse-agent/device/printer"
	"github.com/dotside-studios/warehouse-agent/qr"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/warehouse"
)

// Shipment scan errors.
var (
	ErrNoMatch         = errors.New("scanned code matches no open item")
	ErrTaskPaused      = errors.New("task is paused")
	ErrTaskCompleted   = errors.New("task is already completed")
	ErrInvalidQuantity = errors.New("invalid shipment quantity")
)

// ScanResult is the outcome of a matched shipment scan.
type ScanResult struct {
	Task      warehouse.Task     `json:"task"`
	Item      warehouse.TaskItem `json:"item"`
	Shipment  warehouse.Shipment `json:"shipment"`
	Payload   qr.Envelope        `json:"payload"`
	Completed bool               `json:"completed"`
	Printed   bool               `json:"printed"`
}

// ShipmentStore is what the shipment workflow reads and writes.
type ShipmentStore interface {
	storage.TaskStore
	storage.ShipmentStore
}

// Shipment checks off task items as their products are scanned.
type Shipment struct {
	store ShipmentStore
	opts  Options
	// mu orders scans from the scanner, clients and the REST API so that
	// matching, recording and completion see one another's writes.
	mu sync.Mutex
	// PrintLabels prints a picking label for every matched scan.
	PrintLabels bool
}

// NewShipment creates the shipment workflow.
func NewShipment(store ShipmentStore, opts Options) *Shipment {
	return &Shipment{store: store, opts: opts.withDefaults("shipment")}
}

// Scan records one unit of the first incomplete item of taskID that raw
// identifies.
func (s *Shipment) Scan(ctx context.Context, taskID, raw string) (ScanResult, error) {
	return s.ScanQuantity(ctx, taskID, raw, 1)
}

// ScanQuantity records quantity units of the first incomplete item of taskID
// that raw identifies. quantity must be between 1 and the units the item
// still needs.
func (s *Shipment) ScanQuantity(ctx context.Context, taskID, raw string, quantity int) (ScanResult, error) {
	result, err := s.record(ctx, strings.TrimSpace(taskID), raw, quantity)
	if err != nil {
		beep(ctx, s.opts, false)
		return ScanResult{}, err
	}

	if result.Completed {
		s.opts.Logger.Printf("Task %s completed", result.Task.ID)
		s.notify(result.Task.ID)
	}
	if s.PrintLabels && connected(s.opts.Printer) {
		item := result.Item
		label := printer.Label{
			Kind:       printer.KindShipment,
			PartNumber: item.ProductID,
			PartName:   item.ProductName,
			Location:   item.StorageLocation,
			Quantity:   result.Shipment.Quantity,
			Date:       result.Shipment.ShippedAt,
		}
		if err := s.opts.Printer.PrintLabel(ctx, label); err != nil {
			s.opts.Logger.Printf("Picking label for %s not printed: %v", item.ProductID, err)
		} else {
			result.Printed = true
		}
	}
	beep(ctx, s.opts, true)
	return result, nil
}

// record matches raw against the task and stores the shipment. The item
// count and the shipment row are written together or not at all.
func (s *Shipment) record(ctx context.Context, taskID, raw string, quantity int) (ScanResult, error) {
	if quantity <= 0 {
		return ScanResult{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("load task %q: %w", taskID, err)
	}
	switch {
	case task.Paused:
		return ScanResult{}, ErrTaskPaused
	case task.Completed():
		return ScanResult{}, ErrTaskCompleted
	}

	payload := qr.Classify(strings.TrimSpace(raw))
	idx, ok := task.FindMatch(payload)
	if !ok {
		return ScanResult{}, fmt.Errorf("%w: %q", ErrNoMatch, raw)
	}
	item := task.Items[idx]
	if left := item.Remaining(); quantity > left {
		return ScanResult{}, fmt.Errorf("%w: %d requested, %s needs %d", ErrInvalidQuantity, quantity, item.ProductID, left)
	}

	shipment := warehouse.NewShipment(item, task.ID, quantity, s.opts.Clock.Now())
	updated, err := s.store.ShipTaskItem(ctx, item.ID, shipment)
	if errors.Is(err, storage.ErrQuantityExceeded) {
		return ScanResult{}, fmt.Errorf("%w: %w", ErrInvalidQuantity, err)
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("record shipment for item %s: %w", item.ID, err)
	}
	task.Items[idx] = updated

	return ScanResult{
		Task:      task,
		Item:      updated,
		Shipment:  shipment,
		Payload:   qr.Encode(payload),
		Completed: task.Completed(),
	}, nil
}

// Pause marks taskID paused so further scans are refused.
func (s *Shipment) Pause(ctx context.Context, taskID string) error {
	return s.setPaused(ctx, taskID, true)
}

// Resume clears the paused flag on taskID.
func (s *Shipment) Resume(ctx context.Context, taskID string) error {
	return s.setPaused(ctx, taskID, false)
}

func (s *Shipment) setPaused(ctx context.Context, taskID string, paused bool) error {
	taskID = strings.TrimSpace(taskID)
	if err := s.store.SetTaskPaused(ctx, taskID, paused); err != nil {
		return fmt.Errorf("set task %q paused=%t: %w", taskID, paused, err)
	}
	s.notify(taskID)
	return nil
}

func (s *Shipment) notify(taskID string) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.MarkTaskDirty(taskID)
	}
}
