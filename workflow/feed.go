package workflow

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dotside-studios/warehouse-agent/device/scanner"
	"github.com/dotside-studios/warehouse-agent/qr"
)

// ScanEvent is a scan as published to clients. When a shipment task is
// active the scan is also applied to it and the outcome attached.
type ScanEvent struct {
	Source   string      `json:"source"`
	Raw      string      `json:"raw"`
	Payload  qr.Envelope `json:"payload"`
	At       time.Time   `json:"at"`
	TaskID   string      `json:"taskId,omitempty"`
	Shipment *ScanResult `json:"shipment,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Feed routes scans from any source to the active workflow and to a sink.
type Feed struct {
	shipment *Shipment
	sink     func(ScanEvent)
	logger   *log.Logger

	mu         sync.RWMutex
	activeTask string
}

// NewFeed creates a feed that publishes every handled scan to sink.
func NewFeed(shipment *Shipment, sink func(ScanEvent), logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}
	if sink == nil {
		sink = func(ScanEvent) {}
	}
	return &Feed{shipment: shipment, sink: sink, logger: logger}
}

// SetActiveTask routes later scans to taskID. An empty id stops routing.
func (f *Feed) SetActiveTask(taskID string) {
	f.mu.Lock()
	f.activeTask = taskID
	f.mu.Unlock()
}

// ActiveTask returns the task scans are routed to, if any.
func (f *Feed) ActiveTask() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.activeTask
}

// Handle classifies one scan, applies it to the active task and publishes it.
func (f *Feed) Handle(ctx context.Context, scan scanner.Scan) ScanEvent {
	if scan.At.IsZero() {
		scan.At = time.Now()
	}
	ev := ScanEvent{
		Source:  scan.Address,
		Raw:     scan.Data,
		Payload: qr.Encode(qr.Classify(scan.Data)),
		At:      scan.At,
	}
	if taskID := f.ActiveTask(); taskID != "" && f.shipment != nil {
		ev.TaskID = taskID
		result, err := f.shipment.Scan(ctx, taskID, scan.Data)
		if err != nil {
			ev.Error = err.Error()
		} else {
			ev.Shipment = &result
		}
	}
	f.sink(ev)
	return ev
}

// Pump handles scans until ctx is done or scans is closed.
func (f *Feed) Pump(ctx context.Context, scans <-chan scanner.Scan) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-scans:
			if !ok {
				return nil
			}
			ev := f.Handle(ctx, scan)
			if ev.Error != "" {
				f.logger.Printf("Scan %q on task %s: %s", ev.Raw, ev.TaskID, ev.Error)
			}
		}
	}
}
