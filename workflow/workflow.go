// Package workflow implements the floor operations built on the devices and
// the local store: receiving products into storage and picking them for
// shipment.
package workflow

import (
	"context"
	"log"
	"os"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/device/printer"
)

// Printer is the label printer as used by workflows. *printer.Manager
// satisfies it.
type Printer interface {
	State() device.ConnectionState
	PrintLabel(ctx context.Context, label printer.Label) error
}

// Feedback is the scanner's beeper as used by workflows. *scanner.Manager
// satisfies it.
type Feedback interface {
	State() device.ConnectionState
	BeepOK(ctx context.Context) error
	BeepError(ctx context.Context) error
}

// TaskNotifier is told when a task changed in a way the backend should see.
type TaskNotifier interface {
	MarkTaskDirty(taskID string)
}

// Options are shared by the workflows. Nil devices are treated as
// disconnected.
type Options struct {
	Printer  Printer
	Feedback Feedback
	Notifier TaskNotifier
	Clock    device.Clock
	Logger   *log.Logger
}

func (o Options) withDefaults(prefix string) Options {
	if o.Clock == nil {
		o.Clock = device.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags)
	}
	return o
}

func connected(d interface{ State() device.ConnectionState }) bool {
	return d != nil && d.State() == device.StateConnected
}

// beep plays the success or error tone if a scanner is connected. Failures
// are logged, never returned.
func beep(ctx context.Context, o Options, ok bool) {
	if !connected(o.Feedback) {
		return
	}
	var err error
	if ok {
		err = o.Feedback.BeepOK(ctx)
	} else {
		err = o.Feedback.BeepError(ctx)
	}
	if err != nil {
		o.Logger.Printf("Scanner feedback failed: %v", err)
	}
}
