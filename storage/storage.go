// Package storage defines persistence contracts for the agent's local records.
package storage

import (
	"context"
	"errors"

	"github.com/dotside-studios/warehouse-agent/warehouse"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrQuantityExceeded is returned when a shipment would take an item past its
// required quantity.
var ErrQuantityExceeded = errors.New("quantity exceeds what the item still needs")

// DirtyTask is a task with local changes the backend has not seen. Revision
// grows with every change, so a push only clears the revision it sent.
type DirtyTask struct {
	ID       string
	Revision int64
}

// ProductStore persists received products.
type ProductStore interface {
	PutProduct(ctx context.Context, p warehouse.Product) error
	GetProduct(ctx context.Context, id string) (warehouse.Product, error)
	ListProducts(ctx context.Context, limit int) ([]warehouse.Product, error)
	ListUnsyncedProducts(ctx context.Context) ([]warehouse.Product, error)
	MarkProductsSynced(ctx context.Context, ids []string) error
}

// TaskStore persists picking tasks and their checklist progress.
type TaskStore interface {
	PutTask(ctx context.Context, t warehouse.Task) error
	GetTask(ctx context.Context, id string) (warehouse.Task, error)
	ListTasks(ctx context.Context) ([]warehouse.Task, error)
	// SetTaskPaused pauses or resumes a task and marks it dirty. A pulled
	// copy does not override the paused flag of a dirty task.
	SetTaskPaused(ctx context.Context, id string, paused bool) error
	// ShipTaskItem adds sh.Quantity to the item's scanned count and records
	// sh in one transaction. It fails with ErrQuantityExceeded, writing
	// nothing, when the item has fewer units left.
	ShipTaskItem(ctx context.Context, itemID string, sh warehouse.Shipment) (warehouse.TaskItem, error)
	MarkTaskDirty(ctx context.Context, id string) error
	ListDirtyTasks(ctx context.Context) ([]DirtyTask, error)
	// ClearTaskDirty clears the flag unless the task changed after revision.
	ClearTaskDirty(ctx context.Context, id string, revision int64) error
}

// ShipmentStore persists shipment records.
type ShipmentStore interface {
	PutShipment(ctx context.Context, s warehouse.Shipment) error
	ListShipments(ctx context.Context, taskID string) ([]warehouse.Shipment, error)
	ListUnsyncedShipments(ctx context.Context) ([]warehouse.Shipment, error)
	MarkShipmentsSynced(ctx context.Context, ids []string) error
}

// SettingsStore persists small keyed settings documents.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Store is the full local persistence surface.
type Store interface {
	ProductStore
	TaskStore
	ShipmentStore
	SettingsStore
	Close() error
}
