// Package warehouse defines the records handled on the warehouse floor:
// received products, picking tasks and the shipments recorded against them.
package warehouse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/warehouse-agent/qr"
)

// ProductType distinguishes single parts from assemblies.
type ProductType string

const (
	ProductPart     ProductType = "PART"
	ProductAssembly ProductType = "ASSEMBLY"
)

// ParseProductType accepts "PART" or "ASSEMBLY" in any case.
func ParseProductType(s string) (ProductType, error) {
	switch ProductType(strings.ToUpper(strings.TrimSpace(s))) {
	case ProductPart, "":
		return ProductPart, nil
	case ProductAssembly:
		return ProductAssembly, nil
	default:
		return "", fmt.Errorf("unknown product type %q", s)
	}
}

// TypeFromKind maps a QR identifier kind to a product type.
func TypeFromKind(k qr.IDKind) ProductType {
	if k == qr.KindAssembly {
		return ProductAssembly
	}
	return ProductPart
}

// Product is a received item placed into storage.
type Product struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	QRCode          string      `json:"qrCode"`
	Quantity        int         `json:"quantity"`
	StorageLocation string      `json:"storageLocation"`
	Type            ProductType `json:"type"`
	ReceivedAt      time.Time   `json:"receivedDate"`
	Synced          bool        `json:"isSynced"`
}

// Validation errors.
var (
	ErrMissingID       = errors.New("id is required")
	ErrMissingName     = errors.New("name is required")
	ErrMissingLocation = errors.New("storage location is required")
	ErrBadQuantity     = errors.New("quantity must be positive")
)

// Validate checks the product can be stored.
func (p Product) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, ErrMissingID)
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrMissingName)
	}
	if p.Quantity <= 0 {
		errs = append(errs, ErrBadQuantity)
	}
	if strings.TrimSpace(p.StorageLocation) == "" {
		errs = append(errs, ErrMissingLocation)
	}
	return errors.Join(errs...)
}

// Task is a picking order to be assembled from storage.
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdDate"`
	Paused    bool       `json:"isPaused"`
	Items     []TaskItem `json:"items"`
}

// Completed reports whether the task has items and all of them are complete.
func (t Task) Completed() bool {
	if len(t.Items) == 0 {
		return false
	}
	for _, item := range t.Items {
		if !item.Complete() {
			return false
		}
	}
	return true
}

// Progress returns the scanned and required totals over all items.
func (t Task) Progress() (scanned, required int) {
	for _, item := range t.Items {
		scanned += item.Scanned
		required += item.Required
	}
	return scanned, required
}

// FindMatch returns the index of the first incomplete item p identifies.
func (t Task) FindMatch(p qr.Payload) (int, bool) {
	for i, item := range t.Items {
		if !item.Complete() && item.Accepts(p) {
			return i, true
		}
	}
	return -1, false
}

// TaskItem is one checklist line of a task.
type TaskItem struct {
	ID              string `json:"id"`
	TaskID          string `json:"taskId,omitempty"`
	ProductID       string `json:"productId"`
	ProductName     string `json:"productName"`
	StorageLocation string `json:"storageLocation"`
	Required        int    `json:"requiredQuantity"`
	Scanned         int    `json:"scannedQuantity"`
}

// Complete reports whether the required quantity has been scanned.
func (i TaskItem) Complete() bool {
	return i.Scanned >= i.Required
}

// Remaining returns how many units are still to be scanned.
func (i TaskItem) Remaining() int {
	if i.Scanned >= i.Required {
		return 0
	}
	return i.Required - i.Scanned
}

// Accepts reports whether scanned payload p is this item's product.
func (i TaskItem) Accepts(p qr.Payload) bool {
	return qr.Matches(p, i.ProductID)
}

// Shipment records units picked for a task.
type Shipment struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"taskId"`
	ProductID       string    `json:"productId"`
	ProductName     string    `json:"productName"`
	Quantity        int       `json:"quantity"`
	StorageLocation string    `json:"storageLocation"`
	ShippedAt       time.Time `json:"shippedDate"`
	Synced          bool      `json:"isSynced"`
}

// NewShipment records quantity units of item picked at now.
func NewShipment(item TaskItem, taskID string, quantity int, now time.Time) Shipment {
	return Shipment{
		ID:              uuid.NewString(),
		TaskID:          taskID,
		ProductID:       item.ProductID,
		ProductName:     item.ProductName,
		Quantity:        quantity,
		StorageLocation: item.StorageLocation,
		ShippedAt:       now,
	}
}
