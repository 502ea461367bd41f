package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotside-studios/warehouse-agent/device/printer"
	"github.com/dotside-studios/warehouse-agent/qr"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/warehouse"
)

// ErrInvalidDraft wraps validation failures from Receive.
var ErrInvalidDraft = errors.New("invalid reception")

// Draft is a reception form, usually prefilled from a scanned QR code and
// completed by the operator.
type Draft struct {
	QRCode          string                `json:"qrCode"`
	Payload         qr.Envelope           `json:"payload"`
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Quantity        int                   `json:"quantity"`
	StorageLocation string                `json:"storageLocation"`
	Type            warehouse.ProductType `json:"type"`
	OrderNumber     string                `json:"orderNumber,omitempty"`
	RouteCard       string                `json:"routeCard,omitempty"`
}

// Receipt reports what Receive did.
type Receipt struct {
	Product    warehouse.Product `json:"product"`
	Printed    bool              `json:"printed"`
	PrintError string            `json:"printError,omitempty"`
}

// Reception receives products into storage.
type Reception struct {
	store storage.ProductStore
	opts  Options
}

// NewReception creates the reception workflow.
func NewReception(store storage.ProductStore, opts Options) *Reception {
	return &Reception{store: store, opts: opts.withDefaults("reception")}
}

// Prefill builds a draft from a scanned code. Fields the code does not carry
// are left for the operator.
func (r *Reception) Prefill(raw string) Draft {
	raw = strings.TrimSpace(raw)
	p := qr.Classify(raw)
	d := Draft{
		QRCode:   raw,
		Payload:  qr.Encode(p),
		Quantity: 1,
		Type:     warehouse.ProductPart,
	}
	switch v := p.(type) {
	case qr.StructuredRecord:
		d.ID = v.PartNumber
		d.Name = v.PartName
		d.OrderNumber = v.OrderNumber
		d.RouteCard = v.RouteCard
	case qr.SimpleID:
		d.ID = v.ID
		d.Type = warehouse.TypeFromKind(v.IDKind)
	}
	return d
}

// Receive validates and stores the product described by d, then prints its
// label and confirms on the scanner when those devices are connected. A
// failed print is reported in the receipt; the product stays stored.
func (r *Reception) Receive(ctx context.Context, d Draft) (Receipt, error) {
	productType := d.Type
	if productType == "" {
		productType = warehouse.ProductPart
	}
	product := warehouse.Product{
		ID:              strings.TrimSpace(d.ID),
		Name:            strings.TrimSpace(d.Name),
		QRCode:          d.QRCode,
		Quantity:        d.Quantity,
		StorageLocation: strings.TrimSpace(d.StorageLocation),
		Type:            productType,
		ReceivedAt:      r.opts.Clock.Now(),
	}
	if err := product.Validate(); err != nil {
		beep(ctx, r.opts, false)
		return Receipt{}, fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}
	if err := r.store.PutProduct(ctx, product); err != nil {
		beep(ctx, r.opts, false)
		return Receipt{}, fmt.Errorf("store product %s: %w", product.ID, err)
	}
	r.opts.Logger.Printf("Received %d x %s into %s", product.Quantity, product.ID, product.StorageLocation)

	receipt := Receipt{Product: product}
	if connected(r.opts.Printer) {
		label := printer.Label{
			Kind:        printer.KindReception,
			PartNumber:  product.ID,
			PartName:    product.Name,
			Location:    product.StorageLocation,
			OrderNumber: d.OrderNumber,
			RouteCard:   d.RouteCard,
			Quantity:    product.Quantity,
			Date:        product.ReceivedAt,
			QRData:      product.QRCode,
		}
		if err := r.opts.Printer.PrintLabel(ctx, label); err != nil {
			r.opts.Logger.Printf("Label for %s not printed: %v", product.ID, err)
			receipt.PrintError = err.Error()
		} else {
			receipt.Printed = true
		}
	}
	beep(ctx, r.opts, true)
	return receipt, nil
}
