package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dotside-studios/warehouse-agent/warehouse"
)

const shipmentColumns = `id, task_id, product_id, product_name, quantity, storage_location, shipped_at, synced`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutShipment inserts or replaces a shipment record.
func (s *Store) PutShipment(ctx context.Context, sh warehouse.Shipment) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.writeShipment(ctx, s.sqlDB, sh)
}

func (s *Store) writeShipment(ctx context.Context, db execer, sh warehouse.Shipment) error {
	sh.ID = strings.TrimSpace(sh.ID)
	if sh.ID == "" {
		return fmt.Errorf("shipment id is required")
	}
	if strings.TrimSpace(sh.TaskID) == "" {
		return fmt.Errorf("shipment task id is required")
	}
	if sh.ShippedAt.IsZero() {
		sh.ShippedAt = s.now()
	}

	_, err := db.ExecContext(
		ctx,
		`INSERT INTO shipments (`+shipmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   task_id = excluded.task_id,
		   product_id = excluded.product_id,
		   product_name = excluded.product_name,
		   quantity = excluded.quantity,
		   storage_location = excluded.storage_location,
		   shipped_at = excluded.shipped_at,
		   synced = excluded.synced`,
		sh.ID,
		sh.TaskID,
		sh.ProductID,
		sh.ProductName,
		sh.Quantity,
		sh.StorageLocation,
		toMillis(sh.ShippedAt),
		boolToInt(sh.Synced),
	)
	if err != nil {
		return fmt.Errorf("put shipment: %w", err)
	}
	return nil
}

// ListShipments returns shipments for taskID, or all shipments when taskID
// is empty, oldest first.
func (s *Store) ListShipments(ctx context.Context, taskID string) ([]warehouse.Shipment, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return s.queryShipments(ctx, `SELECT `+shipmentColumns+` FROM shipments ORDER BY shipped_at, id`)
	}
	return s.queryShipments(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE task_id = ? ORDER BY shipped_at, id`, taskID)
}

// ListUnsyncedShipments returns shipments not yet pushed, oldest first.
func (s *Store) ListUnsyncedShipments(ctx context.Context) ([]warehouse.Shipment, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryShipments(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE synced = 0 ORDER BY shipped_at, id`)
}

// MarkShipmentsSynced flags the given shipments as pushed.
func (s *Store) MarkShipmentsSynced(ctx context.Context, ids []string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	args := cleanIDs(ids)
	if len(args) == 0 {
		return nil
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE shipments SET synced = 1 WHERE id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark shipments synced: %w", err)
	}
	return nil
}

func (s *Store) queryShipments(ctx context.Context, query string, args ...any) ([]warehouse.Shipment, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()

	shipments := make([]warehouse.Shipment, 0)
	for rows.Next() {
		var sh warehouse.Shipment
		var shippedAt int64
		var synced int
		if err := rows.Scan(
			&sh.ID,
			&sh.TaskID,
			&sh.ProductID,
			&sh.ProductName,
			&sh.Quantity,
			&sh.StorageLocation,
			&shippedAt,
			&synced,
		); err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		sh.ShippedAt = fromMillis(shippedAt)
		sh.Synced = synced != 0
		shipments = append(shipments, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipments: %w", err)
	}
	return shipments, nil
}
