package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/warehouse"
)

const productColumns = `id, name, qr_code, quantity, storage_location, type, received_at, synced`

// PutProduct upserts a product. Re-receiving an id replaces the record and
// marks it unsynced unless the product says otherwise.
func (s *Store) PutProduct(ctx context.Context, p warehouse.Product) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("product id is required")
	}
	if p.Type == "" {
		p.Type = warehouse.ProductPart
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = s.now()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   qr_code = excluded.qr_code,
		   quantity = excluded.quantity,
		   storage_location = excluded.storage_location,
		   type = excluded.type,
		   received_at = excluded.received_at,
		   synced = excluded.synced`,
		p.ID,
		p.Name,
		p.QRCode,
		p.Quantity,
		p.StorageLocation,
		string(p.Type),
		toMillis(p.ReceivedAt),
		boolToInt(p.Synced),
	)
	if err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// GetProduct returns one product by id.
func (s *Store) GetProduct(ctx context.Context, id string) (warehouse.Product, error) {
	if err := s.ready(ctx); err != nil {
		return warehouse.Product{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return warehouse.Product{}, fmt.Errorf("product id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return warehouse.Product{}, storage.ErrNotFound
		}
		return warehouse.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts returns the most recently received products first. A
// non-positive limit returns all of them.
func (s *Store) ListProducts(ctx context.Context, limit int) ([]warehouse.Product, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	return s.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY received_at DESC, id LIMIT ?`, limit)
}

// ListUnsyncedProducts returns products not yet pushed to the backend, oldest first.
func (s *Store) ListUnsyncedProducts(ctx context.Context) ([]warehouse.Product, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE synced = 0 ORDER BY received_at, id`)
}

// MarkProductsSynced flags the given products as pushed.
func (s *Store) MarkProductsSynced(ctx context.Context, ids []string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	args := cleanIDs(ids)
	if len(args) == 0 {
		return nil
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE products SET synced = 1 WHERE id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark products synced: %w", err)
	}
	return nil
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]warehouse.Product, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]warehouse.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (warehouse.Product, error) {
	var p warehouse.Product
	var productType string
	var receivedAt int64
	var synced int
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.QRCode,
		&p.Quantity,
		&p.StorageLocation,
		&productType,
		&receivedAt,
		&synced,
	); err != nil {
		return warehouse.Product{}, err
	}
	p.Type = warehouse.ProductType(productType)
	p.ReceivedAt = fromMillis(receivedAt)
	p.Synced = synced != 0
	return p, nil
}
