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

const itemColumns = `id, task_id, product_id, product_name, storage_location, required_quantity, scanned_quantity`

// PutTask upserts a task and its items. Items missing from t are removed.
// Scanned counts never go backwards, and a dirty task keeps its local paused
// flag, so re-importing a task from the backend keeps changes made on this
// device that have not been pushed yet.
func (s *Store) PutTask(ctx context.Context, t warehouse.Task) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO tasks (id, name, created_at, paused)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   created_at = excluded.created_at,
		   paused = CASE WHEN tasks.dirty > 0 THEN tasks.paused ELSE excluded.paused END`,
		t.ID, t.Name, toMillis(t.CreatedAt), boolToInt(t.Paused),
	); err != nil {
		return fmt.Errorf("put task: %w", err)
	}

	keep := make([]any, 0, len(t.Items)+1)
	keep = append(keep, t.ID)
	for pos, item := range t.Items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			return fmt.Errorf("task %s item %d: id is required", t.ID, pos)
		}
		scanned := item.Scanned
		if scanned < 0 {
			scanned = 0
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO task_items (id, task_id, position, product_id, product_name, storage_location, required_quantity, scanned_quantity)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   task_id = excluded.task_id,
			   position = excluded.position,
			   product_id = excluded.product_id,
			   product_name = excluded.product_name,
			   storage_location = excluded.storage_location,
			   required_quantity = excluded.required_quantity,
			   scanned_quantity = MAX(task_items.scanned_quantity, excluded.scanned_quantity)`,
			item.ID, t.ID, pos, item.ProductID, item.ProductName, item.StorageLocation, item.Required, scanned,
		); err != nil {
			return fmt.Errorf("put task item %s: %w", item.ID, err)
		}
		keep = append(keep, item.ID)
	}

	query := `DELETE FROM task_items WHERE task_id = ?`
	if len(keep) > 1 {
		query += ` AND id NOT IN (` + placeholders(len(keep)-1) + `)`
	}
	if _, err := tx.ExecContext(ctx, query, keep...); err != nil {
		return fmt.Errorf("prune task items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put task: %w", err)
	}
	return nil
}

// GetTask returns one task with its items in checklist order.
func (s *Store) GetTask(ctx context.Context, id string) (warehouse.Task, error) {
	if err := s.ready(ctx); err != nil {
		return warehouse.Task{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return warehouse.Task{}, fmt.Errorf("task id is required")
	}

	var t warehouse.Task
	var createdAt int64
	var paused int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, created_at, paused FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &createdAt, &paused)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return warehouse.Task{}, storage.ErrNotFound
		}
		return warehouse.Task{}, fmt.Errorf("get task: %w", err)
	}
	t.CreatedAt = fromMillis(createdAt)
	t.Paused = paused != 0

	items, err := s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM task_items WHERE task_id = ? ORDER BY position, id`, id)
	if err != nil {
		return warehouse.Task{}, err
	}
	t.Items = items
	return t, nil
}

// ListTasks returns every task, newest first, with items.
func (s *Store) ListTasks(ctx context.Context) ([]warehouse.Task, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, created_at, paused FROM tasks ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]warehouse.Task, 0)
	index := make(map[string]int)
	for rows.Next() {
		var t warehouse.Task
		var createdAt int64
		var paused int
		if err := rows.Scan(&t.ID, &t.Name, &createdAt, &paused); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt = fromMillis(createdAt)
		t.Paused = paused != 0
		t.Items = make([]warehouse.TaskItem, 0)
		index[t.ID] = len(tasks)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	rows.Close()

	items, err := s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM task_items ORDER BY task_id, position, id`)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if i, ok := index[item.TaskID]; ok {
			tasks[i].Items = append(tasks[i].Items, item)
		}
	}
	return tasks, nil
}

// SetTaskPaused pauses or resumes a task and marks it dirty.
func (s *Store) SetTaskPaused(ctx context.Context, id string, paused bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE tasks SET paused = ?, dirty = dirty + 1 WHERE id = ?`, boolToInt(paused), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("set task paused: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ShipTaskItem adds sh.Quantity to itemID's scanned count and records sh,
// both or neither. The count only moves while the item still needs that many
// units, so concurrent scans of the last unit cannot both succeed.
func (s *Store) ShipTaskItem(ctx context.Context, itemID string, sh warehouse.Shipment) (warehouse.TaskItem, error) {
	if err := s.ready(ctx); err != nil {
		return warehouse.TaskItem{}, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return warehouse.TaskItem{}, fmt.Errorf("task item id is required")
	}
	if sh.Quantity <= 0 {
		return warehouse.TaskItem{}, fmt.Errorf("quantity must be positive, got %d", sh.Quantity)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return warehouse.TaskItem{}, fmt.Errorf("begin ship item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE task_items
		 SET scanned_quantity = scanned_quantity + ?
		 WHERE id = ? AND task_id = ? AND scanned_quantity + ? <= required_quantity`,
		sh.Quantity, itemID, sh.TaskID, sh.Quantity)
	if err != nil {
		return warehouse.TaskItem{}, fmt.Errorf("increment scanned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return warehouse.TaskItem{}, fmt.Errorf("increment scanned: %w", err)
	}
	if n == 0 {
		var found int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM task_items WHERE id = ? AND task_id = ?`, itemID, sh.TaskID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return warehouse.TaskItem{}, storage.ErrNotFound
		}
		if err != nil {
			return warehouse.TaskItem{}, fmt.Errorf("read task item: %w", err)
		}
		return warehouse.TaskItem{}, storage.ErrQuantityExceeded
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET dirty = dirty + 1 WHERE id = ?`, sh.TaskID); err != nil {
		return warehouse.TaskItem{}, fmt.Errorf("mark task dirty: %w", err)
	}
	if err := s.writeShipment(ctx, tx, sh); err != nil {
		return warehouse.TaskItem{}, err
	}

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM task_items WHERE id = ?`, itemID))
	if err != nil {
		return warehouse.TaskItem{}, fmt.Errorf("read task item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return warehouse.TaskItem{}, fmt.Errorf("commit ship item: %w", err)
	}
	return item, nil
}

// MarkTaskDirty queues a task for the next push.
func (s *Store) MarkTaskDirty(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE tasks SET dirty = dirty + 1 WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("mark task dirty: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListDirtyTasks returns the tasks waiting to be pushed, by id.
func (s *Store) ListDirtyTasks(ctx context.Context) ([]storage.DirtyTask, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, dirty FROM tasks WHERE dirty > 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dirty tasks: %w", err)
	}
	defer rows.Close()

	dirty := make([]storage.DirtyTask, 0)
	for rows.Next() {
		var d storage.DirtyTask
		if err := rows.Scan(&d.ID, &d.Revision); err != nil {
			return nil, fmt.Errorf("scan dirty task: %w", err)
		}
		dirty = append(dirty, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dirty tasks: %w", err)
	}
	return dirty, nil
}

// ClearTaskDirty clears the dirty flag if the task is still at revision.
func (s *Store) ClearTaskDirty(ctx context.Context, id string, revision int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE tasks SET dirty = 0 WHERE id = ? AND dirty = ?`, strings.TrimSpace(id), revision)
	if err != nil {
		return fmt.Errorf("clear task dirty: %w", err)
	}
	return nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]warehouse.TaskItem, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task items: %w", err)
	}
	defer rows.Close()

	items := make([]warehouse.TaskItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task items: %w", err)
	}
	return items, nil
}

func scanItem(row rowScanner) (warehouse.TaskItem, error) {
	var item warehouse.TaskItem
	err := row.Scan(
		&item.ID,
		&item.TaskID,
		&item.ProductID,
		&item.ProductName,
		&item.StorageLocation,
		&item.Required,
		&item.Scanned,
	)
	return item, err
}
