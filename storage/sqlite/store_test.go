package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/storage/sqlitemigrate"
	"github.com/dotside-studios/warehouse-agent/warehouse"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testTask() warehouse.Task {
	return warehouse.Task{
		ID:        "task-1",
		Name:      "Order 42",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Items: []warehouse.TaskItem{
			{ID: "item-1", ProductID: "P-100", ProductName: "Bracket", StorageLocation: "A-01", Required: 3},
			{ID: "item-2", ProductID: "P-200", ProductName: "Hinge", StorageLocation: "B-07", Required: 1},
		},
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := openTempStore(t)

	names, err := sqlitemigrate.Applied(context.Background(), store.sqlDB)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	want := []string{"001_init.sql", "002_settings.sql", "003_task_dirty.sql"}
	if !slices.Equal(names, want) {
		t.Fatalf("applied migrations = %v", names)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := store.PutProduct(ctx, warehouse.Product{ID: "P-1", Name: "Bolt", Quantity: 5, StorageLocation: "A"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := store.GetProduct(ctx, "P-1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Name != "Bolt" {
		t.Fatalf("name = %q, want Bolt", got.Name)
	}
}

func TestProducts(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"P-1", "P-2", "P-3"} {
		p := warehouse.Product{
			ID:              id,
			Name:            "Part " + id,
			QRCode:          "RC=ORD=" + id + "=Part",
			Quantity:        i + 1,
			StorageLocation: "A-0" + id[2:],
			Type:            warehouse.ProductPart,
			ReceivedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.PutProduct(ctx, p); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	t.Run("get", func(t *testing.T) {
		got, err := store.GetProduct(ctx, " P-2 ")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Quantity != 2 || got.StorageLocation != "A-02" || got.Type != warehouse.ProductPart {
			t.Fatalf("unexpected product %+v", got)
		}
		if !got.ReceivedAt.Equal(base.Add(time.Minute)) {
			t.Fatalf("received at = %v", got.ReceivedAt)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.GetProduct(ctx, "nope")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		got, err := store.ListProducts(ctx, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 || got[0].ID != "P-3" || got[1].ID != "P-2" {
			t.Fatalf("list = %+v", got)
		}
		all, err := store.ListProducts(ctx, 0)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("list all len = %d", len(all))
		}
	})

	t.Run("sync flags", func(t *testing.T) {
		if err := store.MarkProductsSynced(ctx, []string{"P-1", " ", "P-3"}); err != nil {
			t.Fatalf("mark: %v", err)
		}
		unsynced, err := store.ListUnsyncedProducts(ctx)
		if err != nil {
			t.Fatalf("unsynced: %v", err)
		}
		if len(unsynced) != 1 || unsynced[0].ID != "P-2" {
			t.Fatalf("unsynced = %+v", unsynced)
		}
		if err := store.MarkProductsSynced(ctx, nil); err != nil {
			t.Fatalf("mark empty: %v", err)
		}
	})

	t.Run("upsert replaces", func(t *testing.T) {
		p, _ := store.GetProduct(ctx, "P-1")
		p.Quantity = 99
		p.Synced = false
		if err := store.PutProduct(ctx, p); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, _ := store.GetProduct(ctx, "P-1")
		if got.Quantity != 99 || got.Synced {
			t.Fatalf("after upsert = %+v", got)
		}
	})
}

func TestPutProductDefaults(t *testing.T) {
	store := openTempStore(t)
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	if err := store.PutProduct(ctx, warehouse.Product{ID: "X", Name: "x", Quantity: 1, StorageLocation: "L"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetProduct(ctx, "X")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != warehouse.ProductPart {
		t.Fatalf("type = %q, want PART", got.Type)
	}
	if !got.ReceivedAt.Equal(fixed) {
		t.Fatalf("received at = %v, want %v", got.ReceivedAt, fixed)
	}
	if err := store.PutProduct(ctx, warehouse.Product{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestTasks(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if err := store.PutTask(ctx, testTask()); err != nil {
		t.Fatalf("put task: %v", err)
	}

	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Name != "Order 42" || len(got.Items) != 2 {
		t.Fatalf("task = %+v", got)
	}
	if got.Items[0].ID != "item-1" || got.Items[1].ID != "item-2" {
		t.Fatalf("item order = %s, %s", got.Items[0].ID, got.Items[1].ID)
	}
	if got.Items[0].TaskID != "task-1" {
		t.Fatalf("item task id = %q", got.Items[0].TaskID)
	}

	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing task err = %v", err)
	}

	t.Run("pause", func(t *testing.T) {
		if err := store.SetTaskPaused(ctx, "task-1", true); err != nil {
			t.Fatalf("pause: %v", err)
		}
		got, _ := store.GetTask(ctx, "task-1")
		if !got.Paused {
			t.Fatal("expected paused task")
		}
		if err := store.SetTaskPaused(ctx, "missing", true); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("pause missing err = %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		other := warehouse.Task{
			ID:        "task-2",
			Name:      "Order 43",
			CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		}
		if err := store.PutTask(ctx, other); err != nil {
			t.Fatalf("put other: %v", err)
		}
		tasks, err := store.ListTasks(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tasks) != 2 || tasks[0].ID != "task-2" || tasks[1].ID != "task-1" {
			t.Fatalf("tasks order = %+v", tasks)
		}
		if len(tasks[0].Items) != 0 || len(tasks[1].Items) != 2 {
			t.Fatalf("items per task = %d, %d", len(tasks[0].Items), len(tasks[1].Items))
		}
	})
}

func testShipment(id string, quantity int) warehouse.Shipment {
	return warehouse.Shipment{
		ID:        id,
		TaskID:    "task-1",
		ProductID: "P-100",
		Quantity:  quantity,
		ShippedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestShipTaskItem(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	if err := store.PutTask(ctx, testTask()); err != nil {
		t.Fatalf("put task: %v", err)
	}

	tests := []struct {
		name     string
		itemID   string
		ship     warehouse.Shipment
		wantErr  error
		scanned  int
		recorded int
	}{
		{name: "one unit", itemID: "item-1", ship: testShipment("s-1", 1), scanned: 1, recorded: 1},
		{name: "two units", itemID: "item-1", ship: testShipment("s-2", 2), scanned: 3, recorded: 2},
		{name: "past required", itemID: "item-1", ship: testShipment("s-3", 1), wantErr: storage.ErrQuantityExceeded, scanned: 3, recorded: 2},
		{name: "missing item", itemID: "nope", ship: testShipment("s-4", 1), wantErr: storage.ErrNotFound, scanned: 3, recorded: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := store.ShipTaskItem(ctx, tt.itemID, tt.ship)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && item.Scanned != tt.scanned {
				t.Fatalf("returned scanned = %d, want %d", item.Scanned, tt.scanned)
			}
			task, _ := store.GetTask(ctx, "task-1")
			if task.Items[0].Scanned != tt.scanned {
				t.Fatalf("stored scanned = %d, want %d", task.Items[0].Scanned, tt.scanned)
			}
			shipments, _ := store.ListShipments(ctx, "task-1")
			if len(shipments) != tt.recorded {
				t.Fatalf("shipments = %d, want %d", len(shipments), tt.recorded)
			}
		})
	}

	if _, err := store.ShipTaskItem(ctx, "item-2", testShipment("s-5", 0)); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestShipTaskItemRollsBackOnShipmentFailure(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	if err := store.PutTask(ctx, testTask()); err != nil {
		t.Fatalf("put task: %v", err)
	}

	// A shipment without an id cannot be stored, so the count must not move.
	if _, err := store.ShipTaskItem(ctx, "item-1", testShipment("", 1)); err == nil {
		t.Fatal("expected error for shipment without id")
	}
	task, _ := store.GetTask(ctx, "task-1")
	if task.Items[0].Scanned != 0 {
		t.Fatalf("scanned = %d after failed shipment, want 0", task.Items[0].Scanned)
	}
	dirty, _ := store.ListDirtyTasks(ctx)
	if len(dirty) != 0 {
		t.Fatalf("dirty = %+v after failed shipment", dirty)
	}
}

func TestShipTaskItemConcurrentLastUnit(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	if err := store.PutTask(ctx, testTask()); err != nil {
		t.Fatalf("put task: %v", err)
	}

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.ShipTaskItem(ctx, "item-2", testShipment(fmt.Sprintf("c-%d", i), 1))
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, storage.ErrQuantityExceeded):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d shipments accepted for an item requiring 1", ok)
	}
	shipments, _ := store.ListShipments(ctx, "task-1")
	if len(shipments) != 1 {
		t.Fatalf("shipments = %d, want 1", len(shipments))
	}
}

func TestTaskDirtyTracking(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	task := testTask()
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("put task: %v", err)
	}
	if dirty, _ := store.ListDirtyTasks(ctx); len(dirty) != 0 {
		t.Fatalf("pulled task is dirty: %+v", dirty)
	}

	if err := store.SetTaskPaused(ctx, task.ID, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	dirty, err := store.ListDirtyTasks(ctx)
	if err != nil || len(dirty) != 1 || dirty[0].ID != task.ID {
		t.Fatalf("dirty = %+v, %v", dirty, err)
	}
	rev := dirty[0].Revision

	// The backend still has the task running; a pull must not undo the pause.
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("re-put task: %v", err)
	}
	got, _ := store.GetTask(ctx, task.ID)
	if !got.Paused {
		t.Fatal("pull reverted local pause of a dirty task")
	}

	// A change after the push started keeps the task dirty.
	if err := store.MarkTaskDirty(ctx, task.ID); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := store.ClearTaskDirty(ctx, task.ID, rev); err != nil {
		t.Fatalf("clear stale: %v", err)
	}
	dirty, _ = store.ListDirtyTasks(ctx)
	if len(dirty) != 1 || dirty[0].Revision <= rev {
		t.Fatalf("stale clear dropped a newer change: %+v", dirty)
	}
	if err := store.ClearTaskDirty(ctx, task.ID, dirty[0].Revision); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if dirty, _ = store.ListDirtyTasks(ctx); len(dirty) != 0 {
		t.Fatalf("dirty after clear = %+v", dirty)
	}

	// Once pushed, the backend copy wins again.
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("put clean task: %v", err)
	}
	if got, _ = store.GetTask(ctx, task.ID); got.Paused {
		t.Fatal("clean task kept local pause over backend copy")
	}
	if err := store.MarkTaskDirty(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("mark missing err = %v", err)
	}
}

func TestPutTaskKeepsProgressAndPrunesItems(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	task := testTask()
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("put task: %v", err)
	}
	if _, err := store.ShipTaskItem(ctx, "item-1", testShipment("s-1", 2)); err != nil {
		t.Fatalf("ship: %v", err)
	}

	// Backend copy has no local progress and drops item-2.
	task.Items = task.Items[:1]
	task.Items[0].Scanned = 0
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("re-put task: %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 1 {
		t.Fatalf("items = %+v, want only item-1", got.Items)
	}
	if got.Items[0].Scanned != 2 {
		t.Fatalf("scanned = %d, want 2", got.Items[0].Scanned)
	}

	task.Items = nil
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("put empty task: %v", err)
	}
	got, _ = store.GetTask(ctx, task.ID)
	if len(got.Items) != 0 {
		t.Fatalf("items = %+v, want none", got.Items)
	}
}

func TestShipments(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	shipments := []warehouse.Shipment{
		{ID: "s-1", TaskID: "task-1", ProductID: "P-100", Quantity: 1, StorageLocation: "A-01", ShippedAt: base},
		{ID: "s-2", TaskID: "task-1", ProductID: "P-200", Quantity: 1, StorageLocation: "B-07", ShippedAt: base.Add(time.Second)},
		{ID: "s-3", TaskID: "task-2", ProductID: "P-300", Quantity: 2, StorageLocation: "C-02", ShippedAt: base.Add(2 * time.Second)},
	}
	for _, sh := range shipments {
		if err := store.PutShipment(ctx, sh); err != nil {
			t.Fatalf("put %s: %v", sh.ID, err)
		}
	}

	byTask, err := store.ListShipments(ctx, "task-1")
	if err != nil {
		t.Fatalf("list by task: %v", err)
	}
	if len(byTask) != 2 || byTask[0].ID != "s-1" || byTask[1].ID != "s-2" {
		t.Fatalf("by task = %+v", byTask)
	}
	all, err := store.ListShipments(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all len = %d", len(all))
	}

	if err := store.MarkShipmentsSynced(ctx, []string{"s-1", "s-3"}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	unsynced, err := store.ListUnsyncedShipments(ctx)
	if err != nil {
		t.Fatalf("unsynced: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].ID != "s-2" {
		t.Fatalf("unsynced = %+v", unsynced)
	}

	if err := store.PutShipment(ctx, warehouse.Shipment{ID: "s-4"}); err == nil {
		t.Fatal("expected error for shipment without task id")
	}
}

func TestSettings(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.GetSetting(ctx, "printer"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unset err = %v", err)
	}
	if err := store.PutSetting(ctx, "printer", "one"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutSetting(ctx, "printer", "two"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.GetSetting(ctx, "printer")
	if err != nil || got != "two" {
		t.Fatalf("get = %q, %v", got, err)
	}

	type prefs struct {
		Address string `json:"address"`
		Density int    `json:"density"`
	}
	if err := SaveJSON(ctx, store, "prefs", prefs{Address: "AA:BB", Density: 9}); err != nil {
		t.Fatalf("save json: %v", err)
	}
	var loaded prefs
	if err := LoadJSON(ctx, store, "prefs", &loaded); err != nil {
		t.Fatalf("load json: %v", err)
	}
	if loaded.Address != "AA:BB" || loaded.Density != 9 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if err := LoadJSON(ctx, store, "missing", &loaded); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("load missing err = %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.ListProducts(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
