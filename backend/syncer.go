package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dotside-studios/warehouse-agent/device"
	"github.com/dotside-studios/warehouse-agent/storage"
	"github.com/dotside-studios/warehouse-agent/warehouse"
)

// Defaults for the sync loop.
const (
	DefaultInterval     = 5 * time.Minute
	DefaultRetryInitial = 500 * time.Millisecond
	DefaultRetryTries   = 4
)

// ErrSyncInProgress is returned by SyncNow while another pass is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// State is the phase of the sync loop.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is the observable sync state.
type Status struct {
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Report counts what one pass moved.
type Report struct {
	ProductsPushed  int `json:"productsPushed"`
	ShipmentsPushed int `json:"shipmentsPushed"`
	TasksPushed     int `json:"tasksPushed"`
	TasksPulled     int `json:"tasksPulled"`
}

func (r Report) String() string {
	return fmt.Sprintf("synced %d products, %d shipments, %d task updates; pulled %d tasks",
		r.ProductsPushed, r.ShipmentsPushed, r.TasksPushed, r.TasksPulled)
}

// API is the part of the backend the syncer needs.
type API interface {
	FetchTasks(ctx context.Context) ([]warehouse.Task, error)
	UpdateTask(ctx context.Context, t warehouse.Task) error
	SyncProducts(ctx context.Context, products []warehouse.Product) (SyncResult, error)
	SyncShipments(ctx context.Context, shipments []warehouse.Shipment) (SyncResult, error)
}

// Store is the local state the syncer reconciles.
type Store interface {
	storage.ProductStore
	storage.ShipmentStore
	storage.TaskStore
}

// Options configures a Syncer.
type Options struct {
	Interval     time.Duration
	RetryInitial time.Duration
	RetryTries   uint
	Clock        device.Clock
	Logger       *log.Logger
}

// Syncer pushes unsynced records and pulls tasks, periodically and on demand.
type Syncer struct {
	api     API
	store   Store
	opts    Options
	clock   device.Clock
	logger  *log.Logger
	status  *device.Watch[Status]
	trigger chan struct{}
	running sync.Mutex
}

// NewSyncer creates a syncer. Call Run to start the periodic loop.
func NewSyncer(api API, store Store, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultRetryInitial
	}
	if opts.RetryTries == 0 {
		opts.RetryTries = DefaultRetryTries
	}
	if opts.Clock == nil {
		opts.Clock = device.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		api:     api,
		store:   store,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		status:  device.NewWatch(Status{State: StateIdle, At: opts.Clock.Now()}),
		trigger: make(chan struct{}, 1),
	}
}

// Status returns the current sync state.
func (s *Syncer) Status() Status {
	return s.status.Get()
}

// Subscribe streams sync state changes, starting with the current one.
func (s *Syncer) Subscribe(ctx context.Context) <-chan Status {
	return s.status.Subscribe(ctx)
}

// MarkTaskDirty queues a task's progress for the next push. The flag is kept
// in the store, so it survives failed pushes and restarts.
func (s *Syncer) MarkTaskDirty(taskID string) {
	if taskID == "" {
		return
	}
	if err := s.store.MarkTaskDirty(context.Background(), taskID); err != nil {
		s.logger.Printf("Task %s not queued for push: %v", taskID, err)
	}
}

// Trigger asks the Run loop for an immediate pass. It never blocks.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run syncs once immediately, then every interval or on Trigger, until ctx
// is done.
func (s *Syncer) Run(ctx context.Context) error {
	timer := s.clock.NewTimer(s.opts.Interval)
	defer timer.Stop()

	for {
		if _, err := s.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("sync failed: %v", err)
		}
		timer.Reset(s.opts.Interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
		case <-s.trigger:
			timer.Stop()
		}
	}
}

// Close ends status subscriptions.
func (s *Syncer) Close() {
	s.status.Close()
}

// SyncNow runs one pass: push products, push shipments, push dirty tasks,
// then pull tasks. Each call is retried on transient failures.
func (s *Syncer) SyncNow(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer s.running.Unlock()

	s.setStatus(StateSyncing, "")
	report, err := s.sync(ctx)
	if err != nil {
		s.setStatus(StateError, err.Error())
		return report, err
	}
	s.setStatus(StateSuccess, report.String())
	s.logger.Println(report.String())
	return report, nil
}

func (s *Syncer) sync(ctx context.Context) (Report, error) {
	var report Report

	products, err := s.store.ListUnsyncedProducts(ctx)
	if err != nil {
		return report, fmt.Errorf("load unsynced products: %w", err)
	}
	if len(products) > 0 {
		result, err := retry(ctx, s, "sync products", func() (SyncResult, error) {
			return s.api.SyncProducts(ctx, products)
		})
		if err != nil {
			return report, fmt.Errorf("push products: %w", err)
		}
		if err := result.Err(); err != nil {
			return report, fmt.Errorf("push products: %w", err)
		}
		if err := s.store.MarkProductsSynced(ctx, productIDs(products)); err != nil {
			return report, fmt.Errorf("mark products synced: %w", err)
		}
		report.ProductsPushed = len(products)
	}

	shipments, err := s.store.ListUnsyncedShipments(ctx)
	if err != nil {
		return report, fmt.Errorf("load unsynced shipments: %w", err)
	}
	if len(shipments) > 0 {
		result, err := retry(ctx, s, "sync shipments", func() (SyncResult, error) {
			return s.api.SyncShipments(ctx, shipments)
		})
		if err != nil {
			return report, fmt.Errorf("push shipments: %w", err)
		}
		if err := result.Err(); err != nil {
			return report, fmt.Errorf("push shipments: %w", err)
		}
		if err := s.store.MarkShipmentsSynced(ctx, shipmentIDs(shipments)); err != nil {
			return report, fmt.Errorf("mark shipments synced: %w", err)
		}
		report.ShipmentsPushed = len(shipments)
	}

	dirty, err := s.store.ListDirtyTasks(ctx)
	if err != nil {
		return report, fmt.Errorf("load dirty tasks: %w", err)
	}
	for _, d := range dirty {
		task, err := s.store.GetTask(ctx, d.ID)
		if err != nil {
			return report, fmt.Errorf("load task %s: %w", d.ID, err)
		}
		if _, err := retry(ctx, s, "update task", func() (struct{}, error) {
			return struct{}{}, s.api.UpdateTask(ctx, task)
		}); err != nil {
			return report, fmt.Errorf("push task %s: %w", d.ID, err)
		}
		if err := s.store.ClearTaskDirty(ctx, d.ID, d.Revision); err != nil {
			return report, fmt.Errorf("clear task %s: %w", d.ID, err)
		}
		report.TasksPushed++
	}

	tasks, err := retry(ctx, s, "fetch tasks", func() ([]warehouse.Task, error) {
		return s.api.FetchTasks(ctx)
	})
	if err != nil {
		return report, fmt.Errorf("pull tasks: %w", err)
	}
	for _, t := range tasks {
		if err := s.store.PutTask(ctx, t); err != nil {
			return report, fmt.Errorf("store task %s: %w", t.ID, err)
		}
		report.TasksPulled++
	}
	return report, nil
}

func (s *Syncer) setStatus(state State, message string) {
	s.status.Set(Status{State: state, Message: message, At: s.clock.Now()})
}

// retry runs op with exponential backoff. Client errors that cannot succeed
// on retry stop immediately.
func retry[T any](ctx context.Context, s *Syncer, what string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.RetryTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Printf("%s failed, retrying in %s: %v", what, next.Round(time.Millisecond), err)
		}),
	)
}

func productIDs(products []warehouse.Product) []string {
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids
}

func shipmentIDs(shipments []warehouse.Shipment) []string {
	ids := make([]string, len(shipments))
	for i, sh := range shipments {
		ids[i] = sh.ID
	}
	return ids
}
