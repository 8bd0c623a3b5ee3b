package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultAutosaveInterval = 30 * time.Second

// Saver persists a snapshot of a session context.
type Saver interface {
	Save(ctx context.Context, snap *Context) error
}

type SaverFunc func(ctx context.Context, snap *Context) error

func (f SaverFunc) Save(ctx context.Context, snap *Context) error { return f(ctx, snap) }

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Autosaver runs one periodic save task per session. A failed save is logged
// and retried on the next tick.
type Autosaver struct {
	store    *Store
	saver    Saver
	interval time.Duration
	logger   *slog.Logger

	// OnSave, when set, observes every save attempt.
	OnSave func(sessionID string, err error)

	mu    sync.Mutex
	tasks map[string]*task
	saved map[string]time.Time
}

func NewAutosaver(store *Store, saver Saver, interval time.Duration, logger *slog.Logger) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{
		store:    store,
		saver:    saver,
		interval: interval,
		logger:   logger,
		tasks:    make(map[string]*task),
		saved:    make(map[string]time.Time),
	}
}

// Start begins the periodic save for id. Starting a running task is a no-op.
func (a *Autosaver) Start(parent context.Context, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	a.tasks[id] = t
	go a.loop(ctx, id, t.done)
}

func (a *Autosaver) loop(ctx context.Context, id string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.save(ctx, id, false); err != nil && ctx.Err() == nil {
				a.logger.Warn("autosave failed; retrying next tick", "session_id", id, "error", err)
			}
		}
	}
}

// SaveNow saves the session immediately through the same path as the
// periodic task, regardless of whether it changed.
func (a *Autosaver) SaveNow(ctx context.Context, id string) error {
	return a.save(ctx, id, true)
}

func (a *Autosaver) save(ctx context.Context, id string, force bool) error {
	snap, err := a.store.Snapshot(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	last, seen := a.saved[id]
	a.mu.Unlock()
	if !force && seen && !snap.UpdatedAt.After(last) {
		return nil
	}

	err = a.saver.Save(ctx, snap)
	if a.OnSave != nil {
		a.OnSave(id, err)
	}
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.saved[id] = snap.UpdatedAt
	a.mu.Unlock()
	a.logger.Debug("session saved", "session_id", id, "stage", snap.Stage, "turn", snap.Turn)
	return nil
}

// Stop cancels the task for id and waits for it to exit.
func (a *Autosaver) Stop(id string) {
	a.mu.Lock()
	t, ok := a.tasks[id]
	delete(a.tasks, id)
	delete(a.saved, id)
	a.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

func (a *Autosaver) StopAll() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.tasks))
	for id := range a.tasks {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.Stop(id)
	}
}

func (a *Autosaver) Running(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tasks[id]
	return ok
}

func (a *Autosaver) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}
