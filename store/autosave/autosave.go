// Package autosave periodically writes a changed library back to its file.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/mediadb/store/dbfile"
	"github.com/wolfeidau/mediadb/telemetry"
)

// Store is the part of the library store the manager drives.
type Store interface {
	Dirty() bool
	Save(ctx context.Context, f *dbfile.File) (dbfile.SaveResult, error)
}

// Config holds autosave configuration.
type Config struct {
	// Interval is how often to check for unsaved changes.
	// Default is 5 minutes.
	Interval time.Duration

	// SaveOnStop writes any unsaved changes when the manager stops.
	SaveOnStop bool

	// Logger for autosave events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		SaveOnStop: true,
		Logger:     slog.Default(),
	}
}

// Manager saves a store whenever it is dirty, once per interval.
type Manager struct {
	config Config
	store  Store
	file   *dbfile.File
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a new autosave manager.
func NewManager(store Store, file *dbfile.File, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config: cfg,
		store:  store,
		file:   file,
		logger: cfg.Logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background saving. Calling it again, or after Stop, does
// nothing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop ends background saving and waits for an in-flight save. With
// SaveOnStop set, unsaved changes are written before it returns.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	wasRunning := m.running
	m.stopped = true
	m.mu.Unlock()

	if wasRunning {
		close(m.stopCh)
		<-m.doneCh
	}
	if m.config.SaveOnStop {
		m.runOnce(ctx)
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// Result describes one autosave check.
type Result struct {
	Saved    bool
	Entries  int
	Bytes    int64
	Err      error
	Duration time.Duration
}

// RunOnce saves the store now if it has unsaved changes.
func (m *Manager) RunOnce(ctx context.Context) Result {
	return m.runOnce(ctx)
}

func (m *Manager) runOnce(ctx context.Context) Result {
	ctx = telemetry.WithSource(ctx, "autosave")
	start := m.now()

	if !m.store.Dirty() {
		telemetry.RecordAutosaveCycle(ctx, "clean")
		m.logger.Debug("autosave skipped, library unchanged")
		return Result{}
	}

	res, err := m.store.Save(ctx, m.file)
	result := Result{Duration: m.now().Sub(start), Err: err}
	if err != nil {
		telemetry.RecordAutosaveCycle(ctx, "error")
		m.logger.Error("autosave failed", "key", m.file.Key(), "error", err)
		return result
	}

	result.Saved = true
	result.Entries = res.Entries
	result.Bytes = res.Bytes
	telemetry.RecordAutosaveCycle(ctx, "saved")
	m.logger.Info("autosave complete",
		"key", m.file.Key(),
		"entries", res.Entries,
		"bytes", res.Bytes,
		"duration", result.Duration,
	)
	return result
}
