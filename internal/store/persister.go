package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/consequence"
	"github.com/jwebster45206/consequence-engine/pkg/state"
	"github.com/jwebster45206/consequence-engine/pkg/storage"
)

const (
	// SnapshotVersion is written into every snapshot
	SnapshotVersion = 1

	// SnapshotChangeTail is how many change records a snapshot keeps
	SnapshotChangeTail = 100

	DefaultSaveDebounce     = 5 * time.Second
	DefaultAutosaveInterval = 30 * time.Second
)

// ErrNoSnapshot is returned by Load when the medium holds nothing yet
var ErrNoSnapshot = errors.New("no snapshot saved")

// Snapshot is the serialized form of all persistent engine state
type Snapshot struct {
	Version      int                                 `json:"version"`
	SavedAt      time.Time                           `json:"saved_at"`
	World        *state.WorldState                   `json:"world"`
	Histories    map[string]*state.PlayerHistory     `json:"histories"`
	Consequences map[string]*consequence.Consequence `json:"consequences"`
	Changes      []state.WorldStateChange            `json:"changes"`
}

// Stores bundles the three owned stores that make up engine state
type Stores struct {
	World        *WorldStore
	Histories    *HistoryStore
	Consequences *ConsequenceRegistry
}

// NewStores builds fresh stores seeded with the default factions and regions
func NewStores(logger *slog.Logger) *Stores {
	return &Stores{
		World:        NewWorldStore(state.NewWorldState(state.DefaultFactions, state.DefaultRegions, time.Now().UTC()), logger),
		Histories:    NewHistoryStore(state.DefaultFactions, logger),
		Consequences: NewConsequenceRegistry(),
	}
}

// Capture deep-copies all stores into a Snapshot
func (s *Stores) Capture(now time.Time) *Snapshot {
	world, changes := s.World.Snapshot()
	if over := len(changes) - SnapshotChangeTail; over > 0 {
		changes = changes[over:]
	}
	return &Snapshot{
		Version:      SnapshotVersion,
		SavedAt:      now,
		World:        world,
		Histories:    s.Histories.Snapshot(),
		Consequences: s.Consequences.Snapshot(),
		Changes:      changes,
	}
}

// Apply replaces the contents of all stores with the snapshot
func (s *Stores) Apply(snap *Snapshot) {
	s.World.Restore(snap.World, snap.Changes)
	s.Histories.Restore(snap.Histories)
	s.Consequences.Restore(snap.Consequences)
}

// Persister writes snapshots of the stores to a SnapshotStore.
// Mutations schedule a debounced save; Run adds a periodic save and a final save on shutdown.
type Persister struct {
	stores   *Stores
	medium   storage.SnapshotStore
	debounce time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	onSave   func(err error)

	mu      sync.Mutex
	pending *time.Timer
	saveMu  sync.Mutex // serializes writes to the medium
}

// NewPersister creates a persister and hooks it into every store's change callback
func NewPersister(stores *Stores, medium storage.SnapshotStore, debounce, interval time.Duration, logger *slog.Logger) *Persister {
	if debounce <= 0 {
		debounce = DefaultSaveDebounce
	}
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	p := &Persister{
		stores:   stores,
		medium:   medium,
		debounce: debounce,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	stores.World.SetOnChange(p.ScheduleSave)
	stores.Histories.SetOnChange(p.ScheduleSave)
	stores.Consequences.SetOnChange(p.ScheduleSave)
	return p
}

// OnSave registers a callback invoked after every save attempt
func (p *Persister) OnSave(fn func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSave = fn
}

// ScheduleSave arranges a save after the debounce delay unless one is already pending
func (p *Persister) ScheduleSave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil {
		return
	}
	p.pending = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = p.Save(ctx)
	})
}

// Pending reports whether a debounced save is scheduled
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Save captures the stores and writes them to the medium.
// Failures are logged and returned; in-memory state stays authoritative.
func (p *Persister) Save(ctx context.Context) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	snap := p.stores.Capture(p.now())
	data, err := json.Marshal(snap)
	if err == nil {
		err = p.medium.SaveSnapshot(ctx, data)
	} else {
		err = fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err != nil {
		p.logger.Error("Snapshot save failed", "error", err)
	} else {
		p.logger.Debug("Snapshot saved",
			"bytes", len(data),
			"players", len(snap.Histories),
			"consequences", len(snap.Consequences))
	}

	p.mu.Lock()
	fn := p.onSave
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
	return err
}

// Load reads and decodes the snapshot from the medium
func (p *Persister) Load(ctx context.Context) (*Snapshot, error) {
	data, err := p.medium.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoSnapshot
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.World == nil {
		return nil, fmt.Errorf("snapshot has no world state")
	}
	return &snap, nil
}

// Restore loads the snapshot into the stores. A missing snapshot leaves the
// fresh world in place and is not an error; other failures are logged and also
// leave the fresh world in place.
func (p *Persister) Restore(ctx context.Context) bool {
	snap, err := p.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			p.logger.Info("No snapshot found, starting with a fresh world")
		} else {
			p.logger.Error("Snapshot restore failed, starting with a fresh world", "error", err)
		}
		return false
	}

	p.stores.Apply(snap)
	p.logger.Info("Snapshot restored",
		"saved_at", snap.SavedAt,
		"players", len(snap.Histories),
		"consequences", len(snap.Consequences))
	return true
}

// Run saves on a fixed interval until ctx is done, then performs a final save
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.pending != nil {
				p.pending.Stop()
				p.pending = nil
			}
			p.mu.Unlock()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.Save(shutdownCtx); err == nil {
				p.logger.Info("Final snapshot saved")
			}
			cancel()
			return
		case <-ticker.C:
			_ = p.Save(ctx)
		}
	}
}
