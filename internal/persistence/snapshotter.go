package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/mudkernel/internal/logging"
	"github.com/oriys/mudkernel/internal/statestore"
)

// DefaultSnapshotInterval is the periodic snapshot cadence used when a
// Snapshotter is configured with a zero interval (SPEC_FULL.md §6.4).
const DefaultSnapshotInterval = 30 * time.Second

// BuildFunc produces the Document to persist at the current instant. A
// Snapshotter never builds this itself to avoid a persistence ->
// worldstate import cycle; callers close over whatever WorldView they
// hold (mirroring Build's own WorldView parameter).
type BuildFunc func() Document

// Snapshotter periodically writes the document BuildFunc produces to
// Path (local file, atomic temp-file-then-rename via Save) and, if
// Backend is configured, mirrors the same JSON blob into it under
// WorldKey. The local file is always written; the backend is a
// write-behind mirror only, consulted at startup to seed a restore when
// the local file is missing (LoadSeed).
type Snapshotter struct {
	Path     string
	Interval time.Duration
	Backend  statestore.Backend // optional; nil disables the mirror
	WorldKey string             // backend key the mirror is stored under; defaults to "world"
	Build    BuildFunc

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSnapshotter creates a Snapshotter. interval <= 0 uses
// DefaultSnapshotInterval.
func NewSnapshotter(path string, interval time.Duration, backend statestore.Backend, build BuildFunc) *Snapshotter {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Snapshotter{
		Path:     path,
		Interval: interval,
		Backend:  backend,
		WorldKey: "world",
		Build:    build,
	}
}

// Start begins the periodic snapshot loop in a background goroutine,
// grounded on the same ticker/stopCh/doneCh shape worldstate.RunLoop
// drives the tick loop with.
func (s *Snapshotter) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.snapshotOnce(ctx); err != nil {
					logging.Op().Warn("periodic snapshot failed", "path", s.Path, "error", err)
				}
			}
		}
	}()
}

// Stop signals the snapshot loop to exit and blocks until it has.
func (s *Snapshotter) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Snapshotter) snapshotOnce(ctx context.Context) error {
	doc := s.Build()
	if err := Save(s.Path, doc); err != nil {
		return err
	}
	if s.Backend == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.Backend.SaveState(ctx, s.WorldKey, data)
}

// LoadSeed returns the document to restore from at startup: the local
// file at path if it exists and parses, falling back to the backend
// mirror (if configured and it has a snapshot) when the local file is
// missing or unreadable, exactly as a fresh deploy with only a backend
// snapshot available needs. With no backend configured this behaves
// exactly like Load.
func LoadSeed(ctx context.Context, path string, backend statestore.Backend) (Document, error) {
	doc, localErr := Load(path)
	if localErr == nil {
		return doc, nil
	}
	if backend == nil {
		return Document{}, localErr
	}
	data, err := backend.LoadState(ctx, "world")
	if err != nil || data == nil {
		return Document{}, localErr
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, localErr
	}
	return doc, nil
}
