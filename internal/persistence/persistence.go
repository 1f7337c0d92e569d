// Package persistence implements the save/restore document of spec.md
// §6.4: a single JSON document covering every live instance's state,
// the containment graph, and the equipment graph, sufficient to
// reconstruct a WorldState after a restart.
//
// Grounded on the teacher's domain.Function/store.Function split (JSON
// document fields mirroring driver-owned columns), narrowed from a
// database-backed row to a single durable on-disk document written
// whole and read whole. The codec is stdlib encoding/json, as it is
// everywhere else in the driver — no third-party serialization
// library appears in any example repo's domain types.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oriys/mudkernel/internal/object"
	"github.com/oriys/mudkernel/internal/statestore"
)

// CurrentVersion is the document format version this package writes.
const CurrentVersion = 2

// Session is the optional player-session section of the document
// (spec.md §6.4).
type Session struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// InstanceDoc is the persisted form of one object.Instance.
type InstanceDoc struct {
	InstanceID  string                      `json:"instance_id"`
	BlueprintID string                      `json:"blueprint_id"`
	CreatedAt   time.Time                   `json:"created_at"`
	State       map[string]statestore.Value `json:"state"`
}

// ContainersDoc is the persisted containment graph.
type ContainersDoc struct {
	Contents map[string][]string `json:"contents"`
}

// Document is the full save/restore document of spec.md §6.4.
type Document struct {
	Version    int                          `json:"version"`
	SavedAt    time.Time                    `json:"saved_at"`
	Session    *Session                     `json:"session,omitempty"`
	Instances  []InstanceDoc                `json:"instances"`
	Containers ContainersDoc                `json:"containers"`
	Equipment  map[string]map[string]string `json:"equipment,omitempty"`
}

// WorldView is the narrow slice of WorldState persistence needs to read
// or write, avoiding a persistence -> worldstate import cycle (worldstate
// already depends on most of persistence's own dependencies).
type WorldView struct {
	Objects    *object.Manager
	Containers interface{ Export() map[string][]string }
	Equipment  interface {
		Export() map[string]map[string]string
	}
}

// Build renders ws into a Document ready to be written, optionally
// tagging it with a player session.
func Build(ws WorldView, session *Session) Document {
	instances := ws.Objects.Instances()
	docs := make([]InstanceDoc, 0, len(instances))
	for _, inst := range instances {
		docs = append(docs, InstanceDoc{
			InstanceID:  inst.ID,
			BlueprintID: inst.Blueprint.ID,
			CreatedAt:   inst.CreatedAt,
			State:       inst.State.Snapshot(),
		})
	}

	equip := ws.Equipment.Export()
	if len(equip) == 0 {
		equip = nil
	}

	return Document{
		Version:    CurrentVersion,
		SavedAt:    time.Now(),
		Session:    session,
		Instances:  docs,
		Containers: ContainersDoc{Contents: ws.Containers.Export()},
		Equipment:  equip,
	}
}

// Save atomically writes doc to path: it is rendered to a temp file in
// the same directory and renamed into place, so a reader never observes
// a partially written document.
func Save(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mudkernel-snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("persistence: rename into place: %w", err)
	}
	return nil
}

// Load reads and parses the document at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("persistence: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("persistence: unmarshal %s: %w", path, err)
	}
	return doc, nil
}

// RegistryRestorer is the narrow write surface Restore needs against the
// containment and equipment registries.
type RegistryRestorer struct {
	Containers interface {
		Restore(map[string][]string)
	}
	Equipment interface {
		Restore(map[string]map[string]string)
	}
}

// AfterRestore is called once per reconstructed instance so the caller
// can re-register its heartbeat, exactly as a fresh construct would
// (spec.md §6.4's "re-registers heartbeats").
type AfterRestore func(inst *object.Instance)

// Restore re-ensures every blueprint referenced by doc, reconstructs
// each instance with its persisted state store (invoking on_load, else
// the legacy create, exactly as a fresh construct would), then
// repopulates the containment and equipment registries. afterRestore is
// invoked once per instance after it is registered, for heartbeat
// re-registration.
func Restore(ctx context.Context, objects *object.Manager, reg RegistryRestorer, doc Document, afterRestore AfterRestore) (*Session, error) {
	for _, d := range doc.Instances {
		state := statestore.New()
		state.LoadSnapshot(d.State)

		inst, err := objects.RestoreInstance(ctx, d.InstanceID, d.BlueprintID, state, d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("persistence: restore instance %s: %w", d.InstanceID, err)
		}
		if afterRestore != nil {
			afterRestore(inst)
		}
	}

	reg.Containers.Restore(doc.Containers.Contents)
	if doc.Equipment != nil {
		reg.Equipment.Restore(doc.Equipment)
	}

	return doc.Session, nil
}
