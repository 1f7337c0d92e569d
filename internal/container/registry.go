// Package container implements the driver's containment registry: the
// bidirectional map between a container (room, inventory, corpse, ...)
// and the set of member ids it holds.
//
// # Invariants
//
//   - At most one container per member.
//   - The forward map (container → members) and inverse map
//     (member → container) are mutually consistent at every operation
//     boundary — Add/Remove/Move never return with one updated and the
//     other stale.
//   - Adding a member that is already in another container implicitly
//     removes it from the old one.
//   - Removing a non-existent member is a no-op.
package container

import "sync"

// Registry is the driver-owned containment map. Safe for concurrent use,
// matching the teacher's sync.Map-guarded registry style, though the
// tick driver is the only writer in practice (spec.md §5).
type Registry struct {
	mu       sync.RWMutex
	forward  map[string]map[string]struct{} // container id -> member ids
	inverse  map[string]string              // member id -> container id
}

// New creates an empty containment registry.
func New() *Registry {
	return &Registry{
		forward: make(map[string]map[string]struct{}),
		inverse: make(map[string]string),
	}
}

// Add places member into container, removing it from any prior
// container first. Adding a member already in container is a no-op.
func (r *Registry) Add(containerID, memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.inverse[memberID]; ok {
		if old == containerID {
			return
		}
		r.removeLocked(memberID)
	}

	set, ok := r.forward[containerID]
	if !ok {
		set = make(map[string]struct{})
		r.forward[containerID] = set
	}
	set[memberID] = struct{}{}
	r.inverse[memberID] = containerID
}

// Remove takes memberID out of whatever container holds it. Removing a
// member that is in no container is a no-op.
func (r *Registry) Remove(memberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(memberID)
}

// removeLocked must be called with r.mu held.
func (r *Registry) removeLocked(memberID string) {
	containerID, ok := r.inverse[memberID]
	if !ok {
		return
	}
	delete(r.inverse, memberID)
	if set, ok := r.forward[containerID]; ok {
		delete(set, memberID)
		if len(set) == 0 {
			delete(r.forward, containerID)
		}
	}
}

// Move is Add under a different name, kept distinct for call-site
// clarity (ContainerOf changes as a result either way).
func (r *Registry) Move(memberID, destContainerID string) {
	r.Add(destContainerID, memberID)
}

// ContainerOf returns the container currently holding memberID.
func (r *Registry) ContainerOf(memberID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.inverse[memberID]
	return c, ok
}

// Contents returns a snapshot of the member ids inside containerID, in
// no particular order.
func (r *Registry) Contents(containerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.forward[containerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

// Contains reports whether containerID currently holds memberID.
func (r *Registry) Contains(containerID, memberID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.inverse[memberID]
	return ok && c == containerID
}

// SameContainer reports whether a and b currently share a container.
func (r *Registry) SameContainer(a, b string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ca, okA := r.inverse[a]
	cb, okB := r.inverse[b]
	return okA && okB && ca == cb
}

// Count returns the number of members directly inside containerID.
func (r *Registry) Count(containerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forward[containerID])
}

// Export returns a snapshot of every container -> members relation, for
// the persistence document of spec.md §6.4.
func (r *Registry) Export() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.forward))
	for containerID, set := range r.forward {
		members := make([]string, 0, len(set))
		for m := range set {
			members = append(members, m)
		}
		out[containerID] = members
	}
	return out
}

// Restore replaces the registry's contents with contents, a
// container id -> member ids map as produced by Export. Any existing
// contents are discarded first.
func (r *Registry) Restore(contents map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = make(map[string]map[string]struct{}, len(contents))
	r.inverse = make(map[string]string)
	for containerID, members := range contents {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
			r.inverse[m] = containerID
		}
		r.forward[containerID] = set
	}
}
