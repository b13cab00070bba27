// Package registry owns the set of managed fixtures. Every mutation is
// announced to connected clients before the mutating call returns.
//
// A Registry is not safe for concurrent use; it belongs to the event loop.
package registry

import (
	"fmt"
	"slices"

	"github.com/drblury/dmxrelay/internal/protocol"
	"github.com/drblury/dmxrelay/internal/snapshot"
)

// Publisher delivers an encoded frame to every connected client and returns
// the number of recipients.
type Publisher interface {
	Broadcast(frame []byte) int
}

// Registry is the ordered list of live fixtures.
type Registry struct {
	fixtures []protocol.Fixture
	pub      Publisher
}

// New returns an empty registry announcing mutations through pub. A nil pub
// disables announcements.
func New(pub Publisher) *Registry {
	return &Registry{pub: pub}
}

// Len returns the number of live fixtures.
func (r *Registry) Len() int { return len(r.fixtures) }

// Add creates a fixture at (x, y, z) under the lowest unused id and
// broadcasts ADD_LIGHT.
func (r *Registry) Add(x, y, z float64) protocol.Fixture {
	f := protocol.Fixture{ID: r.nextID(), X: x, Y: y, Z: z}
	r.fixtures = append(r.fixtures, f)
	r.announce(protocol.UpdateAdd, f)
	return f
}

// nextID scans upward from zero for the first id not in use.
func (r *Registry) nextID() uint32 {
	var id uint32
	for r.index(id) >= 0 {
		id++
	}
	return id
}

func (r *Registry) index(id uint32) int {
	return slices.IndexFunc(r.fixtures, func(f protocol.Fixture) bool { return f.ID == id })
}

// Remove deletes the fixture with id and broadcasts REMOVE_LIGHT carrying it.
// It reports false, and announces nothing, when no such fixture exists.
func (r *Registry) Remove(id uint32) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	removed := r.fixtures[i]
	r.fixtures = slices.Delete(r.fixtures, i, i+1)
	r.announce(protocol.UpdateRemove, removed)
	return true
}

// Get returns the fixture with id.
func (r *Registry) Get(id uint32) (protocol.Fixture, bool) {
	i := r.index(id)
	if i < 0 {
		return protocol.Fixture{}, false
	}
	return r.fixtures[i], true
}

// List returns a copy of every fixture in insertion order.
func (r *Registry) List() []protocol.Fixture {
	return slices.Clone(r.fixtures)
}

// IDs returns the live ids in insertion order.
func (r *Registry) IDs() []uint32 {
	ids := make([]uint32, len(r.fixtures))
	for i, f := range r.fixtures {
		ids[i] = f.ID
	}
	return ids
}

// ReplaceAll swaps the registry contents for fixtures, keeping their ids.
// Nothing is announced. Duplicate ids are rejected and leave the registry
// unchanged.
func (r *Registry) ReplaceAll(fixtures []protocol.Fixture) error {
	seen := make(map[uint32]struct{}, len(fixtures))
	for _, f := range fixtures {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("duplicate fixture id %d", f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	r.fixtures = slices.Clone(fixtures)
	return nil
}

// Snapshot returns the durable form of the registry.
func (r *Registry) Snapshot() snapshot.Document {
	return snapshot.FromFixtures(r.fixtures)
}

// Restore replaces the registry with the fixtures in doc. Invalid documents
// are ErrRegistryLoadCorrupt.
func (r *Registry) Restore(doc snapshot.Document) error {
	fixtures, err := doc.Decode()
	if err != nil {
		return err
	}
	return r.ReplaceAll(fixtures)
}

// SyncFrame encodes SET_LIGHTS with every fixture, for a newly accepted
// client.
func (r *Registry) SyncFrame() []byte {
	return protocol.Encode(&protocol.LightsUpdate{Type: protocol.UpdateSetAll, Fixtures: r.List()})
}

func (r *Registry) announce(kind protocol.UpdateType, f protocol.Fixture) {
	if r.pub == nil {
		return
	}
	r.pub.Broadcast(protocol.Encode(&protocol.LightsUpdate{Type: kind, Fixtures: []protocol.Fixture{f}}))
}
