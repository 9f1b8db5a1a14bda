package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/yohamta/donburi"
)

// ErrRegistryInvariant means the identity to entity table no longer matches
// the world. The server cannot continue safely.
var ErrRegistryInvariant = errors.New("registry invariant violated")

// Registry maps each connected identity to its player entity. Only the
// authority loop mutates it, from inside a tick.
type Registry struct {
	entities map[netconfig.ClientID]donburi.Entity
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[netconfig.ClientID]donburi.Entity)}
}

// Add maps id to entity. An identity may own at most one entity.
func (r *Registry) Add(id netconfig.ClientID, entity donburi.Entity) error {
	if existing, ok := r.entities[id]; ok {
		return fmt.Errorf("%w: client %d already owns entity %v", ErrRegistryInvariant, id, existing)
	}
	r.entities[id] = entity
	return nil
}

// Remove deletes the entry of id and returns the entity it owned.
func (r *Registry) Remove(id netconfig.ClientID) (donburi.Entity, bool) {
	e, ok := r.entities[id]
	if ok {
		delete(r.entities, id)
	}
	return e, ok
}

func (r *Registry) Lookup(id netconfig.ClientID) (donburi.Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// IDs returns the registered identities in ascending order.
func (r *Registry) IDs() []netconfig.ClientID {
	ids := make([]netconfig.ClientID, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	return len(r.entities)
}
