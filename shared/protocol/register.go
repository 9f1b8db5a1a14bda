package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/automoto/cubes-mp/shared/netcomponents"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/yohamta/donburi"
)

// ErrProtocolMismatch reports an unknown component kind, a conflicting sync
// mode, or a message from another protocol version.
var ErrProtocolMismatch = errors.New("protocol mismatch")

// Component binds a replicated component kind to its donburi component type.
type Component interface {
	Kind() netconfig.ComponentKind
	Mode() netconfig.SyncMode
	Name() string
	Has(entry *donburi.Entry) bool
	Encode(entry *donburi.Entry) ([]byte, error)
	// Apply decodes data and stores it on entry, adding the component if needed.
	Apply(entry *donburi.Entry, data []byte) error
	// Decode returns the decoded value without touching any entity.
	Decode(data []byte) (any, error)
}

type binding[T any] struct {
	kind netconfig.ComponentKind
	mode netconfig.SyncMode
	name string
	ct   *donburi.ComponentType[T]
}

// Bind describes how component type ct is replicated.
func Bind[T any](kind netconfig.ComponentKind, mode netconfig.SyncMode, name string, ct *donburi.ComponentType[T]) Component {
	return &binding[T]{kind: kind, mode: mode, name: name, ct: ct}
}

func (b *binding[T]) Kind() netconfig.ComponentKind { return b.kind }
func (b *binding[T]) Mode() netconfig.SyncMode      { return b.mode }
func (b *binding[T]) Name() string                  { return b.name }

func (b *binding[T]) Has(entry *donburi.Entry) bool {
	return entry.HasComponent(b.ct)
}

func (b *binding[T]) Encode(entry *donburi.Entry) ([]byte, error) {
	data, err := Marshal(b.ct.Get(entry))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", b.name, err)
	}
	return data, nil
}

func (b *binding[T]) Apply(entry *donburi.Entry, data []byte) error {
	var v T
	if err := Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode %s: %w", b.name, err)
	}
	if !entry.HasComponent(b.ct) {
		entry.AddComponent(b.ct)
	}
	b.ct.SetValue(entry, v)
	return nil
}

func (b *binding[T]) Decode(data []byte) (any, error) {
	var v T
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.name, err)
	}
	return v, nil
}

// Registry maps component kinds to their bindings. Each kind has exactly one
// sync mode; both peers must build identical registries.
type Registry struct {
	byKind map[netconfig.ComponentKind]Component
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[netconfig.ComponentKind]Component)}
}

// Register adds c. Registering the same binding twice is a no-op; registering
// a kind again with another mode or name fails with ErrProtocolMismatch.
func (r *Registry) Register(c Component) error {
	switch c.Mode() {
	case netconfig.SyncOnce, netconfig.SyncFullNoInterpolate, netconfig.SyncFullInterpolate:
	default:
		return fmt.Errorf("%w: %s has invalid sync mode %s", ErrProtocolMismatch, c.Name(), c.Mode())
	}
	if existing, ok := r.byKind[c.Kind()]; ok {
		if existing.Mode() != c.Mode() || existing.Name() != c.Name() {
			return fmt.Errorf("%w: kind %d already registered as %s (%s), got %s (%s)",
				ErrProtocolMismatch, c.Kind(), existing.Name(), existing.Mode(), c.Name(), c.Mode())
		}
		return nil
	}
	r.byKind[c.Kind()] = c
	return nil
}

// Lookup returns the binding for kind.
func (r *Registry) Lookup(kind netconfig.ComponentKind) (Component, error) {
	c, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown component kind %d", ErrProtocolMismatch, kind)
	}
	return c, nil
}

// Components returns all bindings ordered by kind.
func (r *Registry) Components() []Component {
	out := make([]Component, 0, len(r.byKind))
	for _, c := range r.byKind {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

// RegisterComponents registers all replicated components.
// This must be called by both server and client before any network operations.
func RegisterComponents(r *Registry) error {
	bindings := []Component{
		// Identity never changes after spawn
		Bind(netconfig.KindPlayerID, netconfig.SyncOnce, "PlayerID", netcomponents.PlayerID),
		// Buffered and blended on interpolated entities
		Bind(netconfig.KindTransform, netconfig.SyncFullInterpolate, "Transform", netcomponents.Transform),
		Bind(netconfig.KindLinearVelocity, netconfig.SyncFullNoInterpolate, "LinearVelocity", netcomponents.LinearVelocity),
		Bind(netconfig.KindActionState, netconfig.SyncFullNoInterpolate, "ActionState", netcomponents.ActionState),
	}
	for _, b := range bindings {
		if err := r.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// NewGameRegistry returns a registry with all replicated components registered.
func NewGameRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := RegisterComponents(r); err != nil {
		return nil, err
	}
	return r, nil
}
