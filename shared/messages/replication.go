package messages

import (
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/leap-fish/necs/esync"
)

// ComponentUpdate is one encoded component value.
type ComponentUpdate struct {
	Kind netconfig.ComponentKind
	Data []byte
}

// EntityUpdate carries the replicated components of one entity. Spawn marks
// the first time the receiving connection sees the entity.
type EntityUpdate struct {
	Entity     esync.NetworkId
	Spawn      bool
	Role       netconfig.Role
	Components []ComponentUpdate
}

// Replication is the server state for one tick as seen by one target partition.
type Replication struct {
	Version  uint16
	Tick     netconfig.Tick
	Entities []EntityUpdate
	Despawns []esync.NetworkId
}

func (Replication) MessageType() Type { return TypeReplication }

// Empty reports whether the message carries nothing.
func (m Replication) Empty() bool {
	return len(m.Entities) == 0 && len(m.Despawns) == 0
}
