package client

import (
	"sort"

	"github.com/automoto/cubes-mp/shared/netcomponents"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/leap-fish/necs/esync"
	"github.com/yohamta/donburi"
)

// Source says where the state of an EntityView came from.
type Source uint8

const (
	SourceConfirmed Source = iota
	SourcePredicted
	SourceInterpolated
)

func (s Source) String() string {
	switch s {
	case SourcePredicted:
		return "predicted"
	case SourceInterpolated:
		return "interpolated"
	}
	return "confirmed"
}

// EntityView is what a renderer needs to draw one replicated entity.
type EntityView struct {
	NetworkID esync.NetworkId
	Owner     netconfig.ClientID
	Source    Source
	Transform netcomponents.TransformData
	Velocity  mgl64.Vec3
}

// View returns every replicated entity in network id order. The own entity
// shows the smoothed prediction, interpolated entities are sampled at the
// render time of the timeline, and everything else shows the last
// confirmed value.
func (c *Client) View() []EntityView {
	at := c.timeline.At(c.clock.Overstep())

	var out []EntityView
	esync.NetworkEntityQuery.Each(c.world, func(entry *donburi.Entry) {
		if !entry.HasComponent(netcomponents.Transform) {
			return
		}
		id := *esync.GetNetworkId(entry)
		v := EntityView{
			NetworkID: id,
			Source:    SourceConfirmed,
			Transform: *netcomponents.Transform.Get(entry),
		}
		if entry.HasComponent(netcomponents.PlayerID) {
			v.Owner = netcomponents.PlayerID.Get(entry).Owner
		}
		if entry.HasComponent(netcomponents.LinearVelocity) {
			v.Velocity = netcomponents.LinearVelocity.Get(entry).V
		}

		role, _ := c.decoder.Role(id)
		switch {
		case c.haveLocal && id == c.local && c.engine.Initialized():
			s := c.engine.RenderState()
			v.Source = SourcePredicted
			v.Transform = netcomponents.TransformData{Translation: s.Position, Rotation: s.Rotation}
			v.Velocity = s.Velocity
		case role == netconfig.RoleInterpolated:
			if buf, ok := c.remote[id]; ok {
				if tr, ok := buf.Sample(at); ok {
					v.Source = SourceInterpolated
					v.Transform = tr
				}
			}
		}
		out = append(out, v)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].NetworkID < out[j].NetworkID })
	return out
}
