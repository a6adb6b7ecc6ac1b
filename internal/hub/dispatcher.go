package hub

import (
	"errors"
)

type Target string

const (
	TargetAll        Target = "all"
	TargetAllOther   Target = "all_except"
	TargetGroup      Target = "group"
	TargetGroupOther Target = "group_except"
	TargetConnection Target = "connection"
)

// Delivery reports a single fan-out. Failures are counted, never returned.
type Delivery struct {
	Targets   int
	Delivered int
	Failed    int
}

func (h *Hub) SendToAll(ev Event) Delivery {
	return h.dispatch(TargetAll, "", ev, h.conns.snapshot())
}

func (h *Hub) SendToAllExcept(senderID string, ev Event) Delivery {
	return h.dispatch(TargetAllOther, "", ev, without(h.conns.snapshot(), senderID))
}

func (h *Hub) SendToGroup(group string, ev Event) Delivery {
	name, err := normalizeGroup(group)
	if err != nil {
		return Delivery{}
	}
	return h.dispatch(TargetGroup, name, ev, h.groups.audience(name))
}

// SendToGroupExcept delivers to every member of group other than senderID.
func (h *Hub) SendToGroupExcept(group, senderID string, ev Event) Delivery {
	name, err := normalizeGroup(group)
	if err != nil {
		return Delivery{}
	}
	return h.dispatch(TargetGroupOther, name, ev, without(h.groups.audience(name), senderID))
}

func without(aud []*Connection, id string) []*Connection {
	out := aud[:0]
	for _, c := range aud {
		if c.id != id {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) SendToConnection(id string, ev Event) Delivery {
	c, err := h.conns.get(id)
	if err != nil {
		d := Delivery{Targets: 1, Failed: 1}
		h.obs.Broadcast(TargetConnection, ev.EventType(), d)
		h.log.Debug("send to unknown connection", "conn_id", id, "type", ev.EventType())
		return d
	}
	return h.dispatch(TargetConnection, "", ev, []*Connection{c})
}

// dispatch encodes once and sends to each recipient of an already resolved
// audience. One recipient failing does not stop the rest.
func (h *Hub) dispatch(target Target, group string, ev Event, audience []*Connection) Delivery {
	d := Delivery{Targets: len(audience)}
	if len(audience) == 0 {
		h.obs.Broadcast(target, ev.EventType(), d)
		return d
	}

	frame, err := Encode(ev)
	if err != nil {
		h.log.Error("encode event", "type", ev.EventType(), "err", err)
		d.Failed = d.Targets
		h.obs.Broadcast(target, ev.EventType(), d)
		return d
	}

	for _, c := range audience {
		if err := c.send(frame); err != nil {
			d.Failed++
			lvl := h.log.Warn
			if errors.Is(err, ErrSlowConsumer) {
				lvl = h.log.Debug
			}
			lvl("delivery failed", "target", target, "group", group, "conn_id", c.id, "type", ev.EventType(), "err", err)
			continue
		}
		d.Delivered++
	}
	h.obs.Broadcast(target, ev.EventType(), d)
	return d
}
