package room

import "sort"

// PresenceTracker counts concurrent sockets per client id within one room;
// the same user may hold several sockets (multiple tabs), and presence only
// drops a client once its last socket disconnects.
type PresenceTracker struct {
	counts map[string]int
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{counts: make(map[string]int)}
}

// Incr registers one more connected socket for clientID.
func (p *PresenceTracker) Incr(clientID string) {
	p.counts[clientID]++
}

// Decr removes one connected socket for clientID, dropping it from presence
// once the count reaches zero.
func (p *PresenceTracker) Decr(clientID string) {
	if p.counts[clientID] <= 1 {
		delete(p.counts, clientID)
		return
	}
	p.counts[clientID]--
}

// Clients returns the distinct connected client ids, sorted for a stable
// PRESENCE payload.
func (p *PresenceTracker) Clients() []string {
	out := make([]string, 0, len(p.counts))
	for id := range p.counts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PresencePayload is the wire shape of a PRESENCE event.
type PresencePayload struct {
	RoomID  string   `json:"room_id"`
	Clients []string `json:"clients"`
	GMID    string   `json:"gm_id,omitempty"`
}

func presenceEvent(state *RoomState, p *PresenceTracker) *WireEvent {
	return eventWithPayload(EventPresence, PresencePayload{
		RoomID:  state.RoomID,
		Clients: p.Clients(),
		GMID:    state.GMID,
	})
}
