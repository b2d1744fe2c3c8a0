package room

import "log"

// Socket is the narrow surface the core needs from a live connection. The
// concrete implementation (gorilla/websocket-backed) lives in
// internal/wsconn; the core only ever depends on this interface so it stays
// transport-agnostic and unit-testable with a fake.
type Socket interface {
	// Send writes one event to the socket. Send must not block forever;
	// implementations are expected to apply their own write deadline.
	Send(evt *WireEvent) error
}

// Fanout broadcasts to every socket attached to a room and reaps any socket
// whose write fails, mirroring the teacher's hub broadcast loop but scoped
// to a single room's socket set instead of a process-global hub.
type Fanout struct {
	sockets map[Socket]string // socket -> clientID, for presence bookkeeping on reap
}

// NewFanout returns an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{sockets: make(map[Socket]string)}
}

// Add attaches a socket under the given client id.
func (f *Fanout) Add(s Socket, clientID string) {
	f.sockets[s] = clientID
}

// Remove detaches a socket, returning the client id it was registered under.
func (f *Fanout) Remove(s Socket) (string, bool) {
	clientID, ok := f.sockets[s]
	delete(f.sockets, s)
	return clientID, ok
}

// Len reports the number of attached sockets.
func (f *Fanout) Len() int {
	return len(f.sockets)
}

// Broadcast writes evt to every attached socket. Sockets whose write fails
// are reaped and their reaped client ids returned so the caller can update
// presence and re-broadcast.
func (f *Fanout) Broadcast(evt *WireEvent) (reapedClients []string) {
	for s, clientID := range f.sockets {
		if err := s.Send(evt); err != nil {
			log.Printf("📡 fanout: dropping dead socket for client %s: %v", clientID, err)
			delete(f.sockets, s)
			reapedClients = append(reapedClients, clientID)
		}
	}
	return reapedClients
}

// Unicast writes evt to a single socket, ignoring failures beyond logging
// them — the sender's own connection failing is handled by its own read
// loop noticing the disconnect.
func (f *Fanout) Unicast(s Socket, evt *WireEvent) {
	if err := s.Send(evt); err != nil {
		log.Printf("📡 fanout: unicast failed: %v", err)
	}
}
