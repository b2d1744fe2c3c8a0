package room

import (
	"context"
	"log"
	"time"

	"github.com/tabletop-vtt/server/internal/metrics"
)

// presenceTriggers lists accepted event types after which presence is
// re-broadcast, since they can change what's visible to who (a join/leave
// synthesizes its own presence event separately in Attach/Detach).
var presenceTriggers = map[EventType]bool{
	EventTokenDelete:  true,
	EventTokenCreate:  true,
	EventTokenAssign:  true,
	EventTokenSetLock: true,
}

type inboundMsg struct {
	socket   Socket
	clientID string
	evt      *WireEvent
}

type attachMsg struct {
	socket   Socket
	clientID string
	gmUserID string
	claimKey string
	reply    chan AttachResult
}

// AttachResult carries the three frames SPEC_FULL §4.8 requires be unicast
// to a newly attached socket, in order: STATE_SYNC, HELLO, PRESENCE.
type AttachResult struct {
	Sync     *WireEvent
	Hello    *WireEvent
	Presence *WireEvent
}

type detachMsg struct {
	socket   Socket
	clientID string
}

type flushMsg struct {
	reply chan struct{}
}

// Room is the single-serializer actor owning one room's state, journal,
// spatial index, and attached sockets. All mutation flows through its
// goroutine; nothing touches RoomState from outside it.
type Room struct {
	id               string
	state            *RoomState
	journal          *Journal
	presence         *PresenceTracker
	fanout           *Fanout
	spatial          *SpatialIndex
	store            Store
	autosaveDebounce time.Duration

	inbox  chan interface{}
	done chan struct{}

	// dirty/lastChangeTS are only ever touched from the actor goroutine
	// (run, via handleInbound/handleAttach and the autosave ticker case).
	dirty        bool
	lastChangeTS time.Time
}

// NewRoom constructs a Room around a freshly-loaded or brand new state and
// starts its actor goroutine.
func NewRoom(state *RoomState, store Store, autosaveDebounce time.Duration) *Room {
	r := &Room{
		id:               state.RoomID,
		state:            state,
		journal:          NewJournal(),
		presence:         NewPresenceTracker(),
		fanout:           NewFanout(),
		spatial:          NewSpatialIndex(),
		store:            store,
		autosaveDebounce: autosaveDebounce,
		inbox:            make(chan interface{}, 64),
		done:             make(chan struct{}),
	}
	r.spatial.RebuildFromState(state)
	go r.run()
	return r
}

// ID returns the room's identifier.
func (r *Room) ID() string { return r.id }

// Done returns a channel closed once the room's actor goroutine has exited
// (after flushing and evicting on last-socket-detach).
func (r *Room) Done() <-chan struct{} { return r.done }

// QueryViewport answers a read-only viewport query against the room's
// spatial index. Safe to call from outside the actor goroutine: the index
// has its own lock and is treated as an eventually-consistent cache over
// RoomState, not the state itself.
func (r *Room) QueryViewport(box BoundingBox) (*QueryViewportResult, error) {
	return r.spatial.QueryViewport(box)
}

// Submit enqueues an inbound client event for serialized processing. It does
// not block on the result; replies travel back over the socket via Fanout.
func (r *Room) Submit(socket Socket, clientID string, evt *WireEvent) {
	select {
	case r.inbox <- inboundMsg{socket: socket, clientID: clientID, evt: evt}:
	case <-r.done:
	}
}

// Attach admits a new socket, performing the GM-claim handshake from
// SPEC_FULL §4.8 and returning the three initial frames to unicast in order.
func (r *Room) Attach(socket Socket, clientID string, gmUserID string, claimKey string) AttachResult {
	reply := make(chan AttachResult, 1)
	select {
	case r.inbox <- attachMsg{socket: socket, clientID: clientID, gmUserID: gmUserID, claimKey: claimKey, reply: reply}:
	case <-r.done:
		return AttachResult{}
	}
	select {
	case res := <-reply:
		return res
	case <-r.done:
		return AttachResult{}
	}
}

// Detach removes a socket, flushing and evicting the room if it was the last
// one attached.
func (r *Room) Detach(socket Socket, clientID string) {
	select {
	case r.inbox <- detachMsg{socket: socket, clientID: clientID}:
	case <-r.done:
	}
}

// Flush forces an immediate save regardless of the debounce window, used
// during graceful shutdown so no accepted mutation is lost.
func (r *Room) Flush() {
	reply := make(chan struct{}, 1)
	select {
	case r.inbox <- flushMsg{reply: reply}:
	case <-r.done:
		return
	}
	select {
	case <-reply:
	case <-r.done:
	}
}

func (r *Room) run() {
	autosaveTick := time.NewTicker(r.autosaveDebounce)
	defer autosaveTick.Stop()
	for {
		select {
		case msg := <-r.inbox:
			switch m := msg.(type) {
			case inboundMsg:
				r.handleInbound(m)
			case attachMsg:
				m.reply <- r.handleAttach(m)
			case detachMsg:
				evict := r.handleDetach(m)
				if evict {
					close(r.done)
					return
				}
			case flushMsg:
				r.flush()
				m.reply <- struct{}{}
			}
		case <-autosaveTick.C:
			r.maybeFlush()
		}
	}
}

func (r *Room) handleInbound(m inboundMsg) {
	res := applyEvent(r.state, r.journal, r.spatial, m.clientID, m.evt)
	outcome := "rejected"
	if res.changed {
		r.markDirty()
		outcome = "applied"
	} else if res.event != nil && res.event.Type == EventError {
		outcome = "error"
	}
	metrics.EventsProcessed.WithLabelValues(string(m.evt.Type), outcome).Inc()
	if res.event == nil {
		return
	}
	if res.broadcast {
		reaped := r.fanout.Broadcast(res.event)
		for _, cid := range reaped {
			r.presence.Decr(cid)
		}
		if len(reaped) > 0 || presenceTriggers[m.evt.Type] {
			r.fanout.Broadcast(presenceEvent(r.state, r.presence))
		}
	} else {
		r.fanout.Unicast(m.socket, res.event)
	}
}

func (r *Room) handleAttach(m attachMsg) AttachResult {
	isGMNow := false
	if r.state.GMUserID != "" && r.state.GMUserID == m.gmUserID {
		isGMNow = true
	} else if r.state.GMKeyHash == "" && m.claimKey != "" {
		r.state.GMKeyHash = hashClaimKey(m.claimKey)
		isGMNow = true
	} else if m.claimKey != "" && r.state.GMKeyHash == hashClaimKey(m.claimKey) {
		isGMNow = true
	}

	wasClaim := false
	if isGMNow && r.state.GMID != m.clientID {
		r.state.GMID = m.clientID
		wasClaim = true
		r.markDirty()
	}

	r.fanout.Add(m.socket, m.clientID)
	r.presence.Incr(m.clientID)

	hello := eventWithPayload(EventHello, map[string]interface{}{
		"client_id": m.clientID,
		"room_id":   r.id,
		"is_gm":     isGM(r.state, m.clientID),
		"gm_key_set": r.state.GMKeyHash != "",
		"username":  m.clientID,
	})
	sync := eventWithPayload(EventStateSync, r.state.Public())
	pres := presenceEvent(r.state, r.presence)

	if wasClaim {
		r.fanout.Broadcast(eventWithPayload(EventStateSync, r.state.Public()))
	}
	r.fanout.Broadcast(hello)
	r.fanout.Broadcast(pres)

	return AttachResult{Hello: hello, Presence: pres, Sync: sync}
}

func (r *Room) handleDetach(m detachMsg) (evict bool) {
	// If this socket was already reaped by a prior Broadcast write failure,
	// fanout.Remove finds nothing and presence was already decremented there;
	// decrementing again here would undercount a client with multiple sockets.
	if clientID, ok := r.fanout.Remove(m.socket); ok {
		r.presence.Decr(clientID)
	}
	if r.fanout.Len() > 0 {
		r.fanout.Broadcast(presenceEvent(r.state, r.presence))
		return false
	}
	r.flush()
	return true
}

func (r *Room) markDirty() {
	r.dirty = true
	r.lastChangeTS = time.Now()
	r.state.Version++
}

// maybeFlush implements the resample-before-flush debounce: if the last
// change happened less than one debounce interval ago, it waits for the
// next tick instead of saving a state that's still actively changing.
func (r *Room) maybeFlush() {
	if !r.dirty {
		return
	}
	if time.Since(r.lastChangeTS) < r.autosaveDebounce {
		return
	}
	r.flush()
}

func (r *Room) flush() {
	if !r.dirty {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	err := r.store.SaveRoom(ctx, r.state)
	metrics.AutosaveFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AutosaveFlushes.WithLabelValues("error").Inc()
		log.Printf("💾 autosave failed for room %s, will retry: %v", r.id, err)
		return
	}
	metrics.AutosaveFlushes.WithLabelValues("ok").Inc()
	r.dirty = false
	log.Printf("💾 saved room %s at version %d", r.id, r.state.Version)
}
