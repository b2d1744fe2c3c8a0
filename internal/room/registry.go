package room

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tabletop-vtt/server/internal/metrics"
)

// DefaultAutosaveDebounce matches the 2-second resample-before-flush window
// the original server used.
const DefaultAutosaveDebounce = 2 * time.Second

// RoomRegistry lazily materializes Room actors from the Store and evicts
// them once their last socket disconnects. All registry bookkeeping is
// behind one mutex; it is never held across Store or socket I/O.
type RoomRegistry struct {
	store            Store
	autosaveDebounce time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRoomRegistry returns a registry backed by store.
func NewRoomRegistry(store Store) *RoomRegistry {
	return &RoomRegistry{
		store:            store,
		autosaveDebounce: DefaultAutosaveDebounce,
		rooms:            make(map[string]*Room),
	}
}

// Get returns the live Room for roomID, materializing it from the Store on
// first use. A brand new room (never persisted) starts from a blank state.
func (reg *RoomRegistry) Get(ctx context.Context, roomID string) (*Room, error) {
	reg.mu.Lock()
	if r, ok := reg.rooms[roomID]; ok {
		reg.mu.Unlock()
		return r, nil
	}
	reg.mu.Unlock()

	state, found, err := reg.store.LoadRoom(ctx, roomID)
	if err != nil {
		log.Printf("🏠 load_room(%s) failed, starting blank: %v", roomID, err)
		state = NewRoomState(roomID)
	} else if !found {
		state = NewRoomState(roomID)
	}
	state.NormalizeOrder()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		// Lost the race with another concurrent first-attach; use the
		// winner's room and let our loaded state be discarded.
		return r, nil
	}
	r := NewRoom(state, reg.store, reg.autosaveDebounce)
	reg.rooms[roomID] = r
	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	go reg.watchEviction(r)
	log.Printf("🏠 room %s materialized (%d tokens, %d strokes, %d shapes)", roomID, len(state.Tokens), len(state.Strokes), len(state.Shapes))
	return r, nil
}

// watchEviction removes a room from the registry once its actor goroutine
// exits (the actor itself decides to exit, on last-socket-detach).
func (reg *RoomRegistry) watchEviction(r *Room) {
	<-r.Done()
	reg.mu.Lock()
	delete(reg.rooms, r.ID())
	metrics.ActiveRooms.Set(float64(len(reg.rooms)))
	reg.mu.Unlock()
	log.Printf("🏠 room %s evicted from registry", r.ID())
}

// Attach is the convenience a connection handler calls on socket admission:
// materialize the room if needed, then run the GM-claim handshake.
func (reg *RoomRegistry) Attach(ctx context.Context, roomID string, socket Socket, clientID, gmUserID, claimKey string) (*Room, AttachResult, error) {
	r, err := reg.Get(ctx, roomID)
	if err != nil {
		return nil, AttachResult{}, err
	}
	res := r.Attach(socket, clientID, gmUserID, claimKey)
	return r, res, nil
}

// Store exposes the backing Store, used by the connection layer for
// membership checks at handshake time, outside the per-room actor.
func (reg *RoomRegistry) Store() Store { return reg.store }

// IsActive reports whether roomID currently has a live in-memory Room.
func (reg *RoomRegistry) IsActive(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[roomID]
	return ok
}

// ShutdownAll forces every live room to flush its pending autosave, used on
// process shutdown so the last burst of accepted mutations isn't lost to
// the debounce window.
func (reg *RoomRegistry) ShutdownAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()
	for _, r := range rooms {
		r.Flush()
	}
}

// Drop forcibly removes roomID from the registry bookkeeping; used by tests
// and admin tooling. It does not stop the actor goroutine itself -- callers
// should have already drained its sockets.
func (reg *RoomRegistry) Drop(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, roomID)
}
