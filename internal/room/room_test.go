package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket records every event sent to it, standing in for wsconn.Conn.
type fakeSocket struct {
	mu     sync.Mutex
	events []*WireEvent
}

func (f *fakeSocket) Send(evt *WireEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeSocket) last() *WireEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

func (f *fakeSocket) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeStore is an in-memory room.Store, standing in for storepg.Store.
type fakeStore struct {
	mu     sync.Mutex
	saved  map[string]*RoomState
	saveCt int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]*RoomState)}
}

func (f *fakeStore) LoadRoom(ctx context.Context, roomID string) (*RoomState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[roomID]
	return s, ok, nil
}

func (f *fakeStore) SaveRoom(ctx context.Context, state *RoomState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[state.RoomID] = state.Clone()
	f.saveCt++
	return nil
}

func (f *fakeStore) CreateSnapshot(ctx context.Context, roomID, label string, state *RoomState) (string, error) {
	return "snap1", nil
}

func (f *fakeStore) LoadSnapshot(ctx context.Context, snapshotID string) (*RoomState, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	return true, nil
}

func (f *fakeStore) GetRoomOwner(ctx context.Context, roomID string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCt
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRoom_AttachReturnsSyncHelloPresenceFrames(t *testing.T) {
	state := NewRoomState("r1")
	r := NewRoom(state, newFakeStore(), time.Hour)
	sock := &fakeSocket{}

	res := r.Attach(sock, "client1", "", "")

	require.NotNil(t, res.Sync)
	require.NotNil(t, res.Hello)
	require.NotNil(t, res.Presence)
	assert.Equal(t, EventStateSync, res.Sync.Type)
	assert.Equal(t, EventHello, res.Hello.Type)
	assert.Equal(t, EventPresence, res.Presence.Type)
}

func TestRoom_FirstClaimerBecomesGM(t *testing.T) {
	state := NewRoomState("r1")
	r := NewRoom(state, newFakeStore(), time.Hour)
	sock := &fakeSocket{}

	r.Attach(sock, "client1", "", "secret-key")

	waitFor(t, func() bool { return r.state.GMID == "client1" })
	assert.NotEmpty(t, r.state.GMKeyHash)
}

func TestRoom_SecondClaimerWithWrongKeyIsNotGM(t *testing.T) {
	state := NewRoomState("r1")
	r := NewRoom(state, newFakeStore(), time.Hour)

	r.Attach(&fakeSocket{}, "client1", "", "secret-key")
	waitFor(t, func() bool { return r.state.GMID == "client1" })

	r.Attach(&fakeSocket{}, "client2", "", "wrong-key")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "client1", r.state.GMID)
}

func TestRoom_SubmitAppliesAndBroadcasts(t *testing.T) {
	state := NewRoomState("r1")
	r := NewRoom(state, newFakeStore(), time.Hour)
	sockA := &fakeSocket{}
	sockB := &fakeSocket{}
	r.Attach(sockA, "gm", "gm-user", "")
	r.Attach(sockB, "player1", "player-user", "")
	r.state.GMID = "gm"

	evt := &WireEvent{Type: EventTokenCreate, Payload: payload(t, map[string]interface{}{"id": "tok1", "x": 1.0, "y": 1.0})}
	r.Submit(sockA, "gm", evt)

	// TOKEN_CREATE is a presence trigger, so the room follows it with PRESENCE.
	waitFor(t, func() bool {
		sockB.mu.Lock()
		defer sockB.mu.Unlock()
		n := len(sockB.events)
		return n >= 2 && sockB.events[n-2].Type == EventTokenCreate && sockB.events[n-1].Type == EventPresence
	})
}

func TestRoom_LastDetachFlushesAndEvicts(t *testing.T) {
	store := newFakeStore()
	state := NewRoomState("r1")
	r := NewRoom(state, store, time.Hour)
	sock := &fakeSocket{}
	r.Attach(sock, "client1", "", "")

	evt := &WireEvent{Type: EventTokenCreate, Payload: payload(t, map[string]interface{}{"id": "tok1", "x": 1.0, "y": 1.0})}
	r.state.GMID = "client1"
	r.Submit(sock, "client1", evt)
	waitFor(t, func() bool { return len(r.state.Tokens) == 1 })

	r.Detach(sock, "client1")

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room did not evict after last detach")
	}
	assert.Equal(t, 1, store.saveCount())
}

func TestRoomRegistry_GetMaterializesOnce(t *testing.T) {
	store := newFakeStore()
	reg := NewRoomRegistry(store)

	r1, err := reg.Get(context.Background(), "r1")
	require.NoError(t, err)
	r2, err := reg.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Same(t, r1, r2)
}
