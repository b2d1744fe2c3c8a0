package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(gmID string) *RoomState {
	s := NewRoomState("test-room")
	s.GMID = gmID
	return s
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestApplyEvent_TokenCreate(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventTokenCreate, Payload: payload(t, map[string]interface{}{
		"id": "tok1", "x": 10.0, "y": 20.0, "name": "Goblin",
	})}
	res := applyEvent(state, journal, spatial, "gm1", evt)

	assert.True(t, res.changed)
	assert.True(t, res.broadcast)
	require.Contains(t, state.Tokens, "tok1")
	assert.Equal(t, 10.0, state.Tokens["tok1"].X)
	assert.Equal(t, 1.0, state.Tokens["tok1"].SizeScale)
}

func TestApplyEvent_TokenCreate_BlockedByLockdown(t *testing.T) {
	state := newTestState("gm1")
	state.Lockdown = true
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventTokenCreate, Payload: payload(t, map[string]interface{}{"id": "tok1"})}
	res := applyEvent(state, journal, spatial, "player1", evt)

	assert.False(t, res.changed)
	assert.Equal(t, EventError, res.event.Type)
	assert.NotContains(t, state.Tokens, "tok1")
}

func TestApplyEvent_TokenMove_RejectionIsSenderOnly(t *testing.T) {
	state := newTestState("gm1")
	state.Tokens["tok1"] = &Token{ID: "tok1", X: 1, Y: 1, OwnerID: "someone-else"}
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventTokenMove, Payload: payload(t, map[string]interface{}{"id": "tok1", "x": 5.0, "y": 5.0})}
	res := applyEvent(state, journal, spatial, "player1", evt)

	assert.False(t, res.changed)
	assert.False(t, res.broadcast, "a rejected move replies only to the sender, per the S3 scenario")
	assert.Equal(t, 1.0, state.Tokens["tok1"].X, "rejected move must not mutate state")
}

func TestApplyEvent_TokenMove_OwnerAllowedWithAllowPlayersMove(t *testing.T) {
	state := newTestState("gm1")
	state.AllowPlayersMove = true
	state.Tokens["tok1"] = &Token{ID: "tok1", X: 1, Y: 1, OwnerID: "player1"}
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventTokenMove, Payload: payload(t, map[string]interface{}{"id": "tok1", "x": 5.0, "y": 7.0})}
	res := applyEvent(state, journal, spatial, "player1", evt)

	assert.True(t, res.changed)
	assert.Equal(t, 5.0, state.Tokens["tok1"].X)
	assert.Equal(t, 7.0, state.Tokens["tok1"].Y)
}

func TestApplyEvent_StrokeAdd_RequiresTwoPoints(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventStrokeAdd, Payload: payload(t, map[string]interface{}{
		"id": "s1", "points": []map[string]float64{{"x": 0, "y": 0}},
	})}
	res := applyEvent(state, journal, spatial, "gm1", evt)

	assert.False(t, res.changed)
	assert.Equal(t, EventError, res.event.Type)
}

func TestApplyEvent_StrokeAdd_IndexesIntoSpatial(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventStrokeAdd, Payload: payload(t, map[string]interface{}{
		"id": "s1",
		"points": []map[string]float64{
			{"x": 0, "y": 0},
			{"x": 10, "y": 10},
		},
	})}
	res := applyEvent(state, journal, spatial, "gm1", evt)
	require.True(t, res.changed)

	result, err := spatial.QueryViewport(BoundingBox{X1: -1, Y1: -1, X2: 11, Y2: 11})
	require.NoError(t, err)
	assert.Contains(t, result.StrokeIDs, "s1")
}

func TestApplyEvent_EraseAt_RemovesHitStrokes(t *testing.T) {
	state := newTestState("gm1")
	state.Strokes["s1"] = &Stroke{ID: "s1", Points: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	state.AppendStrokeOrder("s1")
	journal := NewJournal()
	spatial := NewSpatialIndex()
	spatial.UpsertStroke("s1", state.Strokes["s1"])

	evt := &WireEvent{Type: EventEraseAt, Payload: payload(t, map[string]interface{}{"x": 0.0, "y": 0.0, "r": 5.0})}
	res := applyEvent(state, journal, spatial, "gm1", evt)

	assert.True(t, res.changed)
	assert.NotContains(t, state.Strokes, "s1")
	assert.NotContains(t, state.DrawOrder.Strokes, "s1")
}

func TestApplyEvent_EraseAt_BlockedByLockdownEvenForGM(t *testing.T) {
	state := newTestState("gm1")
	state.Lockdown = true
	state.Strokes["s1"] = &Stroke{ID: "s1", Points: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventEraseAt, Payload: payload(t, map[string]interface{}{"x": 0.0, "y": 0.0, "r": 5.0})}
	res := applyEvent(state, journal, spatial, "gm1", evt)

	assert.False(t, res.changed)
	assert.Equal(t, EventError, res.event.Type)
	assert.Contains(t, state.Strokes, "s1")
}

func TestApplyEvent_RoomSettings_GMOnly(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventRoomSettings, Payload: payload(t, map[string]interface{}{"lockdown": true})}
	res := applyEvent(state, journal, spatial, "player1", evt)

	assert.False(t, res.changed)
	assert.False(t, state.Lockdown)
}

func TestApplyEvent_UndoRestoresPriorState(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()

	create := &WireEvent{Type: EventTokenCreate, Payload: payload(t, map[string]interface{}{"id": "tok1", "x": 1.0, "y": 1.0})}
	applyEvent(state, journal, spatial, "gm1", create)
	require.Contains(t, state.Tokens, "tok1")

	res := applyEvent(state, journal, spatial, "gm1", &WireEvent{Type: EventUndo})
	assert.True(t, res.changed)
	assert.NotContains(t, state.Tokens, "tok1")
}

func TestApplyEvent_UndoRequiresGM(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()
	journal.Push(state)

	res := applyEvent(state, journal, spatial, "player1", &WireEvent{Type: EventUndo})
	assert.False(t, res.changed)
	assert.Equal(t, EventError, res.event.Type)
}

func TestApplyEvent_TokenSetSize_ClampsRange(t *testing.T) {
	state := newTestState("gm1")
	state.Tokens["tok1"] = &Token{ID: "tok1", SizeScale: 1.0}
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventTokenSetSize, Payload: payload(t, map[string]interface{}{"id": "tok1", "size_scale": 99.0})}
	res := applyEvent(state, journal, spatial, "gm1", evt)

	assert.True(t, res.changed)
	assert.Equal(t, 8.0, state.Tokens["tok1"].SizeScale)
}

func TestApplyEvent_TokenBadgeToggle_AddThenRemove(t *testing.T) {
	state := newTestState("gm1")
	state.Tokens["tok1"] = &Token{ID: "tok1"}
	journal := NewJournal()
	spatial := NewSpatialIndex()

	add := &WireEvent{Type: EventTokenBadgeToggle, Payload: payload(t, map[string]interface{}{"id": "tok1", "badge": "poisoned"})}
	applyEvent(state, journal, spatial, "gm1", add)
	assert.Equal(t, []string{"poisoned"}, state.Tokens["tok1"].Badges)

	remove := &WireEvent{Type: EventTokenBadgeToggle, Payload: payload(t, map[string]interface{}{"id": "tok1", "badge": "poisoned", "remove": true})}
	applyEvent(state, journal, spatial, "gm1", remove)
	assert.Empty(t, state.Tokens["tok1"].Badges)
}

func TestApplyEvent_UnknownEventType(t *testing.T) {
	state := newTestState("gm1")
	journal := NewJournal()
	spatial := NewSpatialIndex()

	res := applyEvent(state, journal, spatial, "gm1", &WireEvent{Type: "NOT_A_REAL_EVENT"})
	assert.False(t, res.changed)
	assert.Equal(t, EventError, res.event.Type)
}

func TestApplyEvent_UnknownPayloadFieldIsRejected(t *testing.T) {
	state := newTestState("gm1")
	state.Tokens["tok1"] = &Token{ID: "tok1", X: 1, Y: 1}
	journal := NewJournal()
	spatial := NewSpatialIndex()

	evt := &WireEvent{Type: EventTokenMove, Payload: payload(t, map[string]interface{}{
		"id": "tok1", "x": 5.0, "y": 5.0, "flaming_sword": true,
	})}
	res := applyEvent(state, journal, spatial, "gm1", evt)

	assert.False(t, res.changed)
	assert.False(t, res.broadcast)
	require.Equal(t, EventError, res.event.Type)
	assert.Equal(t, 1.0, state.Tokens["tok1"].X, "rejected-for-unknown-field must not mutate state")
}
