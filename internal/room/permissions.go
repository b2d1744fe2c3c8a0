package room

// gmOnly lists the event types only the current GM may submit.
var gmOnly = map[EventType]bool{
	EventTokenDelete:  true,
	EventTokenAssign:  true,
	EventTokenSetLock: true,
	EventStrokeDelete: true,
	EventStrokeSetLock: true,
	EventShapeDelete:  true,
	EventShapeSetLock: true,
	EventEraseAt:      true,
	EventRoomSettings: true,
	EventUndo:         true,
	EventRedo:         true,
}

// lockdownBlocked lists event types a non-GM may never submit while the room
// is in lockdown, even if they would otherwise be allowed.
var lockdownBlocked = map[EventType]bool{
	EventTokenCreate:      true,
	EventTokenMove:        true,
	EventTokenRename:      true,
	EventTokenSetSize:     true,
	EventTokenBadgeToggle: true,
	EventStrokeAdd:        true,
	EventShapeAdd:         true,
}

// isGM reports whether clientID is the room's current GM session.
func isGM(state *RoomState, clientID string) bool {
	return clientID != "" && state.GMID == clientID
}

// canSubmit is the coarse gate applied before an event ever reaches its
// handler: is this event type allowed for this client at all, ignoring
// per-entity detail like token ownership (that's canMoveToken).
func canSubmit(state *RoomState, clientID string, t EventType) bool {
	gm := isGM(state, clientID)
	if gmOnly[t] {
		return gm
	}
	if !gm && state.Lockdown && lockdownBlocked[t] {
		return false
	}
	return true
}

// canMoveToken governs TOKEN_MOVE and, per SPEC_FULL §4.6, the rename/resize/
// badge-toggle mutations that follow the same authority as moving the token.
func canMoveToken(state *RoomState, clientID string, tok *Token) bool {
	if isGM(state, clientID) {
		return true
	}
	if state.Lockdown {
		return false
	}
	if tok.Locked {
		return false
	}
	if state.AllowAllMove {
		return true
	}
	if state.AllowPlayersMove && tok.OwnerID == clientID {
		return true
	}
	return false
}
