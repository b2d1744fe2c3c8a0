package room

import (
	"fmt"
	"strings"
	"time"
)

const eraserHitRadiusDefault = 12.0

// knownPayloadKeys is the closed set of payload fields each event type
// accepts. A field outside this set is rejected with ERROR rather than
// silently ignored, per SPEC_FULL §6 ("unknown fields in inbound events
// cause ERROR").
var knownPayloadKeys = map[EventType]map[string]bool{
	EventHeartbeat: {},
	EventReqSync:   {},
	EventUndo:      {},
	EventRedo:      {},

	EventTokenCreate:      {"id": true, "x": true, "y": true, "name": true, "color": true, "locked": true},
	EventTokenMove:        {"id": true, "x": true, "y": true, "commit": true},
	EventTokenDelete:      {"id": true},
	EventTokenAssign:      {"id": true, "owner_id": true},
	EventTokenSetLock:     {"id": true, "locked": true},
	EventTokenRename:      {"id": true, "name": true},
	EventTokenSetSize:     {"id": true, "size_scale": true, "commit": true},
	EventTokenBadgeToggle: {"id": true, "badge": true, "remove": true},

	EventStrokeAdd:     {"id": true, "points": true, "color": true, "width": true, "locked": true, "layer": true},
	EventStrokeDelete:  {"id": true, "ids": true},
	EventStrokeSetLock: {"id": true, "locked": true},

	EventEraseAt: {"x": true, "y": true, "r": true, "erase_shapes": true},

	EventShapeAdd:     {"id": true, "type": true, "x1": true, "y1": true, "x2": true, "y2": true, "color": true, "width": true, "fill": true, "locked": true, "layer": true},
	EventShapeDelete:  {"id": true},
	EventShapeSetLock: {"id": true, "locked": true},

	EventRoomSettings: {"allow_players_move": true, "allow_all_move": true, "lockdown": true, "background_url": true, "layer_visibility": true},
}

// validatePayloadKeys rejects any payload field outside evt's known set.
// Event types with no entry here (there are none left unhandled by the
// dispatch below) fall through unchecked rather than panic.
func validatePayloadKeys(t EventType, p map[string]interface{}) error {
	allowed, ok := knownPayloadKeys[t]
	if !ok {
		return nil
	}
	for k := range p {
		if !allowed[k] {
			return fmt.Errorf("unexpected field %q in %s payload", k, t)
		}
	}
	return nil
}

// applyResult carries the handler's outcome back to the Room actor: which
// event to send, and whether it goes to everyone or just the submitter.
type applyResult struct {
	event     *WireEvent
	broadcast bool
	changed   bool // true if state was mutated (drives dirty-mark + presence re-broadcast)
}

func toSender(evt *WireEvent) applyResult    { return applyResult{event: evt, broadcast: false} }
func toRoom(evt *WireEvent) applyResult      { return applyResult{event: evt, broadcast: true} }
func mutated(r applyResult) applyResult      { r.changed = true; return r }

// applyEvent is the pure dispatcher: given the current state, journal and
// spatial index, decide what an inbound event does. It has no knowledge of
// sockets, stores or timers, which is what makes it unit-testable without an
// actor loop.
func applyEvent(state *RoomState, journal *Journal, spatial *SpatialIndex, clientID string, evt *WireEvent) applyResult {
	p := make(map[string]interface{})
	_ = decodePayload(evt.Payload, &p)

	if err := validatePayloadKeys(evt.Type, p); err != nil {
		return toSender(errorEvent(err.Error()))
	}

	switch evt.Type {
	case EventHeartbeat:
		return toSender(eventWithPayload(EventHeartbeat, map[string]float64{"ts": float64(time.Now().UnixMilli())}))

	case EventReqSync:
		return toSender(eventWithPayload(EventStateSync, state.Public()))

	case EventUndo:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can undo"))
		}
		prev, ok := journal.Undo(state)
		if !ok {
			return toSender(errorEvent("Nothing to undo"))
		}
		version := state.Version
		*state = *prev
		state.Version = version
		state.NormalizeOrder()
		if spatial != nil {
			spatial.RebuildFromState(state)
		}
		return mutated(toRoom(eventWithPayload(EventStateSync, state.Public())))

	case EventRedo:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can redo"))
		}
		next, ok := journal.Redo(state)
		if !ok {
			return toSender(errorEvent("Nothing to redo"))
		}
		version := state.Version
		*state = *next
		state.Version = version
		state.NormalizeOrder()
		if spatial != nil {
			spatial.RebuildFromState(state)
		}
		return mutated(toRoom(eventWithPayload(EventStateSync, state.Public())))

	case EventTokenCreate:
		if !canSubmit(state, clientID, evt.Type) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		id, _ := p["id"].(string)
		if id == "" {
			return toSender(errorEvent("Invalid token"))
		}
		journal.Push(state)
		tok := &Token{
			ID:        id,
			X:         toFloat(p["x"]),
			Y:         toFloat(p["y"]),
			Name:      stringOr(p["name"], "Token"),
			Color:     stringOr(p["color"], "#ffffff"),
			SizeScale: 1.0,
			Locked:    boolOr(p["locked"], false),
		}
		state.Tokens[id] = tok
		return mutated(toRoom(evt))

	case EventTokenMove:
		id, _ := p["id"].(string)
		tok, ok := state.Tokens[id]
		if !ok {
			return toSender(errorEvent("Unknown token"))
		}
		if !canMoveToken(state, clientID, tok) {
			return toSender(eventWithPayload(EventTokenMove, map[string]interface{}{
				"id": id, "x": tok.X, "y": tok.Y, "rejected": true, "reason": "Not allowed",
			}))
		}
		if boolOr(p["commit"], false) {
			journal.Push(state)
		}
		tok.X = toFloatOr(p["x"], tok.X)
		tok.Y = toFloatOr(p["y"], tok.Y)
		return mutated(toRoom(evt))

	case EventTokenDelete:
		if state.Lockdown && !isGM(state, clientID) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		id, _ := p["id"].(string)
		if _, ok := state.Tokens[id]; !ok {
			return toSender(errorEvent("Unknown token"))
		}
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can delete tokens"))
		}
		journal.Push(state)
		delete(state.Tokens, id)
		return mutated(toRoom(evt))

	case EventTokenAssign:
		id, _ := p["id"].(string)
		tok, ok := state.Tokens[id]
		if !ok {
			return toSender(errorEvent("Unknown token"))
		}
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can assign tokens"))
		}
		journal.Push(state)
		ownerID, _ := p["owner_id"].(string)
		tok.OwnerID = ownerID
		return mutated(toRoom(evt))

	case EventTokenSetLock:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can lock tokens"))
		}
		id, _ := p["id"].(string)
		tok, ok := state.Tokens[id]
		if !ok {
			return toSender(errorEvent("Unknown token"))
		}
		journal.Push(state)
		tok.Locked = boolOr(p["locked"], false)
		return mutated(toRoom(eventWithPayload(EventTokenSetLock, map[string]interface{}{"id": id, "locked": tok.Locked})))

	case EventTokenRename:
		id, _ := p["id"].(string)
		tok, ok := state.Tokens[id]
		if !ok {
			return toSender(errorEvent("Unknown token"))
		}
		if !canMoveToken(state, clientID, tok) {
			return toSender(errorEvent("Not allowed"))
		}
		if !canSubmit(state, clientID, evt.Type) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		name := strings.TrimSpace(stringOr(p["name"], tok.Name))
		if len(name) > 80 {
			name = name[:80]
		}
		journal.Push(state)
		tok.Name = name
		return mutated(toRoom(eventWithPayload(EventTokenRename, map[string]interface{}{"id": id, "name": name})))

	case EventTokenSetSize:
		id, _ := p["id"].(string)
		tok, ok := state.Tokens[id]
		if !ok {
			return toSender(errorEvent("Unknown token"))
		}
		if !canMoveToken(state, clientID, tok) {
			return toSender(errorEvent("Not allowed"))
		}
		if !canSubmit(state, clientID, evt.Type) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		scale := clamp(toFloatOr(p["size_scale"], tok.SizeScale), 0.1, 8.0)
		if boolOr(p["commit"], false) {
			journal.Push(state)
		}
		tok.SizeScale = scale
		return mutated(toRoom(eventWithPayload(EventTokenSetSize, map[string]interface{}{"id": id, "size_scale": scale, "commit": boolOr(p["commit"], false)})))

	case EventTokenBadgeToggle:
		id, _ := p["id"].(string)
		tok, ok := state.Tokens[id]
		if !ok {
			return toSender(errorEvent("Unknown token"))
		}
		if !canMoveToken(state, clientID, tok) {
			return toSender(errorEvent("Not allowed"))
		}
		if !canSubmit(state, clientID, evt.Type) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		badge, _ := p["badge"].(string)
		if badge == "" {
			return toSender(errorEvent("Invalid badge"))
		}
		journal.Push(state)
		if boolOr(p["remove"], false) {
			tok.Badges = removeFirst(tok.Badges, badge)
		} else {
			tok.Badges = append(tok.Badges, badge)
		}
		return mutated(toRoom(eventWithPayload(EventTokenBadgeToggle, map[string]interface{}{"id": id, "badges": tok.Badges})))

	case EventStrokeAdd:
		if !canSubmit(state, clientID, evt.Type) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		id, _ := p["id"].(string)
		ptsRaw, _ := p["points"].([]interface{})
		if id == "" || len(ptsRaw) < 2 {
			return toSender(errorEvent("Invalid stroke"))
		}
		points := make([]Point, 0, len(ptsRaw))
		for _, raw := range ptsRaw {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if _, hasX := m["x"]; !hasX {
				continue
			}
			if _, hasY := m["y"]; !hasY {
				continue
			}
			points = append(points, Point{X: toFloat(m["x"]), Y: toFloat(m["y"])})
		}
		if len(points) < 2 {
			return toSender(errorEvent("Stroke too short"))
		}
		layer := stringOr(p["layer"], LayerDraw)
		if layer != LayerMap && layer != LayerDraw && layer != LayerNotes {
			layer = LayerDraw
		}
		journal.Push(state)
		stroke := &Stroke{
			ID:     id,
			Points: points,
			Color:  stringOr(p["color"], "#ffffff"),
			Width:  toFloatOr(p["width"], 3.0),
			Locked: boolOr(p["locked"], false),
			Layer:  layer,
		}
		state.Strokes[id] = stroke
		state.AppendStrokeOrder(id)
		if spatial != nil {
			spatial.UpsertStroke(id, stroke)
		}
		return mutated(toRoom(eventWithPayload(EventStrokeAdd, stroke)))

	case EventStrokeDelete:
		if state.Lockdown {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can delete strokes"))
		}
		ids := idList(p)
		var existing []string
		for _, id := range ids {
			if _, ok := state.Strokes[id]; ok {
				existing = append(existing, id)
			}
		}
		if len(existing) == 0 {
			return toRoom(eventWithPayload(EventStrokeDelete, map[string]interface{}{"ids": []string{}}))
		}
		journal.Push(state)
		for _, id := range existing {
			delete(state.Strokes, id)
			state.RemoveStrokeOrder(id)
			if spatial != nil {
				spatial.Remove(id, "stroke")
			}
		}
		return mutated(toRoom(eventWithPayload(EventStrokeDelete, map[string]interface{}{"ids": existing})))

	case EventStrokeSetLock:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can lock strokes"))
		}
		id, _ := p["id"].(string)
		stroke, ok := state.Strokes[id]
		if !ok {
			return toSender(errorEvent("Unknown stroke"))
		}
		journal.Push(state)
		stroke.Locked = boolOr(p["locked"], false)
		return mutated(toRoom(eventWithPayload(EventStrokeSetLock, map[string]interface{}{"id": id, "locked": stroke.Locked})))

	case EventEraseAt:
		if state.Lockdown {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can erase"))
		}
		cx, cy := toFloat(p["x"]), toFloat(p["y"])
		r := toFloatOr(p["r"], eraserHitRadiusDefault)
		eraseShapes := boolOr(p["erase_shapes"], false)

		var hitter EraseHitTester
		strokeIDs := hitter.Strokes(state, cx, cy, r)
		var shapeIDs []string
		if eraseShapes {
			shapeIDs = hitter.Shapes(state, cx, cy, r)
		}
		if len(strokeIDs) == 0 && len(shapeIDs) == 0 {
			return toRoom(eventWithPayload(EventEraseAt, map[string]interface{}{"stroke_ids": []string{}, "shape_ids": []string{}}))
		}
		journal.Push(state)
		for _, id := range strokeIDs {
			delete(state.Strokes, id)
			state.RemoveStrokeOrder(id)
			if spatial != nil {
				spatial.Remove(id, "stroke")
			}
		}
		for _, id := range shapeIDs {
			delete(state.Shapes, id)
			state.RemoveShapeOrder(id)
			if spatial != nil {
				spatial.Remove(id, "shape")
			}
		}
		return mutated(toRoom(eventWithPayload(EventEraseAt, map[string]interface{}{"stroke_ids": strokeIDs, "shape_ids": shapeIDs})))

	case EventShapeAdd:
		if !canSubmit(state, clientID, evt.Type) {
			return toSender(errorEvent("Lockdown is enabled"))
		}
		id, _ := p["id"].(string)
		shapeType, _ := p["type"].(string)
		if shapeType != ShapeRect && shapeType != ShapeCircle && shapeType != ShapeLine {
			return toSender(errorEvent("Invalid shape type"))
		}
		if id == "" {
			return toSender(errorEvent("Invalid shape"))
		}
		layer := stringOr(p["layer"], LayerDraw)
		if layer != LayerMap && layer != LayerDraw && layer != LayerNotes {
			layer = LayerDraw
		}
		journal.Push(state)
		shape := &Shape{
			ID:     id,
			Type:   shapeType,
			X1:     toFloat(p["x1"]),
			Y1:     toFloat(p["y1"]),
			X2:     toFloat(p["x2"]),
			Y2:     toFloat(p["y2"]),
			Color:  stringOr(p["color"], "#ffffff"),
			Width:  toFloatOr(p["width"], 3.0),
			Fill:   boolOr(p["fill"], false),
			Locked: boolOr(p["locked"], false),
			Layer:  layer,
		}
		state.Shapes[id] = shape
		state.AppendShapeOrder(id)
		if spatial != nil {
			spatial.UpsertShape(id, shape)
		}
		return mutated(toRoom(eventWithPayload(EventShapeAdd, shape)))

	case EventShapeSetLock:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can lock shapes"))
		}
		id, _ := p["id"].(string)
		shape, ok := state.Shapes[id]
		if !ok {
			return toSender(errorEvent("Unknown shape"))
		}
		journal.Push(state)
		shape.Locked = boolOr(p["locked"], false)
		return mutated(toRoom(eventWithPayload(EventShapeSetLock, map[string]interface{}{"id": id, "locked": shape.Locked})))

	case EventShapeDelete:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can delete shapes"))
		}
		id, _ := p["id"].(string)
		if _, ok := state.Shapes[id]; ok {
			journal.Push(state)
			delete(state.Shapes, id)
			state.RemoveShapeOrder(id)
			if spatial != nil {
				spatial.Remove(id, "shape")
			}
			return mutated(toRoom(eventWithPayload(EventShapeDelete, map[string]interface{}{"id": id})))
		}
		return toRoom(eventWithPayload(EventShapeDelete, map[string]interface{}{"id": id}))

	case EventRoomSettings:
		if !isGM(state, clientID) {
			return toSender(errorEvent("Only GM can change room settings"))
		}
		journal.Push(state)
		if v, ok := p["allow_players_move"]; ok {
			state.AllowPlayersMove = boolOr(v, state.AllowPlayersMove)
		}
		if v, ok := p["allow_all_move"]; ok {
			state.AllowAllMove = boolOr(v, state.AllowAllMove)
		}
		if v, ok := p["lockdown"]; ok {
			state.Lockdown = boolOr(v, state.Lockdown)
		}
		if v, ok := p["background_url"]; ok {
			state.BackgroundURL, _ = v.(string)
		}
		if v, ok := p["layer_visibility"].(map[string]interface{}); ok {
			for k, val := range v {
				if _, known := state.LayerVisibility[k]; known {
					state.LayerVisibility[k] = boolOr(val, state.LayerVisibility[k])
				}
			}
		}
		return mutated(toRoom(eventWithPayload(EventRoomSettings, map[string]interface{}{
			"allow_players_move": state.AllowPlayersMove,
			"allow_all_move":     state.AllowAllMove,
			"lockdown":           state.Lockdown,
			"background_url":     state.BackgroundURL,
			"layer_visibility":   state.LayerVisibility,
		})))

	default:
		return toSender(errorEvent("Unhandled event type: " + string(evt.Type)))
	}
}

func idList(p map[string]interface{}) []string {
	if raw, ok := p["ids"].([]interface{}); ok {
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if id, ok := p["id"].(string); ok && id != "" {
		return []string{id}
	}
	return nil
}

func removeFirst(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(append([]string{}, list[:i]...), list[i+1:]...)
		}
	}
	return list
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func toFloatOr(v interface{}, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func boolOr(v interface{}, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
