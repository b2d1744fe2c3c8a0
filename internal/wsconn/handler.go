package wsconn

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabletop-vtt/server/internal/authsvc"
	"github.com/tabletop-vtt/server/internal/config"
	"github.com/tabletop-vtt/server/internal/metrics"
	"github.com/tabletop-vtt/server/internal/room"
)

// Handler upgrades authenticated sockets and wires them to the room
// registry, implementing the admission sequence from SPEC_FULL §4.8.
type Handler struct {
	registry *room.RoomRegistry
	sessions *authsvc.SessionService
	cfg      *config.Config
}

// NewHandler returns a Handler bound to the given registry, session
// service and config.
func NewHandler(registry *room.RoomRegistry, sessions *authsvc.SessionService, cfg *config.Config) *Handler {
	return &Handler{registry: registry, sessions: sessions, cfg: cfg}
}

// ServeHTTP upgrades the request to a websocket, resolves the caller's
// identity from their session cookie, verifies room membership, and attaches
// the socket to the room. Missing/invalid auth or membership closes with
// policy-violation code 1008.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, roomID string) {
	user, err := h.sessions.UserFromRequest(r)
	if err != nil {
		closeWithPolicyViolation(w, r)
		return
	}

	ctx := r.Context()
	isMember, err := h.registry.Store().IsMember(ctx, user.UserID, roomID)
	if err != nil || !isMember {
		closeWithPolicyViolation(w, r)
		return
	}

	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("🔌 upgrade failed for room %s: %v", roomID, err)
		return
	}

	claimKey := r.URL.Query().Get("gm_key")
	conn := NewConn(ws, roomID, user.Username, h.cfg.TokenMoveRateLimit, h.cfg.EraseAtRateLimit)

	rm, attach, err := h.registry.Attach(ctx, roomID, conn, user.Username, user.UserID, claimKey)
	if err != nil {
		log.Printf("🏠 attach failed for room %s: %v", roomID, err)
		ws.Close()
		return
	}

	conn.Send(attach.Sync)
	conn.Send(attach.Hello)
	conn.Send(attach.Presence)

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	go conn.WritePump()
	conn.ReadPump(
		func(evt *room.WireEvent) { rm.Submit(conn, user.Username, evt) },
		func() { conn.Send(room.NewErrorEvent("rate limited")) },
	)
	rm.Detach(conn, user.Username)
}

// closeWithPolicyViolation upgrades just long enough to send close code
// 1008 (policy violation), per SPEC_FULL §6's close-code contract.
func closeWithPolicyViolation(w http.ResponseWriter, r *http.Request) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	ws.Close()
}
