// Package httpapi is the REST surface around rooms: creation, invites,
// snapshots, asset uploads and viewport queries, plus the websocket mount
// and health check. Routing follows the teacher's api/room_handlers.go and
// handlers.go, rehomed onto gorilla/mux so path params don't need manual
// TrimPrefix/TrimSuffix surgery.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/tabletop-vtt/server/internal/assets"
	"github.com/tabletop-vtt/server/internal/authsvc"
	"github.com/tabletop-vtt/server/internal/room"
	"github.com/tabletop-vtt/server/internal/storepg"
	"github.com/tabletop-vtt/server/internal/wsconn"
)

// API wires the room store, registry, session service and asset store into
// HTTP handlers.
type API struct {
	store    *storepg.Store
	registry *room.RoomRegistry
	sessions *authsvc.SessionService
	assets   *assets.Store
	db       *sql.DB
	cache    *redis.Client
	ws       *wsconn.Handler
}

// New builds an API. assetStore may be nil when no S3 bucket is configured,
// in which case asset-upload routes answer 501.
func New(store *storepg.Store, registry *room.RoomRegistry, sessions *authsvc.SessionService, assetStore *assets.Store, db *sql.DB, cache *redis.Client, ws *wsconn.Handler) *API {
	return &API{store: store, registry: registry, sessions: sessions, assets: assetStore, db: db, cache: cache, ws: ws}
}

// Router builds the full mux for the server, including the websocket mount.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/anonymous", a.handleAnonymous).Methods(http.MethodPost)

	r.HandleFunc("/api/rooms", a.handleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{roomID}", a.handleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{roomID}/join", a.handleJoinRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{roomID}/invite", a.handleCreateInvite).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{roomID}/transfer-owner", a.handleTransferOwner).Methods(http.MethodPost)
	r.HandleFunc("/api/invites/{code}/redeem", a.handleRedeemInvite).Methods(http.MethodPost)

	r.HandleFunc("/api/rooms/{roomID}/snapshots", a.handleListSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{roomID}/snapshots", a.handleCreateSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{roomID}/snapshots/{snapshotID}/restore", a.handleRestoreSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{roomID}/export", a.handleExportRoom).Methods(http.MethodGet)

	r.HandleFunc("/api/rooms/{roomID}/viewport", a.handleViewportQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{roomID}/assets", a.handleUploadAsset).Methods(http.MethodPost)

	r.HandleFunc("/ws/{roomID}", a.handleWebSocket)

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if err := a.db.PingContext(r.Context()); err != nil {
		status = "db unhealthy"
		code = http.StatusServiceUnavailable
	} else if _, err := a.cache.Ping(r.Context()).Result(); err != nil {
		status = "redis unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status": status,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := a.sessions.Register(r.Context(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		http.Error(w, "registration failed", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := a.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	a.sessions.SetSessionCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	user, token, err := a.sessions.LoginAnonymous(r.Context())
	if err != nil {
		http.Error(w, "could not create guest session", http.StatusInternalServerError)
		return
	}
	a.sessions.SetSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user, err := a.sessions.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := generateRoomID()
	if err := a.store.CreateRoom(r.Context(), roomID, user.UserID); err != nil {
		log.Printf("📦 create room failed: %v", err)
		http.Error(w, "could not create room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"room_id":    roomID,
		"invite_url": fmt.Sprintf("http://%s/api/rooms/%s/join", r.Host, roomID),
	})
}

func (a *API) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	state, found, err := a.store.LoadRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state.Public())
}

func (a *API) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	user, err := a.sessions.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := a.store.AddMember(r.Context(), user.UserID, roomID); err != nil {
		http.Error(w, "could not join room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID, "user_id": user.UserID})
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	code, err := a.store.CreateInviteLink(r.Context(), roomID)
	if err != nil {
		log.Printf("✉️ create invite failed: %v", err)
		http.Error(w, "could not create invite", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"invite_code": code,
		"invite_url":  fmt.Sprintf("http://%s/api/invites/%s/redeem", r.Host, code),
	})
}

func (a *API) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	user, err := a.sessions.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	roomID, err := a.store.RedeemInviteLink(r.Context(), code)
	if err != nil {
		http.Error(w, "invalid or expired invite", http.StatusNotFound)
		return
	}
	if err := a.store.AddMember(r.Context(), user.UserID, roomID); err != nil {
		http.Error(w, "could not join room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID, "user_id": user.UserID})
}

func (a *API) handleTransferOwner(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	user, err := a.sessions.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		NewOwnerID string `json:"new_owner_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.store.TransferOwner(r.Context(), roomID, user.UserID, req.NewOwnerID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	// Force the live room (if any) to reload ownership from the store on its
	// next materialization instead of keeping the old owner authorized in memory.
	a.registry.Drop(roomID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (a *API) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	snaps, err := a.store.ListSnapshots(r.Context(), roomID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (a *API) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	state, found, err := a.store.LoadRoom(r.Context(), roomID)
	if err != nil || !found {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	label := r.URL.Query().Get("label")
	snapshotID, err := a.store.CreateSnapshot(r.Context(), roomID, label, state)
	if err != nil {
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"snapshot_id": snapshotID})
}

func (a *API) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID, snapshotID := vars["roomID"], vars["snapshotID"]
	state, found, err := a.store.LoadSnapshot(r.Context(), snapshotID)
	if err != nil || !found {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}
	if current, found, err := a.store.LoadRoom(r.Context(), roomID); err == nil && found {
		if _, err := a.store.CreateSnapshot(r.Context(), roomID, "auto-before-restore", current); err != nil {
			http.Error(w, "restore failed", http.StatusInternalServerError)
			return
		}
	}
	if err := a.store.SaveRoom(r.Context(), state); err != nil {
		http.Error(w, "restore failed", http.StatusInternalServerError)
		return
	}
	a.registry.Drop(roomID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (a *API) handleExportRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	state, found, err := a.store.LoadRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", roomID))
	writeJSON(w, http.StatusOK, state.Public())
}

func (a *API) handleViewportQuery(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	user, err := a.sessions.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if isMember, err := a.store.IsMember(r.Context(), user.UserID, roomID); err != nil || !isMember {
		http.Error(w, "not a member of this room", http.StatusForbidden)
		return
	}
	if !a.registry.IsActive(roomID) {
		http.Error(w, "room not active", http.StatusNotFound)
		return
	}
	rm, err := a.registry.Get(r.Context(), roomID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	box, ok := parseViewport(r)
	if !ok {
		http.Error(w, "viewport bounds (x1,y1,x2,y2) required", http.StatusBadRequest)
		return
	}
	result, err := rm.QueryViewport(box)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUploadAsset(w http.ResponseWriter, r *http.Request) {
	if a.assets == nil {
		http.Error(w, "asset storage not configured", http.StatusNotImplemented)
		return
	}
	roomID := mux.Vars(r)["roomID"]
	if err := assets.ValidateUpload(r); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	assetID := generateRoomID()
	filename := r.URL.Query().Get("filename")
	contentType := r.Header.Get("Content-Type")
	url, err := a.assets.Upload(roomID, assetID, filename, contentType, body)
	if err != nil {
		log.Printf("🖼️ asset upload failed: %v", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"asset_id": assetID, "url": url})
}

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	a.ws.ServeHTTP(w, r, roomID)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func generateRoomID() string {
	return fmt.Sprintf("room_%d", time.Now().UnixNano())
}

func parseViewport(r *http.Request) (room.BoundingBox, bool) {
	q := r.URL.Query()
	x1, err1 := strconv.ParseFloat(q.Get("x1"), 64)
	y1, err2 := strconv.ParseFloat(q.Get("y1"), 64)
	x2, err3 := strconv.ParseFloat(q.Get("x2"), 64)
	y2, err4 := strconv.ParseFloat(q.Get("y2"), 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return room.BoundingBox{}, false
	}
	return room.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, true
}
