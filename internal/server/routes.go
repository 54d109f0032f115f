package server

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/huddle/internal/hub"
	"github.com/BioHazard786/huddle/internal/protocol"
)

// NewUpgrader returns a websocket upgrader that accepts the given origins.
// An empty list allows every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			// Non-browser clients send no origin.
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
}

// ServeWs returns an http.HandlerFunc that upgrades GET /ws/{roomID} and
// hands the connection to the hub. The room is fixed for the lifetime of the
// connection.
func ServeWs(h *hub.Hub, upgrader *websocket.Upgrader) http.HandlerFunc {
	log := slog.With("component", "server")

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimSpace(r.PathValue("roomID"))
		if protocol.ValidateRoomID(roomID) != nil {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			log.Debug("upgrade failed", "room", roomID, "remote", r.RemoteAddr, "error", err)
			return
		}

		client := hub.NewClient(h, conn, roomID)
		if !h.Register(client) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			conn.Close()
			return
		}

		// The pumps own the connection from here on.
		go client.WritePump()
		go client.ReadPump()
	}
}

// healthCheckHandler reports that the process is serving.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Room server is healthy."))
}

// NewMux registers every route the room server exposes.
func NewMux(h *hub.Hub, allowedOrigins []string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("GET /ws/{roomID}", ServeWs(h, NewUpgrader(allowedOrigins)))
	return mux
}
