package handler

import (
	"log/slog"
	"net/http"

	"go-file-transfer/internal/websocket"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve upgrades GET /api/v1/ws. The client then receives task events for
// the tasks it may see.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if err := h.hub.Serve(w, r, actor); err != nil {
		// The upgrader has already answered the request.
		slog.Debug("websocket upgrade failed", "user", actor.Username, "error", err)
	}
}
