package handlers

import (
	"net/http"

	"botdash/internal/websocket"
)

// WebSocketHandler подключает браузер к потоку событий
//
// После подключения клиент шлет {"action":"watch","bot_id":"..."} и получает
// botStatus сообщения только для своих ботов; notification - всем.
type WebSocketHandler struct {
	hub *websocket.Hub
}

// NewWebSocketHandler создает WebSocketHandler
func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// ServeWS - GET /ws/stream
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}
	websocket.ServeWS(h.hub, w, r, userID)
}
