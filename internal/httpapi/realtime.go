package httpapi

import (
	"context"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"

	"github.com/matunokihanten/noda/internal/hub"
)

const (
	sendBuffer     = 32
	maxMessageSize = 8 << 10
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

func newClient() *hub.Client {
	return &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}
}

// sockJSHandler serves viewers that connect through the SockJS client,
// which falls back to HTTP streaming where websockets are blocked.
func (h *Handler) sockJSHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := newClient()
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			h.hub.HandleMessage(context.Background(), client, []byte(msg))
		}
	})
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.allowedOrigins, origin)
}

// handleWebSocket serves viewers that speak plain websockets.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	client := newClient()
	h.hub.Register(client)
	go writePump(conn, client)
	defer h.hub.Unregister(client)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read failed client=%s err=%v", client.ID, err)
			}
			return
		}
		h.hub.HandleMessage(r.Context(), client, msg)
	}
}

// writePump owns all writes to conn. It exits when the hub closes the
// client's send channel or a write fails.
func writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
