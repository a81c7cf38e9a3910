package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/notify"
	"github.com/dmitrijs2005/wagate/internal/server/auth"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter serializes writes between the hub's writer goroutine and the
// ping loop.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

type WebSocketHandler struct {
	deps Deps
}

// Serve joins the caller to the notification room of one of their devices.
// The token comes from the token query parameter or the bearer header, the
// device from id_device.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c)
	}
	userID, err := auth.GetUserIDFromToken(token, h.deps.SecretKey)
	if err != nil {
		fail(c, http.StatusUnauthorized, "Invalid authentication token")
		return
	}
	c.Set(userIDContextKey, userID)

	device := ownedDevice(c, h.deps, c.Query("id_device"))
	if device == nil {
		return
	}
	room := h.deps.IDs.Encode(device.ID)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	writer := &wsWriter{conn: ws}
	hello, _ := json.Marshal(notify.Envelope{Event: "connected", IDDevice: room, Data: gin.H{"id_device": room}})
	if err := writer.Write(hello); err != nil {
		_ = ws.Close()
		return
	}

	conn := &notify.Connection{Room: room, Writer: writer}
	h.deps.Hub.Register(conn)
	defer func() {
		h.deps.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	// The channel is server to client; reads only detect the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
