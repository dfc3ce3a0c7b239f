package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultAuthTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 20 * time.Second
)

// PushConfig tunes the push endpoint timeouts.
type PushConfig struct {
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c PushConfig) withDefaults() PushConfig {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Push tokens, not cookies, authenticate the socket, so any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket authenticates the first frame and then streams the
// account's notifications until either side goes away.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(h.push.AuthTimeout))
	var frame dispatch.SocketAuth
	if err := ws.ReadJSON(&frame); err != nil {
		h.logger.Info("websocket auth frame missing", zap.Error(err))
		h.closeSocket(ws, websocket.ClosePolicyViolation, "auth frame required")
		return
	}
	claims, err := h.socketVerifier.ValidateToken(frame.AuthToken)
	if err != nil {
		h.logger.Info("websocket token rejected", zap.Error(err))
		h.closeSocket(ws, websocket.ClosePolicyViolation, "invalid token")
		return
	}
	ws.SetReadDeadline(time.Time{})

	ws.SetWriteDeadline(time.Now().Add(h.push.WriteTimeout))
	if err := ws.WriteJSON(dispatch.Notification{ActionType: dispatch.ActionSocketAuthenticated}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.realtime.Subscribe(ctx, claims.UserID)
	defer cleanup()

	h.logger.Debug("websocket connected", zap.Int64("user_id", claims.UserID), zap.String("session", claims.ID))

	// The client never sends after authenticating; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.push.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeSocket(ws, websocket.CloseGoingAway, "")
			return
		case notification, ok := <-stream:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(h.push.WriteTimeout))
			if err := ws.WriteJSON(notification); err != nil {
				h.logger.Info("websocket write failed", zap.Int64("user_id", claims.UserID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.push.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *httpHandler) closeSocket(ws *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(h.push.WriteTimeout))
}
