package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/podiumlabs/podium/internal/auth"
	"github.com/podiumlabs/podium/internal/store"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The session cookie alone decides privilege; viewers connect from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket upgrades the request, resolves the connection's role from
// the session cookie, and pumps inbound messages through the dispatcher until
// the socket closes.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	role := store.RoleViewer
	if subject, err := h.validator.ValidateRequest(c.Request); err == nil && subject == auth.SubjectPresenter {
		role = store.RolePresenter
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID := uuid.NewString()
	ctx := c.Request.Context()

	h.peers.Register(connectionID, conn)
	if err := h.dispatcher.Join(ctx, connectionID, role); err != nil {
		h.logger.Error("join failed", zap.String("connection_id", connectionID), zap.Error(err))
		h.peers.Unregister(connectionID)
		conn.Close()
		return
	}

	stopPing := make(chan struct{})
	go h.pingLoop(connectionID, stopPing)

	defer func() {
		close(stopPing)
		h.peers.Unregister(connectionID)
		conn.Close()
		// The request context dies with the socket; cleanup gets its own.
		if err := h.dispatcher.Leave(context.Background(), connectionID); err != nil {
			h.logger.Error("leave failed", zap.String("connection_id", connectionID), zap.Error(err))
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended",
					zap.String("connection_id", connectionID),
					zap.Error(err))
			}
			return
		}

		ack, err := h.dispatcher.Dispatch(ctx, connectionID, message)
		if err != nil {
			h.logger.Error("dispatch failed",
				zap.String("connection_id", connectionID),
				zap.Error(err))
			continue
		}
		h.logger.Debug("event handled",
			zap.String("connection_id", connectionID),
			zap.String("ack", string(ack)))
	}
}

func (h *httpHandler) pingLoop(connectionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.peers.Ping(connectionID); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
