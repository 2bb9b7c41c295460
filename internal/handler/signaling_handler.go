package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/service"
	"github.com/psds-microservice/homecam-relay/pkg/constants"
)

// maxSignalSize caps one signaling frame; SDP offers stay well below it.
const maxSignalSize = 64 * 1024

// SignalingHandler serves the control socket at /ws/signaling/:user_id.
type SignalingHandler struct {
	hub      *service.SignalingHub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewSignalingHandler creates the signaling WebSocket handler.
func NewSignalingHandler(hub *service.SignalingHub, readBuf, writeBuf int, logger *zap.Logger) *SignalingHandler {
	return &SignalingHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeWS handles GET /ws/signaling/:user_id.
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	// шлюз, проставляющий X-User-ID, не даёт подключиться под чужим id
	if hdr := c.GetHeader(constants.HeaderUserID); hdr != "" && hdr != userID {
		h.logger.Warn("signaling identity mismatch", zap.String("path_user_id", userID), zap.String("header_user_id", hdr))
		c.JSON(http.StatusForbidden, gin.H{"error": errs.CodeAccessDenied, "message": "user_id does not match " + constants.HeaderUserID})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxSignalSize)

	client, cleanup := h.hub.Connect(userID)
	defer cleanup()

	// контекст живёт до закрытия сокета, а не до конца HTTP-запроса
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.writePump(conn, client)
	h.readPump(ctx, conn, client)
}

func (h *SignalingHandler) readPump(ctx context.Context, conn *websocket.Conn, client *service.Client) {
	armReadDeadline(conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("signaling read error", zap.String("user_id", client.UserID), zap.Error(err))
			}
			return
		}
		h.hub.Dispatch(ctx, client, raw)
	}
}

func (h *SignalingHandler) writePump(conn *websocket.Conn, client *service.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				closeWith(conn, websocket.CloseNormalClosure, "")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
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
