package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/service"
	"github.com/psds-microservice/homecam-relay/internal/token"
)

// admissionReason is the only close reason a rejected socket ever sees.
const admissionReason = "policy violation"

// StreamWSHandler handles media relay sockets: ws://host:port?type=..&cameraId=..&ts=..&token=..
type StreamWSHandler struct {
	hub    service.StreamHubForHandler
	tokens *token.HMACService
	logger *zap.Logger
}

// NewStreamWSHandler creates the media WebSocket handler.
func NewStreamWSHandler(hub service.StreamHubForHandler, tokens *token.HMACService, logger *zap.Logger) *StreamWSHandler {
	return &StreamWSHandler{hub: hub, tokens: tokens, logger: logger}
}

// ServeWS upgrades first and checks admission after, so a rejected client receives a 1008 close frame.
func (h *StreamWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	claim := service.ClaimFromQuery(c.Request.URL.Query())
	if !h.tokens.Verify(claim) {
		h.reject(conn, claim, errs.ErrInvalidToken)
		return
	}

	var (
		peer    *service.Peer
		cleanup func()
	)
	switch claim.Role {
	case token.RolePublisher:
		peer, cleanup = h.hub.RegisterPublisher(claim.CameraID, conn)
	case token.RoleViewer:
		peer, cleanup, err = h.hub.RegisterViewer(claim.CameraID, claim.ViewerID, conn)
		if err != nil {
			h.reject(conn, claim, err)
			return
		}
	}
	h.hub.Metrics().Admitted()
	defer cleanup()

	go h.writePump(peer)
	h.readPump(peer)
}

func (h *StreamWSHandler) reject(conn *websocket.Conn, claim token.Claim, err error) {
	h.hub.Metrics().Rejected()
	h.logger.Info("media socket rejected",
		zap.String("camera_id", claim.CameraID),
		zap.String("role", string(claim.Role)),
		zap.String("reason", errs.Code(err)))
	closeWith(conn, websocket.ClosePolicyViolation, admissionReason)
}

func (h *StreamWSHandler) readPump(p *service.Peer) {
	armReadDeadline(p.Conn)
	for {
		mt, data, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.String("camera_id", p.CameraID), zap.Error(err))
			}
			return
		}
		if p.Role == service.PeerRolePublisher {
			h.hub.HandlePublisherMessage(p, mt, data)
		}
		// viewers are receive-only; anything they send is read and discarded
	}
}

// writePump is the only writer of p.Conn; it ends with the close frame the hub chose.
func (h *StreamWSHandler) writePump(p *service.Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.Conn.Close()
	}()
	for {
		select {
		case f, ok := <-p.Send:
			if !ok {
				code, reason := p.CloseStatus()
				closeWith(p.Conn, code, reason)
				return
			}
			_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(f.Type, f.Data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListStreams godoc
// GET /streams
func (h *StreamWSHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": h.hub.Streams()})
}

// GetStream godoc
// GET /streams/:camera_id
func (h *StreamWSHandler) GetStream(c *gin.Context) {
	info, ok := h.hub.Stream(c.Param("camera_id"))
	if !ok {
		writeError(c, fmt.Errorf("stream %s: %w", c.Param("camera_id"), errs.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, info)
}

// Metrics godoc
// GET /metrics
func (h *StreamWSHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Metrics().Snapshot())
}
