package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/homecam-relay/internal/camera"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
	"github.com/psds-microservice/homecam-relay/internal/service"
)

// SessionHandler handles REST API for sessions.
type SessionHandler struct {
	sessions *service.SessionStore
	dir      camera.Directory
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions *service.SessionStore, dir camera.Directory) *SessionHandler {
	return &SessionHandler{sessions: sessions, dir: dir}
}

// participant loads the session and checks that userID owns or watches it.
func (h *SessionHandler) participant(c *gin.Context, userID string) (*model.StreamingSession, bool) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if sess.UserID != userID && !sess.HasViewer(userID) {
		writeError(c, errs.ErrAccessDenied)
		return nil, false
	}
	return sess, true
}

// CreateSession godoc
// POST /sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.UserID = userID
	if err := claimOrRequireOwner(c.Request.Context(), h.dir, userID, req.CameraID, req.CameraName); err != nil {
		writeError(c, err)
		return
	}
	sess, err := h.sessions.Create(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// ListSessions godoc
// GET /sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	out := make([]*model.StreamingSession, 0)
	for _, sess := range h.sessions.List() {
		if sess.UserID == userID || sess.HasViewer(userID) {
			out = append(out, sess)
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GetSession godoc
// GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	if sess, ok := h.participant(c, userID); ok {
		c.JSON(http.StatusOK, sess)
	}
}

// GetStats godoc
// GET /sessions/:id/stats
func (h *SessionHandler) GetStats(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	if sess, ok := h.participant(c, userID); ok {
		c.JSON(http.StatusOK, sess.Stats)
	}
}

// DeleteSession godoc
// DELETE /sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	sess, ok := h.participant(c, userID)
	if !ok {
		return
	}
	if sess.UserID != userID {
		writeError(c, errs.ErrAccessDenied)
		return
	}
	if err := h.sessions.End(sess.SessionID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddViewer godoc
// POST /sessions/:id/viewers
func (h *SessionHandler) AddViewer(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req model.AddViewerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	if req.ViewerID == "" {
		req.ViewerID = userID
	}
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	// владелец может добавить любого авторизованного зрителя, зритель только себя
	if sess.UserID != userID && req.ViewerID != userID {
		writeError(c, errs.ErrAccessDenied)
		return
	}
	allowed, err := h.dir.IsAuthorized(c.Request.Context(), req.ViewerID, sess.CameraID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !allowed {
		writeError(c, errs.ErrAccessDenied)
		return
	}
	out, err := h.sessions.AddViewer(sess.SessionID, req.ViewerID, req.Config)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// RemoveViewer godoc
// DELETE /sessions/:id/viewers/:viewer_id
func (h *SessionHandler) RemoveViewer(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	sess, ok := h.participant(c, userID)
	if !ok {
		return
	}
	viewerID := c.Param("viewer_id")
	if sess.UserID != userID && viewerID != userID {
		writeError(c, errs.ErrAccessDenied)
		return
	}
	out, err := h.sessions.RemoveViewer(sess.SessionID, viewerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Heartbeat godoc
// POST /sessions/:id/heartbeat
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req model.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	sess, ok := h.participant(c, userID)
	if !ok {
		return
	}
	var err error
	if req.BytesTransferred != 0 {
		err = h.sessions.RecordTransfer(sess.SessionID, req.BytesTransferred)
	} else {
		err = h.sessions.Heartbeat(sess.SessionID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ChangeQuality godoc
// PUT /sessions/:id/quality
func (h *SessionHandler) ChangeQuality(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req model.ChangeQualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, ok := h.participant(c, userID)
	if !ok {
		return
	}
	out, err := h.sessions.ChangeQuality(sess.SessionID, req.Quality)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
