package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/camera"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
	"github.com/psds-microservice/homecam-relay/internal/service"
	"github.com/psds-microservice/homecam-relay/internal/token"
	"github.com/psds-microservice/homecam-relay/pkg/constants"
)

// CodeHandler serves pairing codes and signed media URLs.
type CodeHandler struct {
	codes  *service.CodeService
	dir    camera.Directory
	media  *service.WSConfig
	logger *zap.Logger
}

func NewCodeHandler(codes *service.CodeService, dir camera.Directory, media *service.WSConfig, logger *zap.Logger) *CodeHandler {
	return &CodeHandler{codes: codes, dir: dir, media: media, logger: logger}
}

// Generate godoc
// POST /codes
func (h *CodeHandler) Generate(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req model.GenerateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	if err := claimOrRequireOwner(ctx, h.dir, userID, req.CameraID, req.CameraName); err != nil {
		writeError(c, err)
		return
	}

	res, err := h.codes.Generate(ctx, model.CameraInfo{
		CameraID:    req.CameraID,
		CameraName:  req.CameraName,
		OwnerUserID: userID,
	}, req.Type, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Lookup godoc
// GET /codes/:code
func (h *CodeHandler) Lookup(c *gin.Context) {
	rec, err := h.codes.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Connect godoc
// POST /codes/:code/connect
func (h *CodeHandler) Connect(c *gin.Context) {
	var req model.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.ViewerID == "" {
		req.ViewerID = c.GetHeader(constants.HeaderUserID)
	}
	ctx := c.Request.Context()
	res, err := h.codes.Connect(ctx, c.Param("code"), req.ViewerID, req.DeviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.dir.GrantAccess(ctx, res.CameraID, res.ViewerID); err != nil {
		writeError(c, fmt.Errorf("grant access: %w", err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// Refresh godoc
// POST /codes/:code/refresh
func (h *CodeHandler) Refresh(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	old, err := h.codes.Lookup(ctx, c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := requireOwner(ctx, h.dir, userID, old.CameraID); err != nil {
		writeError(c, err)
		return
	}
	res, err := h.codes.Refresh(ctx, old.Code, model.CameraInfo{
		CameraID:    old.CameraID,
		CameraName:  old.CameraName,
		OwnerUserID: userID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Disconnect godoc
// DELETE /codes/:code?viewerId=
// A viewer may drop its own connection; anything else needs the camera owner.
func (h *CodeHandler) Disconnect(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	code := c.Param("code")
	viewerID := c.Query("viewerId")

	rec, err := h.codes.Lookup(ctx, code)
	if err != nil {
		writeError(c, err)
		return
	}
	if viewerID == "" || viewerID != userID {
		if err := requireOwner(ctx, h.dir, userID, rec.CameraID); err != nil {
			writeError(c, err)
			return
		}
	}
	if err := h.codes.Disconnect(ctx, code, viewerID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ActiveCode godoc
// GET /cameras/:camera_id/code
func (h *CodeHandler) ActiveCode(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cameraID := c.Param("camera_id")
	if err := requireOwner(ctx, h.dir, userID, cameraID); err != nil {
		writeError(c, err)
		return
	}
	rec, err := h.codes.ActiveCode(ctx, cameraID)
	if err != nil {
		writeError(c, err)
		return
	}
	viewers, err := h.codes.Viewers(ctx, rec.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": rec, "viewers": viewers})
}

// MediaURL godoc
// POST /media/url
func (h *CodeHandler) MediaURL(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req model.MediaURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	params := token.Params{Role: token.Role(req.Role), CameraID: req.CameraID}

	switch params.Role {
	case token.RolePublisher:
		if err := requireOwner(ctx, h.dir, userID, req.CameraID); err != nil {
			writeError(c, err)
			return
		}
	case token.RoleViewer:
		params.ViewerID = req.ViewerID
		if params.ViewerID == "" {
			params.ViewerID = userID
		}
		if params.ViewerID != userID {
			writeError(c, errs.ErrAccessDenied)
			return
		}
		allowed, err := h.dir.IsAuthorized(ctx, userID, req.CameraID)
		if err != nil {
			writeError(c, err)
			return
		}
		if !allowed {
			writeError(c, errs.ErrAccessDenied)
			return
		}
	default:
		badRequest(c, fmt.Errorf("role must be %q or %q", token.RolePublisher, token.RoleViewer))
		return
	}

	res, err := h.media.MediaURL(params)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err))
		return
	}
	h.logger.Debug("media url issued", zap.String("camera_id", req.CameraID), zap.String("role", req.Role), zap.String("user_id", userID))
	c.JSON(http.StatusOK, res)
}
