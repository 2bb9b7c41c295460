package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/homecam-relay/internal/camera"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
	"github.com/psds-microservice/homecam-relay/pkg/constants"
)

// httpStatus maps domain errors to HTTP codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyStreaming):
		return http.StatusConflict
	case errors.Is(err, errs.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrCodeGenerationFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrInvalidMessage), errors.Is(err, errs.ErrInvalidToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает {"error": <код>, "message": ...}; внутренние ошибки не раскрываются.
func writeError(c *gin.Context, err error) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": errs.Code(err), "message": msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errs.CodeInvalidMessage, "message": err.Error()})
}

// callerID returns the gateway-authenticated user, answering 401 when absent.
func callerID(c *gin.Context) (string, bool) {
	id := c.GetHeader(constants.HeaderUserID)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "E_UNAUTHENTICATED", "message": constants.HeaderUserID + " header required"})
		return "", false
	}
	return id, true
}

// requireOwner fails with ErrAccessDenied unless userID owns the camera.
func requireOwner(ctx context.Context, dir camera.Directory, userID, cameraID string) error {
	owner, err := dir.Owner(ctx, cameraID)
	if err != nil {
		return err
	}
	if owner != userID {
		return errs.ErrAccessDenied
	}
	return nil
}

// claimOrRequireOwner is requireOwner, except that an unknown camera is recorded as owned by userID.
func claimOrRequireOwner(ctx context.Context, dir camera.Directory, userID, cameraID, name string) error {
	err := requireOwner(ctx, dir, userID, cameraID)
	if errors.Is(err, errs.ErrNotFound) {
		return dir.SaveCamera(ctx, model.Camera{ID: cameraID, Name: name, OwnerUserID: userID})
	}
	return err
}
