package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/homecam-relay/internal/errs"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("code 482913: %w", errs.ErrNotFound), http.StatusNotFound},
		{errs.ErrAlreadyStreaming, http.StatusConflict},
		{errs.ErrAccessDenied, http.StatusForbidden},
		{errs.ErrCodeGenerationFailed, http.StatusServiceUnavailable},
		{errs.ErrInvalidMessage, http.StatusBadRequest},
		{errs.ErrInvalidToken, http.StatusBadRequest},
		{errors.New("redis: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpStatus(tc.err); got != tc.want {
			t.Fatalf("httpStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeError(c, errors.New("redis: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != errs.CodeInternal || body["message"] != "internal error" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(c.Errors) != 1 {
		t.Fatalf("expected the cause to be attached to the context")
	}
}

func TestCallerIDRequiresHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/sessions", nil)

	if _, ok := callerID(c); ok {
		t.Fatalf("expected missing header to fail")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
