package errs

import "errors"

// Доменные сентинель-ошибки для маппинга в HTTP коды и коды сигналинга.
var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyStreaming     = errors.New("camera is already streaming")
	ErrCodeGenerationFailed = errors.New("connection code generation failed")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidToken         = errors.New("invalid media token")
	ErrInvalidMessage       = errors.New("invalid message")
)

// Wire codes.
const (
	CodeNotFound             = "E_NOT_FOUND"
	CodeAlreadyStreaming     = "E_ALREADY_STREAMING"
	CodeCodeGenerationFailed = "E_CODE_GENERATION_FAILED"
	CodeAccessDenied         = "E_ACCESS_DENIED"
	CodeInvalidToken         = "E_INVALID_TOKEN"
	CodeInvalidMessage       = "E_INVALID_MESSAGE"
	CodeInternal             = "E_INTERNAL"
)

// Code returns the wire code for err, looking through wrapping.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyStreaming):
		return CodeAlreadyStreaming
	case errors.Is(err, ErrCodeGenerationFailed):
		return CodeCodeGenerationFailed
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	default:
		return CodeInternal
	}
}
