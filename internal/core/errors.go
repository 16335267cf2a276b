package core

import (
	"errors"
	"net/http"

	"github.com/vovakirdan/voicechat/internal/api"
	"github.com/vovakirdan/voicechat/internal/session"
)

// Error codes for domain errors.
const (
	CodeTransport     = "transport"
	CodeAuthorization = "authorization"
	CodeValidation    = "validation"
	CodeNotFound      = "not_found"
	CodeInternal      = "internal"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrForbidden            = errors.New("not allowed")
	ErrUnknownMessage       = errors.New("message not loaded")
	ErrInvalidScope         = errors.New("invalid delete scope")
	ErrEngineStopped        = errors.New("engine stopped")
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func coreError(code string, err error) *Error {
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// Classify maps any error from the engine or its collaborators onto an error code.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}

	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidScope), errors.Is(err, ErrNoActiveConversation):
		return CodeValidation
	case errors.Is(err, ErrUnknownMessage):
		return CodeNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, session.ErrNoSession):
		return CodeAuthorization
	case errors.Is(err, ErrEngineStopped):
		return CodeInternal
	}

	var se *api.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
			return CodeAuthorization
		case se.Status == http.StatusNotFound:
			return CodeNotFound
		case se.Status >= 400 && se.Status < 500:
			return CodeValidation
		default:
			return CodeInternal
		}
	}

	return CodeTransport
}
