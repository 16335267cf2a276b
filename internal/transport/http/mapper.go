package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/auth"
	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/service/messages"
	"github.com/vovakirdan/voicechat/internal/service/rooms"
	"github.com/vovakirdan/voicechat/internal/store"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, messages.ErrNotMember),
		errors.Is(err, rooms.ErrNotMember),
		errors.Is(err, messages.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, rooms.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, messages.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, messages.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, messages.ErrEmptyContent),
		errors.Is(err, messages.ErrInvalidScope),
		errors.Is(err, messages.ErrInvalidKind),
		errors.Is(err, messages.ErrEmptyFile),
		errors.Is(err, rooms.ErrNoMembers),
		errors.Is(err, rooms.ErrDirectMembers),
		errors.Is(err, rooms.ErrDirectWithSelf),
		errors.Is(err, rooms.ErrNameRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse. Internal errors are logged and masked.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal server error"
	}
	c.JSON(status, proto.ErrorResponse{Error: msg})
}

func tokenResponse(token string, u *store.User) proto.Token {
	return proto.Token{
		AccessToken: token,
		TokenType:   "bearer",
		User:        messages.ToProtoUser(u),
	}
}
