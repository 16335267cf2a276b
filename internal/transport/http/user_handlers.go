package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/service/messages"
	"github.com/vovakirdan/voicechat/internal/store"
)

const userSearchLimit = 20

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store store.UserStore
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store: st,
		log:   logger,
	}
}

// SearchUsers handles searching for users by username or email prefix.
// GET /api/users/search?q=query
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	trimmed := strings.TrimSpace(c.Query("q"))
	if trimmed == "" {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "search query is required"})
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), trimmed, userID(c), userSearchLimit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	response := make([]proto.User, 0, len(users))
	for _, u := range users {
		response = append(response, messages.ToProtoUser(u))
	}
	c.JSON(http.StatusOK, response)
}
