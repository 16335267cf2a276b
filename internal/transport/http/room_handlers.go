package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/service/rooms"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	rooms *rooms.Service
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(svc *rooms.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms: svc,
		log:   logger,
	}
}

// CreateRoom opens a group or a direct conversation. Existing direct rooms are
// returned with 200 instead of 201.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req proto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	uid := userID(c)
	room, created, err := h.rooms.Create(c.Request.Context(), uid, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Info().Str("room_id", room.ID).Str("owner_id", uid).Bool("is_group", room.IsGroup).Msg("room created successfully")
	}
	c.JSON(status, room)
}

// ListRooms lists the caller's rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	uid := userID(c)
	list, err := h.rooms.List(c.Request.Context(), uid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Debug().Str("user_id", uid).Int("room_count", len(list)).Msg("rooms listed successfully")
	c.JSON(http.StatusOK, list)
}

// LeaveRoom removes the caller, deleting direct rooms entirely.
// DELETE /api/rooms/:room_id
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	if err := h.rooms.Leave(c.Request.Context(), userID(c), c.Param("room_id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.StatusResponse{Status: "ok"})
}
