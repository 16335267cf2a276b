package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/service/messages"
)

// multipartOverhead is the slack allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

// MessageHandlers provides HTTP handlers for messages and search.
type MessageHandlers struct {
	messages  *messages.Service
	maxUpload int64
	log       *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, maxUpload int64, logger *zerolog.Logger) *MessageHandlers {
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	return &MessageHandlers{
		messages:  svc,
		maxUpload: maxUpload,
		log:       logger,
	}
}

// ListMessages returns a page of history in ascending order.
// GET /api/rooms/:room_id/messages?limit=50&before=<id>
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	list, err := h.messages.List(c.Request.Context(), c.Param("room_id"), userID(c), limit, c.Query("before"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// SendText handles POST /api/rooms/:room_id/messages.
func (h *MessageHandlers) SendText(c *gin.Context) {
	var req proto.SendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.messages.SendText(c.Request.Context(), c.Param("room_id"), userID(c), req.Content)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// SendVoice handles POST /api/rooms/:room_id/voice with a multipart "file".
func (h *MessageHandlers) SendVoice(c *gin.Context) {
	h.upload(c, proto.KindVoice)
}

// SendAttachment handles POST /api/rooms/:room_id/attachment?message_type=image|video|document.
func (h *MessageHandlers) SendAttachment(c *gin.Context) {
	kind := proto.MessageKind(strings.ToLower(c.Query("message_type")))
	if !kind.IsAttachment() {
		writeError(c, h.log, messages.ErrInvalidKind)
		return
	}
	h.upload(c, kind)
}

func (h *MessageHandlers) upload(c *gin.Context, kind proto.MessageKind) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.log, messages.ErrTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	roomID, uid := c.Param("room_id"), userID(c)
	var msg proto.Message
	if kind == proto.KindVoice {
		msg, err = h.messages.SendVoice(ctx, roomID, uid, fh.Filename, f)
	} else {
		msg, err = h.messages.SendAttachment(ctx, roomID, uid, kind, fh.Filename, f)
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// DeleteMessage handles DELETE /api/rooms/:room_id/messages/:message_id?scope=me|everyone.
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	err := h.messages.Delete(c.Request.Context(), c.Param("room_id"), c.Param("message_id"), userID(c), c.Query("scope"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.StatusResponse{Status: "ok"})
}

// Search handles GET /api/search?q=&room_id=.
func (h *MessageHandlers) Search(c *gin.Context) {
	q := c.Query("q")
	if strings.TrimSpace(q) == "" {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "search query is required"})
		return
	}

	resp, err := h.messages.Search(c.Request.Context(), userID(c), q, c.Query("room_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
