package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/session"
)

// StatusError is a non-2xx response from the collaborator.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}

// Client talks to the REST collaborator on behalf of one session.
type Client struct {
	http    *resty.Client
	baseURL string
	sess    *session.Session
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithSession attaches the session whose token authorizes requests.
func WithSession(s *session.Session) Option {
	return func(c *Client) { c.sess = s }
}

// New creates a client for baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15*time.Second).
			SetHeader("Accept", "application/json"),
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the collaborator address.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns the attached session, nil when anonymous.
func (c *Client) Session() *session.Session { return c.sess }

// SetSession swaps the session used for subsequent requests.
func (c *Client) SetSession(s *session.Session) { c.sess = s }

func (c *Client) request(ctx context.Context, authed bool) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx).SetError(&proto.ErrorResponse{})
	if authed {
		if c.sess == nil || !c.sess.Valid() {
			return nil, session.ErrNoSession
		}
		req.SetAuthToken(c.sess.Token())
	}
	return req, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		se := &StatusError{Status: resp.StatusCode()}
		if body, ok := resp.Error().(*proto.ErrorResponse); ok && body != nil {
			se.Message = body.Error
		}
		if se.Message == "" {
			se.Message = http.StatusText(se.Status)
		}
		return se
	}
	return nil
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, reqBody proto.RegisterRequest) (proto.Token, error) {
	var out proto.Token
	req, _ := c.request(ctx, false)
	resp, err := req.SetBody(reqBody).SetResult(&out).Post("/api/auth/register")
	if err := checkResponse(resp, err); err != nil {
		return proto.Token{}, fmt.Errorf("register: %w", err)
	}
	return out, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (proto.Token, error) {
	var out proto.Token
	req, _ := c.request(ctx, false)
	resp, err := req.SetBody(proto.LoginRequest{Email: email, Password: password}).SetResult(&out).Post("/api/auth/login")
	if err := checkResponse(resp, err); err != nil {
		return proto.Token{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

// Me returns the profile of the session user.
func (c *Client) Me(ctx context.Context) (proto.User, error) {
	var out proto.User
	req, err := c.request(ctx, true)
	if err != nil {
		return out, err
	}
	resp, err := req.SetResult(&out).Get("/api/users/me")
	if err := checkResponse(resp, err); err != nil {
		return proto.User{}, fmt.Errorf("me: %w", err)
	}
	return out, nil
}

// SearchUsers finds users by username or email prefix.
func (c *Client) SearchUsers(ctx context.Context, q string) ([]proto.User, error) {
	var out []proto.User
	req, err := c.request(ctx, true)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetQueryParam("q", q).SetResult(&out).Get("/api/users/search")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return out, nil
}

// Rooms lists the caller's conversations, each with its last message.
func (c *Client) Rooms(ctx context.Context) ([]proto.Room, error) {
	var out []proto.Room
	req, err := c.request(ctx, true)
	if err != nil {
		return nil, err
	}
	resp, err := req.SetResult(&out).Get("/api/rooms")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return out, nil
}

// CreateRoom creates a group or returns the existing DM with the given member.
func (c *Client) CreateRoom(ctx context.Context, body proto.CreateRoomRequest) (proto.Room, error) {
	var out proto.Room
	req, err := c.request(ctx, true)
	if err != nil {
		return out, err
	}
	resp, err := req.SetBody(body).SetResult(&out).Post("/api/rooms")
	if err := checkResponse(resp, err); err != nil {
		return proto.Room{}, fmt.Errorf("create room: %w", err)
	}
	return out, nil
}

// LeaveRoom removes the caller from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	req, err := c.request(ctx, true)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParam("room", roomID).Delete("/api/rooms/{room}")
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// Messages fetches one page of a conversation in ascending creation order.
// before is the id of the oldest message already loaded, empty for the newest page.
func (c *Client) Messages(ctx context.Context, roomID string, limit int, before string) ([]proto.Message, error) {
	var out []proto.Message
	req, err := c.request(ctx, true)
	if err != nil {
		return nil, err
	}
	req.SetPathParam("room", roomID)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if before != "" {
		req.SetQueryParam("before", before)
	}
	resp, err := req.SetResult(&out).Get("/api/rooms/{room}/messages")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return out, nil
}

// SendText posts a text message and returns the stored message.
func (c *Client) SendText(ctx context.Context, roomID, content string) (proto.Message, error) {
	var out proto.Message
	req, err := c.request(ctx, true)
	if err != nil {
		return out, err
	}
	resp, err := req.SetPathParam("room", roomID).
		SetBody(proto.SendTextRequest{Content: content}).
		SetResult(&out).
		Post("/api/rooms/{room}/messages")
	if err := checkResponse(resp, err); err != nil {
		return proto.Message{}, fmt.Errorf("send text: %w", err)
	}
	return out, nil
}

// SendVoice uploads a recorded voice message. Transcription arrives later on the push channel.
func (c *Client) SendVoice(ctx context.Context, roomID, fileName string, r io.Reader) (proto.Message, error) {
	return c.upload(ctx, roomID, "/api/rooms/{room}/voice", "", fileName, r)
}

// SendAttachment uploads an image, video or document.
func (c *Client) SendAttachment(ctx context.Context, roomID string, kind proto.MessageKind, fileName string, r io.Reader) (proto.Message, error) {
	if !kind.IsAttachment() {
		return proto.Message{}, fmt.Errorf("send attachment: unsupported kind %q", kind)
	}
	return c.upload(ctx, roomID, "/api/rooms/{room}/attachment", kind, fileName, r)
}

func (c *Client) upload(ctx context.Context, roomID, path string, kind proto.MessageKind, fileName string, r io.Reader) (proto.Message, error) {
	var out proto.Message
	req, err := c.request(ctx, true)
	if err != nil {
		return out, err
	}
	req.SetPathParam("room", roomID).SetFileReader("file", fileName, r).SetResult(&out)
	if kind != "" {
		req.SetQueryParam("message_type", string(kind))
	}
	resp, err := req.Post(path)
	if err := checkResponse(resp, err); err != nil {
		return proto.Message{}, fmt.Errorf("upload: %w", err)
	}
	return out, nil
}

// DeleteMessage deletes a message for the caller (scope me) or for everyone.
func (c *Client) DeleteMessage(ctx context.Context, roomID, messageID, scope string) error {
	req, err := c.request(ctx, true)
	if err != nil {
		return err
	}
	resp, err := req.SetPathParams(map[string]string{"room": roomID, "message": messageID}).
		SetQueryParam("scope", scope).
		Delete("/api/rooms/{room}/messages/{message}")
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Search runs a combined text, transcription, semantic and document search.
// roomID limits results to one conversation when non-empty.
func (c *Client) Search(ctx context.Context, q, roomID string) (proto.SearchResponse, error) {
	var out proto.SearchResponse
	req, err := c.request(ctx, true)
	if err != nil {
		return out, err
	}
	req.SetQueryParam("q", q)
	if roomID != "" {
		req.SetQueryParam("room_id", roomID)
	}
	resp, err := req.SetResult(&out).Get("/api/search")
	if err := checkResponse(resp, err); err != nil {
		return proto.SearchResponse{}, fmt.Errorf("search: %w", err)
	}
	return out, nil
}
