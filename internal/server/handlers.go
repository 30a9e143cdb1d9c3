package server

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/session"
)

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Participant string `json:"participant" binding:"required"`
	Room        string `json:"room" binding:"required"`
}

// CreateSessionResponse is returned for a new session.
type CreateSessionResponse struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	UploadID string `json:"upload_id"`
}

// FinishResponse describes a committed recording.
type FinishResponse struct {
	Key   string `json:"key"`
	Parts int    `json:"parts"`
	Bytes int64  `json:"bytes"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SessionHandler serves the session routes.
type SessionHandler struct {
	factory        *session.Factory
	registry       *Registry
	logger         *slog.Logger
	maxChunkBytes  int64
	sessionOptions func() []session.SessionOption
}

// HandlerOption configures a SessionHandler.
type HandlerOption func(*SessionHandler)

// WithSessionOptions sets a function called once per created session whose
// result is passed to Factory.Open.
func WithSessionOptions(fn func() []session.SessionOption) HandlerOption {
	return func(h *SessionHandler) {
		h.sessionOptions = fn
	}
}

// NewSessionHandler creates a handler opening sessions with factory.
func NewSessionHandler(
	factory *session.Factory,
	registry *Registry,
	logger *slog.Logger,
	maxChunkBytes int64,
	opts ...HandlerOption,
) *SessionHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &SessionHandler{
		factory:       factory,
		registry:      registry,
		logger:        logger,
		maxChunkBytes: maxChunkBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateSession handles POST /v1/sessions.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	var sopts []session.SessionOption
	if h.sessionOptions != nil {
		sopts = h.sessionOptions()
	}

	s, err := h.factory.Open(c.Request.Context(), session.Participant{Name: req.Participant, Room: req.Room}, sopts...)
	if err != nil {
		h.fail(c, openStatus(err), err)
		return
	}

	id := h.registry.Add(s)
	c.JSON(http.StatusCreated, CreateSessionResponse{
		ID:       id,
		Key:      s.Key(),
		UploadID: s.UploadID(),
	})
}

// PushChunk handles PUT /v1/sessions/:id/chunks. The raw request body is
// uploaded as one part.
func (h *SessionHandler) PushChunk(c *gin.Context) {
	id, s, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxChunkBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read chunk: " + err.Error()})
		return
	}
	if int64(len(data)) > h.maxChunkBytes {
		h.fail(c, http.StatusRequestEntityTooLarge, errors.NewError("pushChunk", errors.ErrChunkTooLarge))
		return
	}

	err = s.PushChunk(c.Request.Context(), data)
	h.forgetEnded(id, s)
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Finish handles POST /v1/sessions/:id/finish.
func (h *SessionHandler) Finish(c *gin.Context) {
	id, s, ok := h.lookup(c)
	if !ok {
		return
	}

	err := s.Finish(c.Request.Context())
	h.forgetEnded(id, s)
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}

	info := s.Info()
	c.JSON(http.StatusOK, FinishResponse{Key: info.Key, Parts: info.Parts, Bytes: info.Bytes})
}

// Abort handles DELETE /v1/sessions/:id.
func (h *SessionHandler) Abort(c *gin.Context) {
	id, s, ok := h.lookup(c)
	if !ok {
		return
	}

	err := s.Abort(c.Request.Context())
	h.forgetEnded(id, s)
	if err != nil {
		h.fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get handles GET /v1/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	_, s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

func (h *SessionHandler) lookup(c *gin.Context) (string, *session.UploadSession, bool) {
	id := c.Param("id")
	s, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return "", nil, false
	}
	return id, s, true
}

func (h *SessionHandler) forgetEnded(id string, s *session.UploadSession) {
	if s.IsEnded() {
		h.registry.Remove(id)
	}
}

func (h *SessionHandler) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"route", c.FullPath(),
			"status", status,
			"error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: string(errors.Code(err))})
}

// statusFor maps a session error to an HTTP status.
// openStatus maps a session creation failure to a status. Only a rejected
// participant or room is the caller's fault; store rejections of a valid
// request mean streaming is unavailable.
func openStatus(err error) int {
	if errors.IsInvalidParticipant(err) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func statusFor(err error) int {
	switch {
	case errors.IsSessionEnded(err):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrEmptyChunk):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge
	case stderrors.Is(err, errors.ErrPartLimit), stderrors.Is(err, errors.ErrNoParts):
		return http.StatusConflict
	case errors.IsPartUpload(err), errors.IsCommit(err), errors.KindOf(err) == errors.KindAbort:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
