// Package http exposes the session, auth and alert operations over gin,
// plus the SSE stream of aggregated feed state.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/internal/alerts/domain"
	"github.com/knockme-app/knockme-backend/internal/auth"
	"github.com/knockme-app/knockme-backend/internal/session"
)

const sessionHeader = "X-Session-Id"

type Handler struct {
	registry *session.Registry
	resume   *session.ResumeRepository
}

func NewHandler(registry *session.Registry, resume *session.ResumeRepository) *Handler {
	return &Handler{registry: registry, resume: resume}
}

// CreateSession starts a server-side session and returns its ID. The client
// passes it back in X-Session-Id on every later call.
func (h *Handler) CreateSession(c *gin.Context) {
	s := h.registry.Create()
	c.JSON(http.StatusCreated, SessionResponse{SessionID: s.ID})
}

// CloseSession tears the session down, releasing its live listeners.
func (h *Handler) CloseSession(c *gin.Context) {
	s, ok := h.requireSession(c)
	if !ok {
		return
	}
	h.registry.Close(s.ID)
	c.Status(http.StatusNoContent)
}

// SignIn verifies the supplied Firebase ID token and binds the resulting
// user to the session.
func (h *Handler) SignIn(c *gin.Context) {
	s, ok := h.requireSession(c)
	if !ok {
		return
	}

	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "idToken is required"})
		return
	}

	user, err := s.Identity.SignIn(c.Request.Context(), req.IDToken)
	if err != nil {
		c.JSON(authStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.resume.Save(c.Request.Context(), s.ID, *user); err != nil {
		// Resume cache is cosmetic; sign-in already succeeded.
		log.Warn().Err(err).Str("uid", user.ID).Msg("resume record write failed")
	}

	c.JSON(http.StatusOK, user)
}

// SignOut clears the session identity. The aggregator resets reactively via
// the current-user stream going nil.
func (h *Handler) SignOut(c *gin.Context) {
	s, ok := h.requireSession(c)
	if !ok {
		return
	}

	_ = s.Identity.SignOut(c.Request.Context())
	if err := h.resume.Clear(c.Request.Context(), s.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("resume record clear failed")
	}

	c.Status(http.StatusNoContent)
}

// Resume returns the last-known signed-in profile for instant display while
// real sign-in is still in flight. Not authoritative.
func (h *Handler) Resume(c *gin.Context) {
	s, ok := h.requireSession(c)
	if !ok {
		return
	}

	user, err := h.resume.GetBySession(c.Request.Context(), s.ID)
	if err != nil {
		if errors.Is(err, session.ErrResumeNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no resume record"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load resume record"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// State returns the current aggregated projection once, for clients that
// poll instead of streaming.
func (h *Handler) State(c *gin.Context) {
	s, ok := h.requireSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Feed.State())
}

// AddAlert creates a new alert owned by the session user.
func (h *Handler) AddAlert(c *gin.Context) {
	s, ok := h.requireAuthedSession(c)
	if !ok {
		return
	}

	var req AddAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content and targetTimestamp are required"})
		return
	}

	id, err := s.Feed.AddAlert(c.Request.Context(), req.Content, time.UnixMilli(req.TargetTimestamp).UTC())
	if err != nil {
		c.JSON(alertStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, AddAlertResponse{ID: id})
}

// Knock records the session user's knock on another user's alert.
func (h *Handler) Knock(c *gin.Context) {
	s, ok := h.requireAuthedSession(c)
	if !ok {
		return
	}

	alertID := c.Param("id")
	if alertID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "alert ID is required"})
		return
	}

	if err := s.Feed.Knock(c.Request.Context(), alertID); err != nil {
		c.JSON(alertStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAlert removes one of the session user's own alerts.
func (h *Handler) DeleteAlert(c *gin.Context) {
	s, ok := h.requireAuthedSession(c)
	if !ok {
		return
	}

	alertID := c.Param("id")
	if alertID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "alert ID is required"})
		return
	}

	if err := s.Feed.DeleteAlert(c.Request.Context(), alertID); err != nil {
		c.JSON(alertStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) requireSession(c *gin.Context) (*session.Session, bool) {
	id := c.GetHeader(sessionHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing " + sessionHeader + " header"})
		return nil, false
	}

	s, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unknown session"})
		return nil, false
	}
	return s, true
}

// requireAuthedSession additionally checks that the Bearer token verified by
// the auth middleware belongs to the session's signed-in user.
func (h *Handler) requireAuthedSession(c *gin.Context) (*session.Session, bool) {
	s, ok := h.requireSession(c)
	if !ok {
		return nil, false
	}

	user := s.Identity.Current()
	if user == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "not signed in"})
		return nil, false
	}

	if uid := auth.UserFirebaseUID(c); uid != "" && uid != user.ID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "token does not match session user"})
		return nil, false
	}
	return s, true
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUserCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, auth.ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func alertStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyKnocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyContent), errors.Is(err, domain.ErrTargetTimeInPast):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
