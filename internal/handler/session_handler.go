package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/service"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/response"
)

// SessionHandler wires the session endpoints to the session manager.
type SessionHandler struct {
	sessions *service.SessionService
	tokens   *service.TokenService
}

// NewSessionHandler creates a new handler.
func NewSessionHandler(sessions *service.SessionService, tokens *service.TokenService) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens}
}

// Current returns the session state without requiring a token.
func (h *SessionHandler) Current(c *gin.Context) {
	response.JSON(c, http.StatusOK, models.SessionResponse{Session: h.sessions.Current()})
}

// Register creates an account and signs it in.
func (h *SessionHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	session, err := h.sessions.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, session)
}

// Login authenticates with email and password.
func (h *SessionHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	session, err := h.sessions.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondWithToken(c, http.StatusOK, session)
}

// Restore resumes a remembered session and hands out a token for it.
func (h *SessionHandler) Restore(c *gin.Context) {
	session, err := h.sessions.Restore(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if session.State == models.SessionAnonymous {
		response.JSON(c, http.StatusOK, models.SessionResponse{Session: session})
		return
	}
	h.respondWithToken(c, http.StatusOK, session)
}

// CompleteProfile stores the first teacher profile.
func (h *SessionHandler) CompleteProfile(c *gin.Context) {
	var req models.ProfileInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	session, err := h.sessions.CompleteProfile(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.SessionResponse{Session: session})
}

// UpdateProfile edits the stored teacher profile.
func (h *SessionHandler) UpdateProfile(c *gin.Context) {
	var req models.ProfilePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	session, err := h.sessions.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.SessionResponse{Session: session})
}

// ChangeAcademicYear switches the active academic year.
func (h *SessionHandler) ChangeAcademicYear(c *gin.Context) {
	var req models.AcademicYearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid academic year payload"))
		return
	}
	session, err := h.sessions.ChangeAcademicYear(c.Request.Context(), req.AcademicYear)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.SessionResponse{Session: session})
}

// Logout ends the session.
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *SessionHandler) respondWithToken(c *gin.Context, status int, session *models.Session) {
	token, err := h.tokens.Issue(session)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, status, models.SessionResponse{Session: session, Token: token})
}
