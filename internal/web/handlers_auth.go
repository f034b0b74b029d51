package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Morditux/sessionkit/internal/apperr"
)

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	User      User   `json:"user"`
	CSRFToken string `json:"csrfToken"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Abort(c, apperr.Validation("login and password are required"))
		return
	}

	user, err := s.auth.Authenticate(c.Request.Context(), req.Login, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		apperr.Abort(c, apperr.Authentication("invalid login or password"))
		return
	}
	if err != nil {
		apperr.Abort(c, apperr.Internal(err))
		return
	}

	sess, err := s.mgr.InitializeWithUser(c.Writer, c.Request, user.ID, user.Roles)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("user_id", user.ID).
			Msg("login rejected: session could not be initialized")
		s.clearCSRFCookie(c)
		apperr.Abort(c, apperr.Authentication("authentication failed").Wrap(err))
		return
	}

	token := s.csrf.Token(sess.ID)
	s.setCSRFCookie(c, token)
	c.JSON(http.StatusOK, loginResponse{User: user, CSRFToken: token})
}

func (s *Server) logout(c *gin.Context) {
	sess, err := s.mgr.Load(c.Request)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("logout: failed to load session")
	}
	if sess != nil {
		if err := s.mgr.Destroy(c.Writer, c.Request, sess); err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("logout: failed to destroy session")
		}
	} else {
		s.mgr.ClearCookie(c.Writer, c.Request)
	}
	s.clearCSRFCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) me(c *gin.Context) {
	sess := CurrentSession(c)
	id, _ := sess.UserID()
	c.JSON(http.StatusOK, gin.H{
		"id":    id,
		"roles": sess.Roles(),
	})
}

func (s *Server) csrfToken(c *gin.Context) {
	token := s.csrf.Token(CurrentSession(c).ID)
	s.setCSRFCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// The CSRF cookie is readable by scripts so the frontend can echo it in
// X-CSRF-Token.
func (s *Server) setCSRFCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.Session.TTL.Seconds()),
		HttpOnly: false,
		Secure:   s.secureCookies(c),
		SameSite: s.cfg.Session.SameSiteMode(),
	})
}

func (s *Server) clearCSRFCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   s.secureCookies(c),
		SameSite: s.cfg.Session.SameSiteMode(),
	})
}

func (s *Server) secureCookies(c *gin.Context) bool {
	return s.cfg.Session.Secure || c.Request.TLS != nil || s.cfg.Session.SameSiteMode() == http.SameSiteNoneMode
}
