package web

import (
	"github.com/gin-gonic/gin"

	"github.com/Morditux/sessionkit"
	"github.com/Morditux/sessionkit/internal/apperr"
)

const sessionKey = "session"

// CurrentSession returns the session loaded by RequireAuth, or nil.
func CurrentSession(c *gin.Context) *sessionkit.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*sessionkit.Session)
	return s
}

// RequireAuth loads the session bound to the request and rejects the
// request unless it carries an authenticated user.
func RequireAuth(mgr *sessionkit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := mgr.Load(c.Request)
		if err != nil {
			apperr.Abort(c, apperr.Internal(err))
			return
		}
		if s == nil {
			apperr.Abort(c, apperr.Authentication(""))
			return
		}
		if _, ok := s.UserID(); !ok {
			apperr.Abort(c, apperr.Authentication(""))
			return
		}
		c.Set(sessionKey, s)
		c.Next()
	}
}

// RequireRole rejects authenticated users lacking role. It must run after
// RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := CurrentSession(c)
		if s == nil {
			apperr.Abort(c, apperr.Authentication(""))
			return
		}
		if !s.HasRole(role) {
			apperr.Abort(c, apperr.Authorization(""))
			return
		}
		c.Next()
	}
}
