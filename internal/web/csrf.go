package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Morditux/sessionkit/internal/apperr"
)

const (
	CSRFCookieName = "csrf-token"
	CSRFHeader     = "X-CSRF-Token"
)

// CSRF derives per-session tokens. A token is only meaningful for a session
// that has been verified in the store, so it is never issued earlier.
type CSRF struct {
	secret []byte
}

func NewCSRF(secret string) *CSRF {
	return &CSRF{secret: []byte(secret)}
}

// Token returns base64url(HMAC-SHA256(secret, sessionID)).
func (c *CSRF) Token(sessionID string) string {
	return base64.RawURLEncoding.EncodeToString(c.mac(sessionID))
}

// Valid reports whether token belongs to sessionID, in constant time.
func (c *CSRF) Valid(sessionID, token string) bool {
	got, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(got, c.mac(sessionID))
}

func (c *CSRF) mac(sessionID string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(sessionID))
	return h.Sum(nil)
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// RequireCSRF rejects unsafe requests whose X-CSRF-Token does not match the
// authenticated session. It must run after RequireAuth.
func RequireCSRF(csrf *CSRF) gin.HandlerFunc {
	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) {
			c.Next()
			return
		}
		s := CurrentSession(c)
		if s == nil {
			apperr.Abort(c, apperr.Authentication(""))
			return
		}
		if !csrf.Valid(s.ID, c.GetHeader(CSRFHeader)) {
			apperr.Abort(c, apperr.Authorization("invalid CSRF token"))
			return
		}
		c.Next()
	}
}
