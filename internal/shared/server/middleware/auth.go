package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/apperrors"
	"anamnesis-backend/internal/shared/auth"
	"anamnesis-backend/internal/shared/server/respond"
)

// Context keys shared with respond, which reads them by name.
const (
	userIDKey   = "userId"
	isGuestKey  = "isGuest"
	identityKey = "identity"
)

const guestPrefix = "guest:"

// publicPaths skip identity checks. Entries ending in "/" match as prefixes.
var publicPaths = []string{"/api/auth/google/", "/api/health", "/metrics"}

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Identity is the caller resolved by Auth.
type Identity struct {
	UserID  string `json:"userId"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Guest   bool   `json:"isGuest"`
}

// Auth resolves the caller from a bearer token or, failing that, the
// X-Guest-Id header. Guest ids are namespaced so they never collide with
// token subjects. A malformed or rejected token is never downgraded to guest.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if isPublic(c.Request.URL.Path) {
			c.Next()
			return
		}

		id, msg := resolveIdentity(c.Request, verifier)
		if msg != "" {
			respond.Error(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, msg, nil)
			return
		}
		c.Set(identityKey, id)
		c.Set(userIDKey, id.UserID)
		c.Set(isGuestKey, id.Guest)
		c.Next()
	}
}

func resolveIdentity(r *http.Request, verifier TokenVerifier) (Identity, string) {
	const invalidToken = "missing or invalid token"

	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" || verifier == nil {
			return Identity{}, invalidToken
		}
		claims, err := verifier.Verify(token)
		if err != nil || claims.Sub == "" {
			return Identity{}, invalidToken
		}
		return Identity{UserID: claims.Sub, Email: claims.Email, Name: claims.Name, Picture: claims.Picture}, ""
	}

	guest := strings.TrimSpace(r.Header.Get("X-Guest-Id"))
	if guest == "" {
		return Identity{}, "Missing identity"
	}
	return Identity{UserID: guestPrefix + guest, Guest: true}, ""
}

func isPublic(path string) bool {
	for _, p := range publicPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

// IdentityFromContext returns the identity stored by Auth, if any.
func IdentityFromContext(c *gin.Context) (Identity, bool) {
	if c == nil {
		return Identity{}, false
	}
	id, ok := c.Value(identityKey).(Identity)
	return id, ok
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(userIDKey)
}
