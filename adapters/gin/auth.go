package accessgin

import (
	"context"
	"strings"

	jwtkit "github.com/PaulFidika/accesskit/jwt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type claimsKey struct{}

// SetClaims attaches verified viewer claims to ctx.
func SetClaims(ctx context.Context, cl jwtkit.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, cl)
}

// ClaimsFromContext returns the viewer claims set by AuthRequired.
func ClaimsFromContext(ctx context.Context) (jwtkit.Claims, bool) {
	cl, ok := ctx.Value(claimsKey{}).(jwtkit.Claims)
	return cl, ok
}

// ClaimsFromGin is ClaimsFromContext on the request context.
func ClaimsFromGin(c *gin.Context) (jwtkit.Claims, bool) {
	return ClaimsFromContext(c.Request.Context())
}

// AuthRequired verifies the bearer token and stores the viewer claims on the request.
// The subject must be a UUID. Requests without a valid token get 401.
func AuthRequired(v *jwtkit.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			unauthorized(c)
			return
		}
		cl, err := v.Verify(raw)
		if err != nil {
			unauthorized(c)
			return
		}
		uid, err := uuid.Parse(cl.Subject)
		if err != nil {
			unauthorized(c)
			return
		}
		c.Set("auth.user_id", uid)
		c.Request = c.Request.WithContext(SetClaims(c.Request.Context(), cl))
		c.Next()
	}
}

func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func viewerID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("auth.user_id")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
