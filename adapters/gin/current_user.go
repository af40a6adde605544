package accessgin

import (
	"github.com/PaulFidika/accesskit/lang"
	"github.com/gin-gonic/gin"
)

// Viewer is a unified view of the caller for handlers.
type Viewer struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Language string `json:"language"`
	// Source is "claims" for a verified token and "none" otherwise.
	Source string `json:"source"`
}

// CurrentViewer returns the caller as seen by AuthRequired and LanguageMiddleware.
// The language is reported even for unauthenticated requests.
func CurrentViewer(c *gin.Context) (Viewer, bool) {
	reqLang := lang.FromContextOr(c.Request.Context(), lang.Default)
	if cl, ok := ClaimsFromGin(c); ok && cl.Subject != "" {
		return Viewer{
			UserID:   cl.Subject,
			Email:    cl.Email,
			Language: reqLang,
			Source:   "claims",
		}, true
	}
	return Viewer{Language: reqLang, Source: "none"}, false
}
