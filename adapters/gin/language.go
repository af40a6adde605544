package accessgin

import (
	"strings"

	"github.com/PaulFidika/accesskit/lang"
	"github.com/gin-gonic/gin"
)

type LanguageConfig struct {
	Supported  []string
	Default    string
	QueryParam string
	CookieName string
}

func (c *LanguageConfig) defaulted() LanguageConfig {
	if c == nil {
		return LanguageConfig{
			Supported:  lang.Supported(),
			Default:    lang.Default,
			QueryParam: "lang",
			CookieName: "lang",
		}
	}
	out := *c
	if len(out.Supported) == 0 {
		out.Supported = lang.Supported()
	}
	if strings.TrimSpace(out.Default) == "" {
		out.Default = lang.Default
	}
	if strings.TrimSpace(out.QueryParam) == "" {
		out.QueryParam = "lang"
	}
	if strings.TrimSpace(out.CookieName) == "" {
		out.CookieName = "lang"
	}
	return out
}

type languageSet map[string]struct{}

func newLanguageSet(supported []string) languageSet {
	m := make(languageSet, len(supported))
	for _, s := range supported {
		if n := lang.Normalize(s); n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

func (s languageSet) pick(raw string) string {
	n := lang.Normalize(raw)
	if n == "" {
		return ""
	}
	if _, ok := s[n]; !ok {
		return ""
	}
	return n
}

func (s languageSet) fromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		if i := strings.IndexByte(part, ';'); i >= 0 {
			part = part[:i]
		}
		if l := s.pick(part); l != "" {
			return l
		}
	}
	return ""
}

// resolveRequestLanguage picks the viewer language:
// `?lang` query param > `lang` cookie > token `lang` claim > `Accept-Language` header > default.
// Unsupported values are skipped.
func resolveRequestLanguage(c *gin.Context, cfg LanguageConfig) string {
	set := newLanguageSet(cfg.Supported)
	if l := set.pick(c.Query(cfg.QueryParam)); l != "" {
		return l
	}
	if cv, err := c.Cookie(cfg.CookieName); err == nil {
		if l := set.pick(cv); l != "" {
			return l
		}
	}
	if cl, ok := ClaimsFromGin(c); ok {
		if l := set.pick(cl.Language); l != "" {
			return l
		}
	}
	if l := set.fromAcceptLanguage(c.GetHeader("Accept-Language")); l != "" {
		return l
	}
	if l := set.pick(cfg.Default); l != "" {
		return l
	}
	return lang.Default
}

// LanguageMiddleware infers the viewer language and attaches it to the request
// context, where controllers pick it up for notification messages.
func LanguageMiddleware(cfg *LanguageConfig) gin.HandlerFunc {
	c := cfg.defaulted()
	return func(g *gin.Context) {
		l := resolveRequestLanguage(g, c)
		g.Set("accesskit.language", l)
		g.Request = g.Request.WithContext(lang.WithLanguage(g.Request.Context(), l))
		g.Next()
	}
}
