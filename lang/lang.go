// Package lang carries the viewer's language through contexts and renders the
// entitlement progress messages in it.
package lang

import "context"

type ctxKey struct{}

// WithLanguage attaches a viewer language to ctx.
func WithLanguage(ctx context.Context, language string) context.Context {
	return context.WithValue(ctx, ctxKey{}, language)
}

// LanguageFromContext reads a viewer language from ctx.
func LanguageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxKey{})
	s, ok := v.(string)
	return s, ok && s != ""
}

// FromContextOr returns the language in ctx, or fallback when none is set.
func FromContextOr(ctx context.Context, fallback string) string {
	if v, ok := LanguageFromContext(ctx); ok {
		return v
	}
	if fallback == "" {
		return Default
	}
	return fallback
}
