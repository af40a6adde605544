package lang

import (
	"fmt"
	"strings"
)

// Key identifies a user-facing entitlement progress message.
type Key string

const (
	KeyChecking  Key = "checking"
	KeyRetrying  Key = "retrying"
	KeyConfirmed Key = "confirmed"
	KeyStopped   Key = "stopped"
)

const Default = "en"

var catalog = map[string]map[Key]string{
	"en": {
		KeyChecking:  "Payment received. Checking your access to this course...",
		KeyRetrying:  "Still waiting for your access to be confirmed (check %d of %d).",
		KeyConfirmed: "Your access is confirmed. Enjoy the course!",
		KeyStopped:   "We stopped checking. You may not have access yet; refresh the page in a few minutes.",
	},
	"es": {
		KeyChecking:  "Pago recibido. Comprobando tu acceso a este curso...",
		KeyRetrying:  "Seguimos esperando la confirmación de tu acceso (comprobación %d de %d).",
		KeyConfirmed: "Tu acceso está confirmado. ¡Disfruta el curso!",
		KeyStopped:   "Dejamos de comprobar. Es posible que aún no tengas acceso; recarga la página en unos minutos.",
	},
	"pt": {
		KeyChecking:  "Pagamento recebido. Verificando seu acesso a este curso...",
		KeyRetrying:  "Ainda aguardando a confirmação do seu acesso (verificação %d de %d).",
		KeyConfirmed: "Seu acesso está confirmado. Aproveite o curso!",
		KeyStopped:   "Paramos de verificar. Talvez você ainda não tenha acesso; recarregue a página em alguns minutos.",
	},
}

// Supported returns the languages with a message catalog.
func Supported() []string { return []string{"en", "es", "pt"} }

// Message renders key in language, falling back to English for unknown languages.
func Message(language string, key Key, args ...any) string {
	msgs, ok := catalog[Normalize(language)]
	if !ok {
		msgs = catalog[Default]
	}
	tmpl, ok := msgs[key]
	if !ok {
		tmpl = catalog[Default][key]
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// Normalize reduces "pt-BR" / "PT_br" to "pt". Returns "" for anything that is not a
// two-letter code.
func Normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if i := strings.IndexAny(s, "-_"); i >= 0 {
		s = s[:i]
	}
	if len(s) != 2 || s[0] < 'a' || s[0] > 'z' || s[1] < 'a' || s[1] > 'z' {
		return ""
	}
	return s
}
