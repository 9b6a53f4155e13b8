package shared

import (
	"net/http"
	"time"
)

// CookieWriter emits the session cookie with the attribute set required for
// running framed inside a foreign host origin: SameSite=None plus the
// partitioned opt-in, always HttpOnly, always Path=/.
type CookieWriter struct {
	Name   string
	Secure bool
}

// Write sets the session cookie carrying the signed token, with Max-Age
// derived from the caller's tier TTL.
func (c CookieWriter) Write(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:        c.Name,
		Value:       token,
		Path:        "/",
		MaxAge:      int(maxAge / time.Second),
		HttpOnly:    true,
		Secure:      c.Secure,
		SameSite:    http.SameSiteNoneMode,
		Partitioned: true,
	})
}

// Clear expires the session cookie immediately. Used on every denial so a
// poisoned token cannot cause a redirect loop.
func (c CookieWriter) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:        c.Name,
		Value:       "",
		Path:        "/",
		MaxAge:      -1,
		HttpOnly:    true,
		Secure:      c.Secure,
		SameSite:    http.SameSiteNoneMode,
		Partitioned: true,
	})
}
