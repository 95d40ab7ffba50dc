package session

import (
	"net/http"
	"time"
)

// CookieName carries the session token. The __Host- prefix pins it to this
// host with Path=/ and no Domain.
const CookieName = "__Host-session"

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) cookie(value string) *http.Cookie {
	sameSite := o.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: sameSite,
	}
}

// SetCookie issues the session token to the client. The cookie lives as long
// as the token.
func SetCookie(w http.ResponseWriter, token string, expiresAt time.Time, opts CookieOptions) {
	c := opts.cookie(token)
	c.Expires = expiresAt
	http.SetCookie(w, c)
}

func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	c := opts.cookie("")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// TokenFromRequest returns the session token carried by r, if any.
func TokenFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
