package transient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

// CookiePrefix namespaces every transient parameter cookie.
const CookiePrefix = "__oauth_p_"

// Parameter names carried between login start and callback.
const (
	AllowEmailShift = "allowEmailShift"
	ReturnTo        = "returnTo"
	State           = "state"
	PKCE            = "pkce"
)

type Options struct {
	HashKey    []byte // HMAC key, 32 or 64 bytes
	EncryptKey []byte // AES key, 16, 24 or 32 bytes
	TTL        time.Duration
	Secure     bool
}

// Store carries short-lived parameters across the provider redirect in
// signed and encrypted cookies. Forged or tampered values read as absent.
type Store struct {
	cookies *httphelper.CookieHandler
}

func New(opts Options) (*Store, error) {
	if len(opts.HashKey) < 32 {
		return nil, fmt.Errorf("transient: hash key must be at least 32 bytes, got %d", len(opts.HashKey))
	}
	switch len(opts.EncryptKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("transient: encrypt key must be 16, 24 or 32 bytes, got %d", len(opts.EncryptKey))
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("transient: ttl must be positive")
	}

	handlerOpts := []httphelper.CookieHandlerOpt{
		httphelper.WithMaxAge(int(opts.TTL.Seconds())),
		httphelper.WithSameSite(http.SameSiteLaxMode),
	}
	if !opts.Secure {
		handlerOpts = append(handlerOpts, httphelper.WithUnsecure())
	}

	return &Store{
		cookies: httphelper.NewCookieHandler(opts.HashKey, opts.EncryptKey, handlerOpts...),
	}, nil
}

type flowKey struct{}

// Flow returns the parameter flow of one request/response pair. A flow
// attached with Attach is shared by everything handling the request.
func (s *Store) Flow(w http.ResponseWriter, r *http.Request) *Flow {
	if f, ok := r.Context().Value(flowKey{}).(*Flow); ok {
		return f
	}
	return &Flow{store: s, w: w, r: r, set: map[string]string{}}
}

// Attach returns r carrying its flow so later callers observe the same state.
func (s *Store) Attach(w http.ResponseWriter, r *http.Request) (*Flow, *http.Request) {
	f := s.Flow(w, r)
	if _, ok := r.Context().Value(flowKey{}).(*Flow); ok {
		return f, r
	}
	r = r.WithContext(context.WithValue(r.Context(), flowKey{}, f))
	f.r = r
	return f, r
}

// Begin starts a login flow from the query of the login request. Parameters
// left over from an abandoned flow are expired.
func (s *Store) Begin(w http.ResponseWriter, r *http.Request) (*Flow, error) {
	f := s.Flow(w, r)

	next := map[string]string{}
	q := r.URL.Query()
	if allow, err := strconv.ParseBool(q.Get("allowEmailShift")); err == nil && allow {
		next[AllowEmailShift] = "true"
	}
	if to := q.Get("return_to"); IsRelativePath(to) {
		next[ReturnTo] = to
	}

	f.expire(func(cookie string) bool {
		_, keep := next[strings.TrimPrefix(cookie, CookiePrefix)]
		return !keep
	})
	f.cleared = true

	for name, value := range next {
		if err := f.Set(name, value); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Flow is the set of transient parameters of one request/response pair.
type Flow struct {
	store   *Store
	w       http.ResponseWriter
	r       *http.Request
	set     map[string]string
	cleared bool
}

// Set stores value for the rest of this request and, through the response,
// for the next request of the flow.
func (f *Flow) Set(name, value string) error {
	if err := f.store.cookies.SetCookie(f.w, CookiePrefix+name, value); err != nil {
		return fmt.Errorf("transient: set %s: %w", name, err)
	}
	f.set[name] = value
	return nil
}

// Get reads a parameter without consuming it.
func (f *Flow) Get(name string) (string, bool) {
	if v, ok := f.set[name]; ok {
		return v, true
	}
	if f.cleared {
		return "", false
	}
	v, err := f.store.cookies.CheckCookie(f.r, CookiePrefix+name)
	if err != nil {
		return "", false
	}
	return v, true
}

// DeleteAll forgets every parameter of the flow and expires their cookies.
func (f *Flow) DeleteAll() {
	if f.cleared && len(f.set) == 0 {
		return
	}
	f.expire(func(string) bool { return true })
	f.cleared = true
}

func (f *Flow) expire(match func(name string) bool) {
	seen := map[string]bool{}
	for _, c := range f.r.Cookies() {
		if strings.HasPrefix(c.Name, CookiePrefix) && !seen[c.Name] && match(c.Name) {
			seen[c.Name] = true
			f.store.cookies.DeleteCookie(f.w, c.Name)
		}
	}
	for name := range f.set {
		if !seen[CookiePrefix+name] && match(CookiePrefix+name) {
			f.store.cookies.DeleteCookie(f.w, CookiePrefix+name)
		}
	}
	f.set = map[string]string{}
}

// AllowEmailShift reports the caller's consent to move an email between
// accounts. Absent or unparsable means no.
func (f *Flow) AllowEmailShift() bool {
	v, ok := f.Get(AllowEmailShift)
	if !ok {
		return false
	}
	allow, err := strconv.ParseBool(v)
	return err == nil && allow
}

// ReturnTo is the local path to land on after login, or "/".
func (f *Flow) ReturnTo() string {
	if v, ok := f.Get(ReturnTo); ok && IsRelativePath(v) {
		return v
	}
	return "/"
}

// IsRelativePath accepts same-origin absolute paths only.
func IsRelativePath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}
