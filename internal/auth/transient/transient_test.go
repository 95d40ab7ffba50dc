package transient

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{
		HashKey:    bytes.Repeat([]byte("h"), 32),
		EncryptKey: bytes.Repeat([]byte("e"), 32),
		TTL:        5 * time.Minute,
		Secure:     true,
	})
	require.NoError(t, err)
	return s
}

// carry builds the next request of the flow from the cookies a response set.
func carry(t *testing.T, rec *httptest.ResponseRecorder, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return req
}

func expired(rec *httptest.ResponseRecorder) map[string]bool {
	out := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			out[c.Name] = true
		}
	}
	return out
}

func TestFlow_SetAndGetAcrossRedirect(t *testing.T) {
	s := newTestStore(t)

	rec := httptest.NewRecorder()
	f := s.Flow(rec, httptest.NewRequest(http.MethodGet, "/oauth/login/acme", nil))
	require.NoError(t, f.Set(AllowEmailShift, "true"))
	require.NoError(t, f.Set(State, "xyz"))

	v, ok := f.Get(State)
	assert.True(t, ok, "visible in the same flow")
	assert.Equal(t, "xyz", v)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, 300, c.MaxAge)
		assert.NotContains(t, c.Value, "xyz", "values are encrypted")
	}

	next := s.Flow(httptest.NewRecorder(), carry(t, rec, "/oauth/callback/acme"))
	v, ok = next.Get(State)
	assert.True(t, ok)
	assert.Equal(t, "xyz", v)
	assert.True(t, next.AllowEmailShift())

	_, ok = next.Get(PKCE)
	assert.False(t, ok)
}

func TestFlow_RejectsForgedValues(t *testing.T) {
	s := newTestStore(t)

	rec := httptest.NewRecorder()
	f := s.Flow(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, f.Set(State, "true"))
	stateCookie := rec.Result().Cookies()[0]

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"plain value", &http.Cookie{Name: CookiePrefix + AllowEmailShift, Value: "true"}},
		{"tampered value", &http.Cookie{Name: CookiePrefix + AllowEmailShift, Value: stateCookie.Value + "x"}},
		{"value moved from another parameter", &http.Cookie{Name: CookiePrefix + AllowEmailShift, Value: stateCookie.Value}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(tt.cookie)

			f := s.Flow(httptest.NewRecorder(), req)
			_, ok := f.Get(AllowEmailShift)
			assert.False(t, ok)
			assert.False(t, f.AllowEmailShift())
		})
	}
}

func TestFlow_RejectsOtherKeys(t *testing.T) {
	s := newTestStore(t)
	other, err := New(Options{
		HashKey:    bytes.Repeat([]byte("x"), 32),
		EncryptKey: bytes.Repeat([]byte("y"), 16),
		TTL:        time.Minute,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, other.Flow(rec, httptest.NewRequest(http.MethodGet, "/", nil)).Set(AllowEmailShift, "true"))

	f := s.Flow(httptest.NewRecorder(), carry(t, rec, "/"))
	assert.False(t, f.AllowEmailShift())
}

func TestFlow_DeleteAll(t *testing.T) {
	s := newTestStore(t)

	start := httptest.NewRecorder()
	f := s.Flow(start, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, f.Set(AllowEmailShift, "true"))
	require.NoError(t, f.Set(ReturnTo, "/settings"))

	req := carry(t, start, "/oauth/callback/acme")
	req.AddCookie(&http.Cookie{Name: "unrelated", Value: "keep"})

	rec := httptest.NewRecorder()
	cb := s.Flow(rec, req)
	require.True(t, cb.AllowEmailShift())

	cb.DeleteAll()

	_, ok := cb.Get(AllowEmailShift)
	assert.False(t, ok, "a second read after deletion is absent")
	assert.False(t, cb.AllowEmailShift())
	assert.Equal(t, "/", cb.ReturnTo())

	gone := expired(rec)
	assert.True(t, gone[CookiePrefix+AllowEmailShift])
	assert.True(t, gone[CookiePrefix+ReturnTo])
	assert.False(t, gone["unrelated"])
}

func TestFlow_DeleteAllExpiresValuesSetInSameFlow(t *testing.T) {
	s := newTestStore(t)

	rec := httptest.NewRecorder()
	f := s.Flow(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, f.Set(PKCE, "verifier"))
	f.DeleteAll()

	_, ok := f.Get(PKCE)
	assert.False(t, ok)
	assert.True(t, expired(rec)[CookiePrefix+PKCE])
}

func TestStore_Begin(t *testing.T) {
	s := newTestStore(t)

	stale := httptest.NewRecorder()
	require.NoError(t, s.Flow(stale, httptest.NewRequest(http.MethodGet, "/", nil)).Set(State, "old"))

	req := carry(t, stale, "/oauth/login/acme?allowEmailShift=true&return_to=/projects/1")
	rec := httptest.NewRecorder()
	f, err := s.Begin(rec, req)
	require.NoError(t, err)

	assert.True(t, f.AllowEmailShift())
	assert.Equal(t, "/projects/1", f.ReturnTo())
	_, ok := f.Get(State)
	assert.False(t, ok, "stale parameters do not leak into the new flow")
	assert.True(t, expired(rec)[CookiePrefix+State])

	next := s.Flow(httptest.NewRecorder(), carry(t, rec, "/oauth/callback/acme"))
	assert.True(t, next.AllowEmailShift())
	assert.Equal(t, "/projects/1", next.ReturnTo())
}

func TestStore_BeginDefaults(t *testing.T) {
	s := newTestStore(t)

	rec := httptest.NewRecorder()
	f, err := s.Begin(rec, httptest.NewRequest(http.MethodGet, "/oauth/login/acme?allowEmailShift=nope&return_to=https://evil.example", nil))
	require.NoError(t, err)

	assert.False(t, f.AllowEmailShift())
	assert.Equal(t, "/", f.ReturnTo())
	assert.Empty(t, rec.Result().Cookies())
}

func TestStore_AttachSharesFlow(t *testing.T) {
	s := newTestStore(t)
	rec := httptest.NewRecorder()

	f, req := s.Attach(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, f.Set(State, "abc"))

	same := s.Flow(rec, req)
	assert.Same(t, f, same)

	same.DeleteAll()
	_, ok := f.Get(State)
	assert.False(t, ok)

	again, req2 := s.Attach(rec, req)
	assert.Same(t, f, again)
	assert.Same(t, req, req2)
}

func TestNew_ValidatesKeys(t *testing.T) {
	_, err := New(Options{HashKey: []byte("short"), EncryptKey: bytes.Repeat([]byte("e"), 32), TTL: time.Minute})
	assert.Error(t, err)

	_, err = New(Options{HashKey: bytes.Repeat([]byte("h"), 32), EncryptKey: []byte("bad"), TTL: time.Minute})
	assert.Error(t, err)

	_, err = New(Options{HashKey: bytes.Repeat([]byte("h"), 32), EncryptKey: bytes.Repeat([]byte("e"), 32)})
	assert.Error(t, err)
}

func TestIsRelativePath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/", true},
		{"/projects/1?tab=hooks", true},
		{"", false},
		{"projects", false},
		{"//evil.example", false},
		{"/\\evil.example", false},
		{"https://evil.example/", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRelativePath(tt.path))
		})
	}
}
