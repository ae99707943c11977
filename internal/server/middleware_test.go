package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/cookie"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/okta"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSessionMiddlewareAllowsValidSession(t *testing.T) {
	store := session.NewStore(time.Hour, 10*time.Minute)
	sess := store.CreateSession(okta.Identity{Email: "jordan@example.com"}, &oauth2.Token{AccessToken: "a"})

	var got *session.Session
	handler := NewSessionMiddleware(store, nil, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SessionFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "jordan@example.com", got.Identity.Email)
}

func TestSessionMiddlewareRejectsMissingCookie(t *testing.T) {
	store := session.NewStore(time.Hour, 10*time.Minute)
	handler := NewSessionMiddleware(store, nil, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestSessionMiddlewareRedirectsPages(t *testing.T) {
	store := session.NewStore(time.Hour, 10*time.Minute)
	handler := NewSessionMiddleware(store, nil, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestSessionMiddlewareClearsStaleCookie(t *testing.T) {
	store := session.NewStore(time.Hour, 10*time.Minute)
	handler := NewSessionMiddleware(store, nil, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: "no-such-session"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestSessionMiddlewareRefreshesExpiringToken(t *testing.T) {
	idp := fakeOkta(t)
	provider := okta.NewProvider(config.OktaConfig{
		Issuer:      idp.URL,
		ClientID:    "client-id",
		RedirectURI: "http://localhost:8000/callback",
	})
	store := session.NewStore(time.Hour, 10*time.Minute)
	sess := store.CreateSession(okta.Identity{Email: "jordan@example.com"}, &oauth2.Token{
		AccessToken:  "access-stale",
		RefreshToken: "refresh-456",
		Expiry:       time.Now().Add(30 * time.Second),
	})

	var seen string
	handler := NewSessionMiddleware(store, provider, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := SessionFromContext(r.Context())
		require.True(t, ok)
		seen = got.Token.AccessToken
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/snowflake/test", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "access-789", seen)

	stored, err := store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-789", stored.Token.AccessToken)
	assert.Equal(t, "refresh-rotated", stored.Token.RefreshToken)
}

func TestSessionMiddlewareLeavesFreshTokenAlone(t *testing.T) {
	idp := fakeOkta(t)
	provider := okta.NewProvider(config.OktaConfig{
		Issuer:      idp.URL,
		ClientID:    "client-id",
		RedirectURI: "http://localhost:8000/callback",
	})
	store := session.NewStore(time.Hour, 10*time.Minute)
	sess := store.CreateSession(okta.Identity{Email: "jordan@example.com"}, &oauth2.Token{
		AccessToken:  "access-fresh",
		RefreshToken: "refresh-456",
		Expiry:       time.Now().Add(time.Hour),
	})

	var seen string
	handler := NewSessionMiddleware(store, provider, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := SessionFromContext(r.Context())
		seen = got.Token.AccessToken
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "access-fresh", seen)
}

func TestSessionMiddlewareKeepsTokenWhenRefreshFails(t *testing.T) {
	idp := fakeOkta(t)
	idp.Close()
	provider := okta.NewProvider(config.OktaConfig{
		Issuer:      idp.URL,
		ClientID:    "client-id",
		RedirectURI: "http://localhost:8000/callback",
	})
	store := session.NewStore(time.Hour, 10*time.Minute)
	sess := store.CreateSession(okta.Identity{Email: "jordan@example.com"}, &oauth2.Token{
		AccessToken:  "access-stale",
		RefreshToken: "refresh-456",
		Expiry:       time.Now().Add(30 * time.Second),
	})

	var seen string
	handler := NewSessionMiddleware(store, provider, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := SessionFromContext(r.Context())
		seen = got.Token.AccessToken
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "access-stale", seen)
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := ChainMiddleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}),
		mw("inner"),
		mw("outer"),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRecoverMiddleware(t *testing.T) {
	handler := NewRecoverMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterDelegator(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := wrapResponseWriter(rec)

	wrapped.WriteHeader(http.StatusTeapot)
	wrapped.WriteHeader(http.StatusOK) // second call ignored
	n, err := wrapped.Write([]byte("hello"))

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusTeapot, wrapped.Status())
	assert.Equal(t, 5, wrapped.BytesWritten())
}
