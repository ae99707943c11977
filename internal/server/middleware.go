package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/cookie"
	jsonwriter "github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/json"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/session"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

type contextKey string

const sessionContextKey contextKey = "session"

// SessionFromContext returns the authenticated session set by the
// session middleware
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	return sess, ok
}

// tokenExpirySkew is how close to expiry an access token may get
// before the middleware refreshes it ahead of the request
const tokenExpirySkew = 60 * time.Second

// TokenRefresher performs the refresh-token grant. *okta.Provider
// satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// NewSessionMiddleware requires a valid session cookie. API requests
// get a 401; page requests are sent to /login. When the session's
// access token is inside the expiry skew window and a refresh token is
// available, the token is refreshed before the handler runs so
// downstream Snowflake calls never carry a token about to lapse.
func NewSessionMiddleware(store *session.Store, refresher TokenRefresher, redirect bool) MiddlewareFunc {
	var refreshGroup singleflight.Group
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deny := func() {
				if redirect {
					http.Redirect(w, r, "/login", http.StatusFound)
					return
				}
				jsonwriter.WriteUnauthorized(w, "Not authenticated")
			}

			id, err := cookie.GetSession(r)
			if err != nil {
				deny()
				return
			}

			sess, err := store.GetSession(id)
			if err != nil {
				cookie.ClearSession(w)
				deny()
				return
			}

			sess = freshenToken(r.Context(), store, refresher, &refreshGroup, sess)

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// freshenToken refreshes the session's access token when it is about
// to expire. Concurrent requests on the same session share a single
// refresh. A failed refresh falls back to the current token; the
// downstream call surfaces the auth error.
func freshenToken(ctx context.Context, store *session.Store, refresher TokenRefresher, group *singleflight.Group, sess *session.Session) *session.Session {
	if refresher == nil || sess.Token == nil || sess.Token.RefreshToken == "" {
		return sess
	}
	if sess.Token.Expiry.IsZero() || time.Until(sess.Token.Expiry) >= tokenExpirySkew {
		return sess
	}

	result, err, _ := group.Do(sess.ID, func() (any, error) {
		token, err := refresher.Refresh(ctx, sess.Token.RefreshToken)
		if err != nil {
			return nil, err
		}
		// Okta may rotate the refresh token or omit it entirely
		if token.RefreshToken == "" {
			token.RefreshToken = sess.Token.RefreshToken
		}
		if err := store.UpdateToken(sess.ID, token); err != nil {
			return nil, err
		}
		return token, nil
	})
	if err != nil {
		log.LogWarnWithFields("session", "Proactive token refresh failed", map[string]any{
			"email": sess.Identity.Email,
			"error": err.Error(),
		})
		return sess
	}

	refreshed := *sess
	refreshed.Token = result.(*oauth2.Token)
	return &refreshed
}

// responseWriterDelegator wraps http.ResponseWriter to capture status
// and bytes written while delegating optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush implements http.Flusher so SSE keeps streaming through the
// logging wrapper
func (r *responseWriterDelegator) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)
var _ http.Flusher = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware adds request/response logging
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}
			if r.URL.RawQuery != "" {
				fields["query"] = r.URL.RawQuery
			}

			log.LogInfoWithFields(prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Logf("<%s> Recovered from panic: %v", prefix, err)
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
