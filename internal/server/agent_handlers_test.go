package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/cookie"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/okta"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/session"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func agentChatFixture(t *testing.T, upstream http.HandlerFunc) (http.Handler, *session.Session) {
	t.Helper()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	sf := snowflake.NewClient(config.SnowflakeConfig{Account: "test", Host: srv.URL})
	store := session.NewStore(time.Hour, 10*time.Minute)
	sess := store.CreateSession(okta.Identity{Email: "jordan@example.com"}, &oauth2.Token{
		AccessToken: "access-123",
		Expiry:      time.Now().Add(time.Hour),
	})

	h := NewAgentHandler(sf)
	handler := NewSessionMiddleware(store, nil, false)(http.HandlerFunc(h.AgentChat))
	return handler, sess
}

func postAgentChat(t *testing.T, handler http.Handler, sess *session.Session, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/cortex/agent/chat", strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: cookie.SessionCookie, Value: sess.ID})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAgentChatRelaysStream(t *testing.T) {
	handler, sess := agentChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/databases/DB/schemas/SCH/agents/AGENT:run", r.URL.Path)
		assert.Equal(t, "Bearer access-123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: response.thinking.delta\ndata: {\"text\":\"pondering\"}\n\n")
		io.WriteString(w, "event: response.text.delta\ndata: {\"text\":\"Revenue was $1M\"}\n\n")
		io.WriteString(w, "event: response.metadata\ndata: {\"ignored\":true}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	rec := postAgentChat(t, handler, sess,
		`{"agent_database":"DB","agent_schema":"SCH","agent_name":"AGENT","message":"revenue?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"content":"pondering","type":"thinking"}`)
	assert.Contains(t, body, `data: {"content":"Revenue was $1M","type":"message"}`)
	assert.NotContains(t, body, "ignored")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), "stream must end with the sentinel")
}

func TestAgentChatMissingFields(t *testing.T) {
	handler, sess := agentChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	})

	rec := postAgentChat(t, handler, sess, `{"agent_database":"DB","message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentChatUpstreamError(t *testing.T) {
	handler, sess := agentChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"not authorized on agent"}`)
	})

	rec := postAgentChat(t, handler, sess,
		`{"agent_database":"DB","agent_schema":"SCH","agent_name":"AGENT","message":"hi"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not authorized on agent")
}

func TestAgentChatRequiresSession(t *testing.T) {
	handler, _ := agentChatFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/cortex/agent/chat",
		strings.NewReader(`{"agent_database":"DB","agent_schema":"SCH","agent_name":"AGENT","message":"hi"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
