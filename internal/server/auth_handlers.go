package server

import (
	"net/http"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/cookie"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/crypto"
	jsonwriter "github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/json"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/okta"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/session"
)

// AuthHandler owns the browser-facing OAuth flow
type AuthHandler struct {
	provider   *okta.Provider
	store      *session.Store
	sessionTTL time.Duration
}

// NewAuthHandler creates the auth handler
func NewAuthHandler(provider *okta.Provider, store *session.Store, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		provider:   provider,
		store:      store,
		sessionTTL: sessionTTL,
	}
}

// Login starts the authorization code flow. A fresh state and PKCE
// verifier are minted per attempt and held server side until the
// callback.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to start login")
		return
	}
	verifier := okta.GenerateVerifier()

	authURL, err := h.provider.AuthURL(r.Context(), state, verifier)
	if err != nil {
		log.LogError("Failed to build authorization URL: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to start login")
		return
	}

	h.store.PutLogin(state, verifier)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the flow: validates state, exchanges the code
// with the stored verifier, resolves the user, and issues a session
// cookie
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		log.LogWarnWithFields("auth", "Authorization denied", map[string]any{
			"error":       errCode,
			"description": query.Get("error_description"),
		})
		jsonwriter.WriteBadRequest(w, "Authorization failed: "+errCode)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		jsonwriter.WriteBadRequest(w, "Missing code or state parameter")
		return
	}

	login, err := h.store.TakeLogin(state)
	if err != nil {
		log.LogWarnWithFields("auth", "Unknown or replayed state", map[string]any{
			"state": state,
		})
		jsonwriter.WriteBadRequest(w, "Invalid or expired state")
		return
	}

	token, err := h.provider.Exchange(r.Context(), code, login.Verifier)
	if err != nil {
		log.LogError("Code exchange failed: %v", err)
		jsonwriter.WriteBadGateway(w, "Token exchange failed")
		return
	}

	identity, err := h.provider.UserInfo(r.Context(), token)
	if err != nil {
		log.LogError("Userinfo lookup failed: %v", err)
		jsonwriter.WriteBadGateway(w, "Failed to resolve user identity")
		return
	}

	sess := h.store.CreateSession(*identity, token)
	cookie.SetSession(w, sess.ID, h.sessionTTL)

	log.LogInfoWithFields("auth", "User logged in", map[string]any{
		"email":  identity.Email,
		"domain": identity.Domain,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout drops the server-side session and clears the cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, err := cookie.GetSession(r); err == nil {
		h.store.DeleteSession(id)
	}
	cookie.ClearSession(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// RefreshToken exchanges the session's refresh token for a new access
// token. Okta rotates refresh tokens, so the session is updated with
// whichever refresh token came back.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	if sess.Token.RefreshToken == "" {
		jsonwriter.WriteBadRequest(w, "No refresh token available; request the offline_access scope")
		return
	}

	token, err := h.provider.Refresh(r.Context(), sess.Token.RefreshToken)
	if err != nil {
		log.LogError("Token refresh failed for %s: %v", sess.Identity.Email, err)
		jsonwriter.WriteBadRequest(w, "Token refresh failed")
		return
	}

	rotated := token.RefreshToken != "" && token.RefreshToken != sess.Token.RefreshToken
	if token.RefreshToken == "" {
		token.RefreshToken = sess.Token.RefreshToken
	}

	if err := h.store.UpdateToken(sess.ID, token); err != nil {
		jsonwriter.WriteUnauthorized(w, "Session expired")
		return
	}

	log.LogInfoWithFields("auth", "Token refreshed", map[string]any{
		"email":   sess.Identity.Email,
		"rotated": rotated,
	})
	jsonwriter.Write(w, map[string]any{
		"message":    "Token refreshed successfully",
		"rotated":    rotated,
		"expires_at": token.Expiry.UTC().Format(time.RFC3339),
	})
}
