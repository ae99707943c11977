package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	jsonwriter "github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/json"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/snowflake"
)

// Display cap for ad-hoc query results
const maxQueryRows = 100

const defaultQuery = "SHOW TABLES LIMIT 5"

// APIHandler serves the JSON API backed by the user's own Snowflake
// connection
type APIHandler struct {
	sf           *snowflake.Client
	semanticView string
}

// NewAPIHandler creates the API handler
func NewAPIHandler(sf *snowflake.Client, semanticView string) *APIHandler {
	return &APIHandler{sf: sf, semanticView: semanticView}
}

// UserInfo returns the logged-in user's identity and session metadata
func (h *APIHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	jsonwriter.Write(w, map[string]any{
		"user":             sess.Identity,
		"session_created":  sess.CreatedAt.UTC().Format(time.RFC3339),
		"session_expires":  sess.ExpiresAt.UTC().Format(time.RFC3339),
		"token_expires_at": sess.Token.Expiry.UTC().Format(time.RFC3339),
		"has_refresh":      sess.Token.RefreshToken != "",
	})
}

// SnowflakeTest verifies the OAuth token works against Snowflake and
// reports the resulting session context
func (h *APIHandler) SnowflakeTest(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	db, err := h.sf.Open(r.Context(), sess.Identity.Email, sess.Token.AccessToken)
	if err != nil {
		writeSnowflakeError(w, err)
		return
	}
	defer db.Close()

	info, err := snowflake.QuerySessionInfo(r.Context(), db)
	if err != nil {
		writeSnowflakeError(w, err)
		return
	}

	jsonwriter.Write(w, map[string]any{
		"success": true,
		"message": "Snowflake connection successful",
		"data":    info,
	})
}

// SnowflakeQuery runs an ad-hoc statement as the logged-in user. The
// statement comes from the query parameter, defaulting to a harmless
// listing.
func (h *APIHandler) SnowflakeQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	stmt := r.URL.Query().Get("query")
	if stmt == "" {
		stmt = defaultQuery
	}

	db, err := h.sf.Open(r.Context(), sess.Identity.Email, sess.Token.AccessToken)
	if err != nil {
		writeSnowflakeError(w, err)
		return
	}
	defer db.Close()

	result, err := snowflake.Query(r.Context(), db, stmt, maxQueryRows)
	if err != nil {
		writeSnowflakeError(w, err)
		return
	}

	jsonwriter.Write(w, map[string]any{
		"success":   true,
		"query":     stmt,
		"columns":   result.Columns,
		"data":      result.Rows,
		"row_count": result.RowCount,
	})
}

type analystChatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

// AnalystChat forwards the conversation to Cortex Analyst, then runs
// any SQL it produced on the user's connection and folds the results
// into the reply
func (h *APIHandler) AnalystChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req analystChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}
	if len(req.Messages) == 0 || string(req.Messages) == "null" || string(req.Messages) == "[]" {
		jsonwriter.WriteBadRequest(w, "No messages provided")
		return
	}

	log.LogInfoWithFields("analyst", "Processing chat request", map[string]any{
		"email": sess.Identity.Email,
	})

	resp, err := h.sf.AnalystMessage(r.Context(), sess.Token.AccessToken, h.semanticView, req.Messages)
	if err != nil {
		writeCortexError(w, err)
		return
	}

	// Execute produced SQL on the user's own connection. A connection
	// failure degrades to returning the statements unexecuted.
	db, err := h.sf.Open(r.Context(), sess.Identity.Email, sess.Token.AccessToken)
	if err != nil {
		log.LogWarnWithFields("analyst", "Skipping inline SQL execution", map[string]any{
			"error": err.Error(),
		})
	} else {
		defer db.Close()
		snowflake.ExecuteSQLBlocks(r.Context(), db, resp.Content)
	}

	jsonwriter.Write(w, map[string]any{
		"content":    resp.Content,
		"warnings":   resp.Warnings,
		"request_id": resp.RequestID,
	})
}

// writeSnowflakeError maps driver failures onto API errors. Token
// problems surface as 401 so the UI can prompt a refresh or re-login.
func writeSnowflakeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "token") || strings.Contains(lower, "expired") || strings.Contains(lower, "authentication") {
		jsonwriter.WriteUnauthorized(w, "Token expired or invalid. Try /api/token/refresh or log in again.")
		return
	}
	log.LogError("Snowflake error: %v", err)
	jsonwriter.WriteInternalServerError(w, "Snowflake error: "+msg)
}

func writeCortexError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*snowflake.APIError); ok {
		jsonwriter.WriteError(w, apiErr.StatusCode, http.StatusText(apiErr.StatusCode), apiErr.Message)
		return
	}
	log.LogError("Cortex error: %v", err)
	jsonwriter.WriteBadGateway(w, "Cortex request failed")
}
