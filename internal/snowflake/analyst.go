package snowflake

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/ioutil"
)

// Display cap for inline SQL results attached to chat responses
const maxInlineRows = 100

// tokenTypeHeader tells the API the bearer token is an External OAuth
// access token rather than a Snowflake session token
const tokenTypeHeader = "X-Snowflake-Authorization-Token-Type"

// Warning is a non-fatal notice attached to an Analyst response
type Warning struct {
	Message string `json:"message"`
}

// AnalystResponse is the Cortex Analyst reply. Content blocks are kept
// as loose maps because their shape varies by type (text, sql,
// suggestions) and sql blocks are annotated with results after inline
// execution.
type AnalystResponse struct {
	Content   []map[string]any `json:"content"`
	Warnings  []Warning        `json:"warnings"`
	RequestID string           `json:"request_id"`
}

type analystError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// APIError is a non-200 reply from a Cortex REST endpoint
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cortex API error: status %d: %s", e.StatusCode, e.Message)
}

// AnalystMessage sends the conversation to Cortex Analyst and returns
// its reply. messages is the raw conversation array from the client;
// the configured semantic view scopes what Analyst may query.
func (c *Client) AnalystMessage(ctx context.Context, accessToken, semanticView string, messages json.RawMessage) (*AnalystResponse, error) {
	body, err := json.Marshal(map[string]any{
		"messages":        messages,
		"semantic_models": []map[string]string{{"semantic_view": semanticView}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyst request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/cortex/analyst/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyst request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set(tokenTypeHeader, "OAUTH")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyst request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var raw struct {
		Message struct {
			Content []map[string]any `json:"content"`
		} `json:"message"`
		Warnings  []Warning `json:"warnings"`
		RequestID string    `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode analyst response: %w", err)
	}

	out := &AnalystResponse{
		Content:   raw.Message.Content,
		Warnings:  raw.Warnings,
		RequestID: raw.RequestID,
	}
	if out.Content == nil {
		out.Content = []map[string]any{}
	}
	if out.Warnings == nil {
		out.Warnings = []Warning{}
	}
	return out, nil
}

// ExecuteSQLBlocks runs each sql content block's statement on the
// user's connection and annotates the block with results, row_count,
// or error. Execution failures stay per-block so one bad statement
// does not sink the whole reply.
func ExecuteSQLBlocks(ctx context.Context, db *sql.DB, content []map[string]any) {
	for _, block := range content {
		if block["type"] != "sql" {
			continue
		}
		stmt, _ := block["statement"].(string)
		if stmt == "" {
			continue
		}

		result, err := Query(ctx, db, stmt, maxInlineRows)
		if err != nil {
			block["error"] = err.Error()
			continue
		}
		block["results"] = result.Rows
		block["row_count"] = result.RowCount
	}
}

func decodeAPIError(resp *http.Response) error {
	body := ioutil.ReadLimited(resp.Body, 4096)

	var apiErr analystError
	if err := json.Unmarshal([]byte(body), &apiErr); err == nil && apiErr.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body}
}
