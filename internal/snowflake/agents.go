package snowflake

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Agent identifies a Cortex Agent visible to the user
type Agent struct {
	Name      string `json:"name"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	FullPath  string `json:"full_path"`
	CreatedOn string `json:"created_on"`
	Owner     string `json:"owner"`
}

// ListAgents enumerates agents the connection's role can see. Runs on
// the user's own connection, so visibility follows their grants.
func ListAgents(ctx context.Context, db *sql.DB) ([]Agent, error) {
	result, err := Query(ctx, db, "SHOW AGENTS IN ACCOUNT", 1000)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	agents := make([]Agent, 0, len(result.Rows))
	for _, row := range result.Rows {
		agent := Agent{
			Name:      stringField(row, "name"),
			Database:  stringField(row, "database_name"),
			Schema:    stringField(row, "schema_name"),
			CreatedOn: stringField(row, "created_on"),
			Owner:     stringField(row, "owner"),
		}
		agent.FullPath = fmt.Sprintf("%s.%s.%s", agent.Database, agent.Schema, agent.Name)
		agents = append(agents, agent)
	}
	return agents, nil
}

func stringField(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

// RunAgent starts a streaming agent run and returns the SSE response
// body. The caller owns the body and must close it.
func (c *Client) RunAgent(ctx context.Context, accessToken, database, schema, name, message string) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]string{
					{"type": "text", "text": message},
				},
			},
		},
		"tool_choice": map[string]string{"type": "auto"},
		"stream":      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent request: %w", err)
	}

	runURL := fmt.Sprintf("%s/api/v2/databases/%s/schemas/%s/agents/%s:run",
		c.baseURL, url.PathEscape(database), url.PathEscape(schema), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build agent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set(tokenTypeHeader, "OAUTH")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout here, agent runs stream for as long as the
	// request context allows
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

// TranslateAgentEvent normalizes a raw agent stream event into the
// simplified chunk shape the browser consumes. Returns false for
// events that produce no output.
func TranslateAgentEvent(name, data string) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, false
	}
	// Agent streams sometimes put the event name in the payload
	if name == "" {
		name, _ = fields["event"].(string)
	}

	switch name {
	case "response.thinking.delta":
		if text, _ := fields["text"].(string); text != "" {
			return map[string]any{"type": "thinking", "content": text}, true
		}

	case "response.text.delta":
		if text, _ := fields["text"].(string); text != "" {
			return map[string]any{"type": "message", "content": text}, true
		}

	case "response.table":
		for _, key := range []string{"table", "json", "content"} {
			if table := fields[key]; table != nil {
				return map[string]any{"type": "table", "data": table}, true
			}
		}

	case "response.chart":
		if spec := chartSpec(fields); spec != "" {
			return map[string]any{"type": "chart", "chart_spec": spec}, true
		}

	case "response.tool_use":
		toolName, _ := fields["tool_name"].(string)
		if toolName == "" {
			toolName, _ = fields["tool_type"].(string)
		}
		return map[string]any{"type": "status", "content": "Using tool: " + toolName}, true

	case "response.tool_result.analyst.delta":
		delta, _ := fields["delta"].(map[string]any)
		if sqlText, _ := delta["sql"].(string); sqlText != "" {
			explanation, _ := delta["sql_explanation"].(string)
			return map[string]any{"type": "sql", "sql": sqlText, "explanation": explanation}, true
		}

	case "response.status":
		if msg, _ := fields["message"].(string); msg != "" {
			return map[string]any{"type": "status", "content": msg}, true
		}

	case "error":
		msg, _ := fields["message"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return map[string]any{"type": "error", "content": msg}, true
	}

	return nil, false
}

// chartSpec digs the Vega-Lite spec out of the several places agent
// responses have been seen to put it
func chartSpec(fields map[string]any) string {
	if spec, ok := fields["chart_spec"].(string); ok && spec != "" {
		return spec
	}
	if chart, ok := fields["chart"].(map[string]any); ok {
		if spec, ok := chart["chart_spec"].(string); ok && spec != "" {
			return spec
		}
		if chart["mark"] != nil || chart["encoding"] != nil {
			if encoded, err := json.Marshal(chart); err == nil {
				return string(encoded)
			}
		}
	}
	if j, ok := fields["json"].(map[string]any); ok {
		if j["mark"] != nil || j["encoding"] != nil {
			if encoded, err := json.Marshal(j); err == nil {
				return string(encoded)
			}
		}
	}
	return ""
}
