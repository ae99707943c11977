package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	jsonwriter "github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/json"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/snowflake"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/sse"
)

// AgentHandler serves agent discovery and streaming chat
type AgentHandler struct {
	sf *snowflake.Client
}

// NewAgentHandler creates the agent handler
func NewAgentHandler(sf *snowflake.Client) *AgentHandler {
	return &AgentHandler{sf: sf}
}

// ListAgents returns the agents visible to the user's role
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
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

	agents, err := snowflake.ListAgents(r.Context(), db)
	if err != nil {
		writeSnowflakeError(w, err)
		return
	}
	jsonwriter.Write(w, agents)
}

type agentChatRequest struct {
	AgentDatabase string `json:"agent_database"`
	AgentSchema   string `json:"agent_schema"`
	AgentName     string `json:"agent_name"`
	Message       string `json:"message"`
}

// AgentChat runs the agent and relays its stream to the browser,
// normalizing raw agent events into simple typed chunks. The stream
// always terminates with a [DONE] sentinel, including on errors.
func (h *AgentHandler) AgentChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req agentChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.AgentDatabase == "" || req.AgentSchema == "" || req.AgentName == "" || req.Message == "" {
		jsonwriter.WriteBadRequest(w, "Missing required fields")
		return
	}

	log.LogInfoWithFields("agent", "Starting agent run", map[string]any{
		"email": sess.Identity.Email,
		"agent": req.AgentDatabase + "." + req.AgentSchema + "." + req.AgentName,
	})

	upstream, err := h.sf.RunAgent(r.Context(), sess.Token.AccessToken,
		req.AgentDatabase, req.AgentSchema, req.AgentName, req.Message)
	if err != nil {
		writeCortexError(w, err)
		return
	}
	defer upstream.Body.Close()

	stream, err := sse.NewWriter(w)
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Streaming not supported")
		return
	}

	reader := sse.NewReader(upstream.Body)
	for {
		event, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.LogError("Agent stream read failed: %v", err)
				_ = stream.WriteData(map[string]any{
					"type": "error", "content": "stream interrupted",
				})
			}
			break
		}

		if event.Data == "[DONE]" {
			break
		}

		chunk, ok := snowflake.TranslateAgentEvent(event.Name, event.Data)
		if !ok {
			continue
		}
		if err := stream.WriteData(chunk); err != nil {
			// Browser went away
			log.LogDebug("Client disconnected during agent stream: %v", err)
			return
		}
	}

	_ = stream.WriteDone()
	log.LogDebugWithFields("agent", "Agent stream complete", map[string]any{
		"email": sess.Identity.Email,
	})
}
