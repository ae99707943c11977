package server

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/cookie"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/session"
)

//go:embed templates/dashboard.html
var dashboardTemplateHTML string

//go:embed templates/analyst_chat.html
var analystChatTemplateHTML string

//go:embed templates/agent_chat.html
var agentChatTemplateHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardTemplateHTML))
var analystChatTemplate = template.Must(template.New("analyst_chat").Parse(analystChatTemplateHTML))
var agentChatTemplate = template.Must(template.New("agent_chat").Parse(agentChatTemplateHTML))

// DashboardData feeds the landing page
type DashboardData struct {
	AppName   string
	ChatPath  string
	ChatLabel string
	LoggedIn  bool
	Email     string
	Name      string
	Domain    string
}

// ChatPageData feeds the chat pages
type ChatPageData struct {
	AppName string
	Email   string
}

// PageHandler renders the HTML pages
type PageHandler struct {
	store     *session.Store
	appName   string
	chatPath  string
	chatLabel string
}

// NewPageHandler creates the page handler
func NewPageHandler(store *session.Store, appName, chatPath, chatLabel string) *PageHandler {
	return &PageHandler{
		store:     store,
		appName:   appName,
		chatPath:  chatPath,
		chatLabel: chatLabel,
	}
}

// Dashboard renders the landing page for both anonymous and logged-in
// visitors
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := DashboardData{
		AppName:   h.appName,
		ChatPath:  h.chatPath,
		ChatLabel: h.chatLabel,
	}
	if id, err := cookie.GetSession(r); err == nil {
		if sess, err := h.store.GetSession(id); err == nil {
			data.LoggedIn = true
			data.Email = sess.Identity.Email
			data.Name = sess.Identity.Name
			data.Domain = sess.Identity.Domain
		}
	}

	renderTemplate(w, dashboardTemplate, data)
}

// AnalystChat renders the Cortex Analyst chat page
func (h *PageHandler) AnalystChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	renderTemplate(w, analystChatTemplate, ChatPageData{AppName: h.appName, Email: sess.Identity.Email})
}

// AgentChat renders the Cortex Agents chat page
func (h *PageHandler) AgentChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	renderTemplate(w, agentChatTemplate, ChatPageData{AppName: h.appName, Email: sess.Identity.Email})
}

func renderTemplate(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		log.LogError("Failed to render template %s: %v", tmpl.Name(), err)
	}
}
