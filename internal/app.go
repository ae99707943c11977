package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/okta"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/server"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/session"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/snowflake"
)

// AppKind selects which chat surface the application exposes
type AppKind string

const (
	// AppAnalyst serves the Cortex Analyst chat backed by a semantic view
	AppAnalyst AppKind = "analyst"
	// AppAgent serves the streaming Cortex Agents chat
	AppAgent AppKind = "agent"
)

// App is one of the demo web applications: Okta login in front,
// Snowflake Cortex behind, every query running as the logged-in user
type App struct {
	kind       AppKind
	config     config.Config
	httpServer *server.HTTPServer
	cleanup    *session.CleanupManager
}

// NewApp builds the application with all dependencies wired
func NewApp(kind AppKind, cfg config.Config) (*App, error) {
	if kind == AppAnalyst && (cfg.Analyst == nil || cfg.Analyst.SemanticModel == "") {
		return nil, fmt.Errorf("analyst app requires analyst.semanticModel in config")
	}

	log.LogInfoWithFields("app", "Building application", map[string]any{
		"kind":    string(kind),
		"account": cfg.Snowflake.Account,
		"issuer":  cfg.Okta.Issuer,
	})

	provider := okta.NewProvider(cfg.Okta)
	store := session.NewStore(cfg.SessionTTL(), cfg.LoginTTL())
	cleanup := session.NewCleanupManager(store, cfg.CleanupInterval())
	sf := snowflake.NewClient(cfg.Snowflake)

	mux := buildMux(kind, cfg, provider, store, sf)
	handler := server.ChainMiddleware(mux,
		server.NewLoggerMiddleware(string(kind)),
		server.NewRecoverMiddleware(string(kind)),
	)

	return &App{
		kind:       kind,
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
		cleanup:    cleanup,
	}, nil
}

func buildMux(kind AppKind, cfg config.Config, provider *okta.Provider, store *session.Store, sf *snowflake.Client) *http.ServeMux {
	semanticView := ""
	if cfg.Analyst != nil {
		semanticView = cfg.Analyst.SemanticModel
	}

	authHandler := server.NewAuthHandler(provider, store, cfg.SessionTTL())
	apiHandler := server.NewAPIHandler(sf, semanticView)

	appName := "Cortex Analyst Demo"
	chatLabel := "Open Cortex Analyst chat"
	if kind == AppAgent {
		appName = "Cortex Agents Demo"
		chatLabel = "Open Cortex Agents chat"
	}
	pageHandler := server.NewPageHandler(store, appName, "/chat", chatLabel)

	requireAPI := server.NewSessionMiddleware(store, provider, false)
	requirePage := server.NewSessionMiddleware(store, provider, true)

	mux := http.NewServeMux()

	mux.HandleFunc("/", pageHandler.Dashboard)
	mux.HandleFunc("/login", authHandler.Login)
	mux.HandleFunc("/callback", authHandler.Callback)
	mux.HandleFunc("/logout", authHandler.Logout)
	mux.Handle("/health", server.NewHealthHandler(string(kind)))

	mux.Handle("/api/user", requireAPI(http.HandlerFunc(apiHandler.UserInfo)))
	mux.Handle("/api/token/refresh", requireAPI(http.HandlerFunc(authHandler.RefreshToken)))
	mux.Handle("/api/snowflake/test", requireAPI(http.HandlerFunc(apiHandler.SnowflakeTest)))
	mux.Handle("/api/snowflake/query", requireAPI(http.HandlerFunc(apiHandler.SnowflakeQuery)))

	switch kind {
	case AppAnalyst:
		mux.Handle("/chat", requirePage(http.HandlerFunc(pageHandler.AnalystChat)))
		mux.Handle("POST /api/cortex/chat", requireAPI(http.HandlerFunc(apiHandler.AnalystChat)))
	case AppAgent:
		agentHandler := server.NewAgentHandler(sf)
		mux.Handle("/chat", requirePage(http.HandlerFunc(pageHandler.AgentChat)))
		mux.Handle("/api/agents", requireAPI(http.HandlerFunc(agentHandler.ListAgents)))
		mux.Handle("POST /api/cortex/agent/chat", requireAPI(http.HandlerFunc(agentHandler.AgentChat)))
	}

	return mux
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	a.cleanup.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("app", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("app", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-ctx.Done():
		shutdownReason = "context cancelled"
	}

	log.LogInfoWithFields("app", "Starting graceful shutdown", map[string]any{
		"reason": shutdownReason,
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("app", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	a.cleanup.Stop()

	log.LogInfoWithFields("app", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}
