// Command token-flow exercises the External OAuth setup end to end
// without the web apps: mint tokens from Okta with PKCE, refresh them,
// and validate them against Snowflake.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/log"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/okta"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/snowflake"
	"golang.org/x/oauth2"
)

var BuildVersion = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: token-flow <command> [flags]

Commands:
  login     log in via the browser and print the issued tokens
  refresh   exchange a refresh token for a new access token
  validate  open a Snowflake connection with an access token
  version   print version and exit

Each command takes -config pointing at the app config file.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin(os.Args[2:])
	case "refresh":
		err = runRefresh(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "version":
		fmt.Println(BuildVersion)
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.LogError("%v", err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	conf := fs.String("config", "", "path to config file (required)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if *conf == "" {
		return config.Config{}, fmt.Errorf("-config flag is required")
	}
	return config.Load(*conf)
}

// runLogin drives the full authorization code flow: a local listener
// on the redirect URI catches the callback while the browser handles
// the Okta login
func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	noBrowser := fs.Bool("no-browser", false, "print the URL instead of opening a browser")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	redirect, err := url.Parse(cfg.Okta.RedirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}

	provider := okta.NewProvider(cfg.Okta)
	verifier := okta.GenerateVerifier()
	state := okta.GenerateVerifier()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	authURL, err := provider.AuthURL(ctx, state, verifier)
	if err != nil {
		return err
	}

	type callbackResult struct {
		code string
		err  error
	}
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			fmt.Fprintln(w, "Authorization failed. You can close this tab.")
			results <- callbackResult{err: fmt.Errorf("authorization failed: %s: %s",
				q.Get("error"), q.Get("error_description"))}
		case q.Get("state") != state:
			fmt.Fprintln(w, "State mismatch. You can close this tab.")
			results <- callbackResult{err: fmt.Errorf("state mismatch in callback")}
		default:
			fmt.Fprintln(w, "Login complete. You can close this tab.")
			results <- callbackResult{code: q.Get("code")}
		}
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(listener) }()
	defer srv.Close()

	if *noBrowser {
		fmt.Printf("Open this URL in your browser:\n\n%s\n\n", authURL)
	} else {
		fmt.Println("Opening browser for Okta login...")
		if err := browser.OpenURL(authURL); err != nil {
			fmt.Printf("Could not open browser (%v). Open this URL manually:\n\n%s\n\n", err, authURL)
		}
	}

	var code string
	select {
	case result := <-results:
		if result.err != nil {
			return result.err
		}
		code = result.code
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for the callback")
	}

	token, err := provider.Exchange(ctx, code, verifier)
	if err != nil {
		return err
	}

	printToken(token)
	if token.RefreshToken == "" {
		fmt.Println("\nNo refresh token issued. Add the offline_access scope to get one.")
	}
	return nil
}

func runRefresh(args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	refreshToken := fs.String("token", "", "refresh token (required)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *refreshToken == "" {
		return fmt.Errorf("-token flag is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provider := okta.NewProvider(cfg.Okta)
	token, err := provider.Refresh(ctx, *refreshToken)
	if err != nil {
		return err
	}

	printToken(token)
	if token.RefreshToken != "" && token.RefreshToken != *refreshToken {
		fmt.Println("\nWARNING: Okta rotated your refresh token. Save the new one; the old one is dead.")
	}
	return nil
}

// runValidate proves an access token works against Snowflake by
// opening a driver connection and reporting the session context
func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	accessToken := fs.String("token", "", "access token (required)")
	user := fs.String("user", "", "login name the token maps to (required)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *accessToken == "" || *user == "" {
		return fmt.Errorf("-token and -user flags are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := snowflake.NewClient(cfg.Snowflake)
	db, err := client.Open(ctx, *user, *accessToken)
	if err != nil {
		return err
	}
	defer db.Close()

	info, err := snowflake.QuerySessionInfo(ctx, db)
	if err != nil {
		return err
	}

	fmt.Println("Connection successful.")
	fmt.Printf("  user:      %s\n", info.User)
	fmt.Printf("  role:      %s\n", info.Role)
	fmt.Printf("  warehouse: %s\n", info.Warehouse)
	fmt.Printf("  database:  %s\n", info.Database)
	fmt.Printf("  schema:    %s\n", info.Schema)
	fmt.Printf("  timestamp: %s\n", info.Timestamp)
	return nil
}

func printToken(token *oauth2.Token) {
	fmt.Println("Access token:")
	fmt.Printf("  %s\n", token.AccessToken)
	fmt.Printf("Expires: %s\n", token.Expiry.UTC().Format(time.RFC3339))
	if token.RefreshToken != "" {
		fmt.Println("Refresh token:")
		fmt.Printf("  %s\n", token.RefreshToken)
	}
}
