package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

const supportedVersionPrefix = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, supportedVersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// Parse into the typed Config struct. The custom UnmarshalJSON methods
	// resolve env var references immediately.
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig checks secret hygiene before environment resolution:
// the Okta client secret must be an env reference, never a literal
func validateRawConfig(rawConfig map[string]any) error {
	okta, ok := rawConfig["okta"].(map[string]any)
	if !ok {
		return nil
	}

	if value, exists := okta["clientSecret"]; exists {
		if _, isString := value.(string); isString {
			return fmt.Errorf("okta.clientSecret must use an environment variable reference for security")
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("okta.clientSecret must use {\"$env\": \"VAR_NAME\"} format")
			}
		}
	}
	return nil
}

// Validate validates the resolved configuration
func Validate(config *Config) error {
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if config.Okta.Issuer == "" {
		return fmt.Errorf("okta.issuer is required")
	}
	issuer, err := url.Parse(config.Okta.Issuer)
	if err != nil || issuer.Scheme == "" || issuer.Host == "" {
		return fmt.Errorf("okta.issuer must be an absolute URL")
	}
	if config.Okta.ClientID == "" {
		return fmt.Errorf("okta.clientId is required")
	}
	if config.Okta.ClientSecret == "" {
		return fmt.Errorf("okta.clientSecret is required")
	}
	if config.Okta.RedirectURI == "" {
		return fmt.Errorf("okta.redirectUri is required")
	}
	if _, err := url.Parse(config.Okta.RedirectURI); err != nil {
		return fmt.Errorf("okta.redirectUri is not a valid URL: %w", err)
	}

	if config.Snowflake.Account == "" {
		return fmt.Errorf("snowflake.account is required")
	}
	if config.Snowflake.Warehouse == "" {
		return fmt.Errorf("snowflake.warehouse is required")
	}

	if config.Analyst != nil && config.Analyst.SemanticModel == "" {
		return fmt.Errorf("analyst.semanticModel is required when analyst is configured")
	}

	return nil
}

// WriteDefault generates a starter config file at the given path
func WriteDefault(path string) error {
	defaultConfig := map[string]any{
		"version": "v1",
		"server": map[string]any{
			"addr": ":8001",
		},
		"okta": map[string]any{
			"issuer":       "https://yourOktaDomain.okta.com/oauth2/yourAuthServerId",
			"clientId":     "0oa_your_client_id",
			"clientSecret": map[string]string{"$env": "OKTA_CLIENT_SECRET"},
			"redirectUri":  "http://localhost:8001/callback",
			"scopes":       []string{"openid", "profile", "email", "session:role-any", "offline_access"},
		},
		"snowflake": map[string]any{
			"account":   "myorg-myaccount",
			"warehouse": "COMPUTE_WH",
			"database":  "DEMO_DB",
			"schema":    "PUBLIC",
		},
		"analyst": map[string]any{
			"semanticModel": "DEMO_DB.PUBLIC.REVENUE_SEMANTIC_VIEW",
		},
		"sessions": map[string]any{
			"ttl":             "1h",
			"loginTtl":        "10m",
			"cleanupInterval": "1m",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
