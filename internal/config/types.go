package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed.
// In config files a Secret must be given as {"$env": "VAR_NAME"}
// so credentials never live in the file itself.
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// UnmarshalJSON resolves {"$env": "VAR_NAME"} references at load time
func (s *Secret) UnmarshalJSON(data []byte) error {
	var ref struct {
		Env string `json:"$env"`
	}
	if err := json.Unmarshal(data, &ref); err == nil && ref.Env != "" {
		value, ok := os.LookupEnv(ref.Env)
		if !ok {
			return fmt.Errorf("environment variable %s is not set", ref.Env)
		}
		*s = Secret(value)
		return nil
	}

	var plain string
	if err := json.Unmarshal(data, &plain); err != nil {
		return fmt.Errorf("secret must be a string or {\"$env\": \"VAR_NAME\"}")
	}
	*s = Secret(plain)
	return nil
}

// Duration parses Go duration strings ("1h", "10m") from JSON
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1h\" or \"10m\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// OktaConfig configures the upstream Okta authorization server
type OktaConfig struct {
	// Issuer is the Okta custom authorization server base URL, e.g.
	// https://dev-123.okta.com/oauth2/ausXXXX. Endpoints default to
	// {issuer}/v1/authorize, /v1/token and /v1/userinfo; when
	// DiscoveryURL is set the endpoints come from OIDC discovery instead.
	Issuer       string   `json:"issuer"`
	DiscoveryURL string   `json:"discoveryUrl,omitempty"`
	ClientID     string   `json:"clientId"`
	ClientSecret Secret   `json:"clientSecret"`
	RedirectURI  string   `json:"redirectUri"`
	Scopes       []string `json:"scopes,omitempty"`
}

// SnowflakeConfig configures the Snowflake account the OAuth tokens target
type SnowflakeConfig struct {
	Account   string `json:"account"`
	Warehouse string `json:"warehouse"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`

	// Host overrides the derived {account}.snowflakecomputing.com REST host
	Host string `json:"host,omitempty"`
}

// AnalystConfig configures the Cortex Analyst chat endpoint
type AnalystConfig struct {
	// SemanticModel is the fully qualified semantic view passed to
	// the Cortex Analyst message API
	SemanticModel string `json:"semanticModel"`
}

// SessionConfig tunes the in-memory session store
type SessionConfig struct {
	TTL             Duration `json:"ttl,omitempty"`
	LoginTTL        Duration `json:"loginTtl,omitempty"`
	CleanupInterval Duration `json:"cleanupInterval,omitempty"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Config is the root configuration shared by the demo apps
type Config struct {
	Version   string          `json:"version"`
	Server    ServerConfig    `json:"server"`
	Okta      OktaConfig      `json:"okta"`
	Snowflake SnowflakeConfig `json:"snowflake"`
	Analyst   *AnalystConfig  `json:"analyst,omitempty"`
	Sessions  *SessionConfig  `json:"sessions,omitempty"`
}

// SessionTTL returns the configured user session lifetime or the 1h default
func (c *Config) SessionTTL() time.Duration {
	if c.Sessions != nil && c.Sessions.TTL > 0 {
		return c.Sessions.TTL.Std()
	}
	return time.Hour
}

// LoginTTL returns the configured login state lifetime or the 10m default
func (c *Config) LoginTTL() time.Duration {
	if c.Sessions != nil && c.Sessions.LoginTTL > 0 {
		return c.Sessions.LoginTTL.Std()
	}
	return 10 * time.Minute
}

// CleanupInterval returns the session sweep interval or the 1m default
func (c *Config) CleanupInterval() time.Duration {
	if c.Sessions != nil && c.Sessions.CleanupInterval > 0 {
		return c.Sessions.CleanupInterval.Std()
	}
	return time.Minute
}
