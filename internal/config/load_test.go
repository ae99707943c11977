package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `{
  "version": "v1",
  "server": {"addr": ":8001"},
  "okta": {
    "issuer": "https://dev-1.okta.com/oauth2/aus123",
    "clientId": "0oa123",
    "clientSecret": {"$env": "TEST_OKTA_SECRET"},
    "redirectUri": "http://localhost:8001/callback",
    "scopes": ["openid", "profile", "email", "session:role-any", "offline_access"]
  },
  "snowflake": {
    "account": "myorg-myaccount",
    "warehouse": "COMPUTE_WH",
    "database": "DEMO_DB",
    "schema": "PUBLIC"
  },
  "analyst": {"semanticModel": "DEMO_DB.PUBLIC.REVENUE"},
  "sessions": {"ttl": "2h", "loginTtl": "5m", "cleanupInterval": "30s"}
}`

func TestLoad(t *testing.T) {
	t.Setenv("TEST_OKTA_SECRET", "s3cret")

	t.Run("loads valid config and resolves env secrets", func(t *testing.T) {
		path := writeConfigFile(t, validConfig)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, ":8001", cfg.Server.Addr)
		assert.Equal(t, "https://dev-1.okta.com/oauth2/aus123", cfg.Okta.Issuer)
		assert.Equal(t, Secret("s3cret"), cfg.Okta.ClientSecret)
		assert.Equal(t, "myorg-myaccount", cfg.Snowflake.Account)
		require.NotNil(t, cfg.Analyst)
		assert.Equal(t, "DEMO_DB.PUBLIC.REVENUE", cfg.Analyst.SemanticModel)
		assert.Equal(t, 2*time.Hour, cfg.SessionTTL())
		assert.Equal(t, 5*time.Minute, cfg.LoginTTL())
		assert.Equal(t, 30*time.Second, cfg.CleanupInterval())
	})

	t.Run("session defaults apply when omitted", func(t *testing.T) {
		path := writeConfigFile(t, `{
  "version": "v1",
  "server": {"addr": ":8002"},
  "okta": {
    "issuer": "https://dev-1.okta.com/oauth2/aus123",
    "clientId": "0oa123",
    "clientSecret": {"$env": "TEST_OKTA_SECRET"},
    "redirectUri": "http://localhost:8002/callback"
  },
  "snowflake": {"account": "myorg-myaccount", "warehouse": "WH"}
}`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, cfg.SessionTTL())
		assert.Equal(t, 10*time.Minute, cfg.LoginTTL())
		assert.Equal(t, time.Minute, cfg.CleanupInterval())
	})

	t.Run("rejects literal client secret", func(t *testing.T) {
		path := writeConfigFile(t, `{
  "version": "v1",
  "server": {"addr": ":8001"},
  "okta": {
    "issuer": "https://dev-1.okta.com/oauth2/aus123",
    "clientId": "0oa123",
    "clientSecret": "plaintext-secret",
    "redirectUri": "http://localhost:8001/callback"
  },
  "snowflake": {"account": "a", "warehouse": "w"}
}`)

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "environment variable reference")
	})

	t.Run("rejects unset env reference", func(t *testing.T) {
		path := writeConfigFile(t, `{
  "version": "v1",
  "server": {"addr": ":8001"},
  "okta": {
    "issuer": "https://dev-1.okta.com/oauth2/aus123",
    "clientId": "0oa123",
    "clientSecret": {"$env": "DEFINITELY_NOT_SET_12345"},
    "redirectUri": "http://localhost:8001/callback"
  },
  "snowflake": {"account": "a", "warehouse": "w"}
}`)

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_12345")
	})

	t.Run("rejects missing version", func(t *testing.T) {
		path := writeConfigFile(t, `{"server": {"addr": ":8001"}}`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "version")
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		tests := []struct {
			name    string
			mutate  func(map[string]any)
			wantErr string
		}{
			{"no addr", func(m map[string]any) { m["server"] = map[string]any{} }, "server.addr"},
			{"no issuer", func(m map[string]any) { m["okta"].(map[string]any)["issuer"] = "" }, "okta.issuer"},
			{"relative issuer", func(m map[string]any) { m["okta"].(map[string]any)["issuer"] = "dev-1.okta.com" }, "absolute URL"},
			{"no client id", func(m map[string]any) { m["okta"].(map[string]any)["clientId"] = "" }, "okta.clientId"},
			{"no redirect", func(m map[string]any) { m["okta"].(map[string]any)["redirectUri"] = "" }, "okta.redirectUri"},
			{"no account", func(m map[string]any) { m["snowflake"].(map[string]any)["account"] = "" }, "snowflake.account"},
			{"no warehouse", func(m map[string]any) { m["snowflake"].(map[string]any)["warehouse"] = "" }, "snowflake.warehouse"},
			{"empty semantic model", func(m map[string]any) { m["analyst"] = map[string]any{"semanticModel": ""} }, "analyst.semanticModel"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var raw map[string]any
				require.NoError(t, json.Unmarshal([]byte(validConfig), &raw))
				tt.mutate(raw)
				data, err := json.Marshal(raw)
				require.NoError(t, err)

				_, err = Load(writeConfigFile(t, string(data)))
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})
}

func TestWriteDefault(t *testing.T) {
	t.Run("generated config parses", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "default.json")
		require.NoError(t, WriteDefault(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, "v1", raw["version"])
	})
}

func TestSecret(t *testing.T) {
	t.Run("redacts in String", func(t *testing.T) {
		assert.Equal(t, "***", Secret("hunter2").String())
		assert.Equal(t, "", Secret("").String())
	})

	t.Run("redacts in JSON", func(t *testing.T) {
		data, err := json.Marshal(struct {
			S Secret `json:"s"`
		}{S: "hunter2"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"s":"***"}`, string(data))
	})
}
