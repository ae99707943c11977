package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/config"
	gosnowflake "github.com/snowflakedb/gosnowflake"
)

// AccountHost derives the API hostname for an account identifier.
// Underscores in the identifier become hyphens on the wire.
func AccountHost(account string) string {
	return strings.ReplaceAll(account, "_", "-") + ".snowflakecomputing.com"
}

// Client talks to one Snowflake account, both over the SQL driver and
// the Cortex REST APIs. SQL connections authenticate with the user's
// External OAuth access token, so every query runs as the logged-in
// user under Snowflake's own access controls.
type Client struct {
	cfg        config.SnowflakeConfig
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the configured account
func NewClient(cfg config.SnowflakeConfig) *Client {
	host := cfg.Host
	if host == "" {
		host = AccountHost(cfg.Account)
	}
	baseURL := host
	if !strings.Contains(host, "://") {
		baseURL = "https://" + host
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
	}
}

// Host returns the REST API hostname in use
func (c *Client) Host() string {
	if i := strings.Index(c.baseURL, "://"); i >= 0 {
		return c.baseURL[i+3:]
	}
	return c.baseURL
}

// Open dials a database/sql connection authenticated with the OAuth
// access token. The connection is verified with a ping so callers can
// map failures to an auth error before running statements.
func (c *Client) Open(ctx context.Context, user, accessToken string) (*sql.DB, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:       c.cfg.Account,
		User:          user,
		Authenticator: gosnowflake.AuthTypeOAuth,
		Token:         accessToken,
		Warehouse:     c.cfg.Warehouse,
		Database:      c.cfg.Database,
		Schema:        c.cfg.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}
	return db, nil
}

// SessionInfo describes the server-side session a token produced
type SessionInfo struct {
	User      string `json:"user"`
	Role      string `json:"role"`
	Warehouse string `json:"warehouse"`
	Database  string `json:"database"`
	Schema    string `json:"schema"`
	Timestamp string `json:"timestamp"`
}

// QuerySessionInfo reports who the connection is logged in as
func QuerySessionInfo(ctx context.Context, db *sql.DB) (*SessionInfo, error) {
	row := db.QueryRowContext(ctx,
		"SELECT CURRENT_USER(), CURRENT_ROLE(), CURRENT_WAREHOUSE(), CURRENT_DATABASE(), CURRENT_SCHEMA(), CURRENT_TIMESTAMP()")

	var info SessionInfo
	var user, role, warehouse, database, schema, ts sql.NullString
	if err := row.Scan(&user, &role, &warehouse, &database, &schema, &ts); err != nil {
		return nil, fmt.Errorf("failed to query session info: %w", err)
	}
	info.User = user.String
	info.Role = role.String
	info.Warehouse = warehouse.String
	info.Database = database.String
	info.Schema = schema.String
	info.Timestamp = ts.String
	return &info, nil
}

// Result is a bounded, display-ready query result. Values are
// stringified; RowCount is the number of rows returned, capped at the
// query limit.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Query runs a statement and returns up to limit rows
func Query(ctx context.Context, db *sql.DB, stmt string, limit int) (*Result, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for len(result.Rows) < limit && rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = stringify(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func stringify(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
