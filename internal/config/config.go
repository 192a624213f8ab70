// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the environment does not say otherwise.
const (
	DefaultAuditLogPath  = "sqlgate-audit.log"
	DefaultHistoryDBPath = "sqlgate-history.sqlite"
	DefaultListenAddr    = ":8080"
	DefaultQueryTimeout  = 30 * time.Second
	DefaultRateLimitRPS  = 10.0
	DefaultRateBurst     = 20
)

// Config is the process configuration, loaded from the environment. Both
// feature flags default to false: a fresh deployment cannot write or run
// procedures until an operator opts in.
type Config struct {
	// SQL Server connection. DSN wins when set; otherwise it is assembled
	// from the discrete MSSQL_* fields.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  string

	AllowModifications    bool
	AllowStoredProcedures bool

	AuditLogPath       string
	HistoryDBPath      string
	SecurityPolicyPath string

	Transport  string // "stdio" (default) or "http"
	ListenAddr string
	LogLevel   string

	QueryTimeout   time.Duration
	RateLimitRPS   float64
	RateLimitBurst int

	// Warnings collects non-fatal findings for the caller to log.
	Warnings []string
}

// LoadFromEnv reads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DSN:                   os.Getenv("MSSQL_DSN"),
		Host:                  os.Getenv("MSSQL_HOST"),
		User:                  os.Getenv("MSSQL_USER"),
		Password:              os.Getenv("MSSQL_PASSWORD"),
		Database:              os.Getenv("MSSQL_DATABASE"),
		Encrypt:               os.Getenv("MSSQL_ENCRYPT"),
		AllowModifications:    parseBoolEnvDefault("ALLOW_MODIFICATIONS", false),
		AllowStoredProcedures: parseBoolEnvDefault("ALLOW_STORED_PROCEDURES", false),
		AuditLogPath:          os.Getenv("AUDIT_LOG_PATH"),
		HistoryDBPath:         os.Getenv("HISTORY_DB_PATH"),
		SecurityPolicyPath:    os.Getenv("SECURITY_POLICY_PATH"),
		Transport:             strings.ToLower(os.Getenv("TRANSPORT")),
		ListenAddr:            os.Getenv("LISTEN_ADDR"),
		LogLevel:              os.Getenv("LOG_LEVEL"),
		QueryTimeout:          DefaultQueryTimeout,
		RateLimitRPS:          DefaultRateLimitRPS,
		RateLimitBurst:        DefaultRateBurst,
	}

	cfg.Port = 1433
	if v := os.Getenv("MSSQL_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MSSQL_PORT %q: %w", v, err)
		}
		cfg.Port = n
	}

	if v := os.Getenv("QUERY_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid QUERY_TIMEOUT_SECONDS %q", v)
		}
		cfg.QueryTimeout = time.Duration(n) * time.Second
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS %q", v)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST %q", v)
		}
		cfg.RateLimitBurst = n
	}

	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = DefaultAuditLogPath
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = DefaultHistoryDBPath
	}
	if cfg.Transport == "" {
		cfg.Transport = "stdio"
	}
	if cfg.Transport != "stdio" && cfg.Transport != "http" {
		return nil, fmt.Errorf("invalid TRANSPORT %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	if cfg.DSN == "" && cfg.Host == "" {
		return nil, fmt.Errorf("MSSQL_DSN or MSSQL_HOST is required")
	}
	if cfg.DSN == "" && cfg.Database == "" {
		return nil, fmt.Errorf("MSSQL_DATABASE is required when MSSQL_DSN is not set")
	}

	if cfg.AllowModifications {
		cfg.Warnings = append(cfg.Warnings, "ALLOW_MODIFICATIONS is enabled — write statements can execute after confirmation")
	}
	if cfg.AllowStoredProcedures {
		cfg.Warnings = append(cfg.Warnings, "ALLOW_STORED_PROCEDURES is enabled — stored procedures can execute after confirmation")
	}

	return cfg, nil
}

// BuildDSN returns the SQL Server connection string: MSSQL_DSN verbatim when
// set, otherwise a sqlserver:// URL assembled from the discrete fields. The
// password never appears in logs because the URL is only handed to the
// driver.
func (c *Config) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	q := url.Values{}
	q.Set("database", c.Database)
	if c.Encrypt != "" {
		q.Set("encrypt", c.Encrypt)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be KEY=VALUE; comments (#) and blank lines are
// skipped. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Real environment variables take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
