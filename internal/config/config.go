package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// MinSessionSecretLength is the shortest SESSION_SECRET accepted, in bytes.
const MinSessionSecretLength = 32

type Config struct {
	Port          string
	DataDir       string
	StoreBackend  string
	SQLitePath    string
	DatabaseURL   string
	Warehouses    []string
	SessionSecret string
	SessionMaxAge int
	SecureCookies bool
	AccountsFile  string
	// Accounts maps a username to its bcrypt password hash.
	Accounts  map[string]string
	LogLevel  string
	LogFormat string
}

type accountsFile struct {
	Accounts []struct {
		Username     string `yaml:"username"`
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"accounts"`
}

func New() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("API_PORT", "8080"),
		DataDir:       getEnv("DATA_DIR", "data"),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendCSV)),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Warehouses:    splitList(getEnv("WAREHOUSES", "HB3,HB1/HB2")),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionMaxAge: 8 * 60 * 60,
		SecureCookies: parseBool(os.Getenv("SECURE_COOKIES")),
		AccountsFile:  strings.TrimSpace(os.Getenv("ACCOUNTS_FILE")),
		Accounts:      make(map[string]string),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}
	cfg.SQLitePath = getEnv("SQLITE_PATH", filepath.Join(cfg.DataDir, "desvios.db"))

	var err error
	cfg.SessionMaxAge, err = getEnvAsInt("SESSION_MAX_AGE", cfg.SessionMaxAge)
	if err != nil {
		return nil, err
	}

	if cfg.AccountsFile != "" {
		if err := cfg.loadAccountsFile(cfg.AccountsFile); err != nil {
			return nil, err
		}
	}
	if user := strings.TrimSpace(os.Getenv("DASHBOARD_USER")); user != "" {
		hash := strings.TrimSpace(os.Getenv("DASHBOARD_PASSWORD_HASH"))
		if hash == "" {
			return nil, fmt.Errorf("DASHBOARD_PASSWORD_HASH environment variable is not set for DASHBOARD_USER %q", user)
		}
		cfg.Accounts[user] = hash
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendCSV, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	default:
		return fmt.Errorf("invalid value for STORE_BACKEND: expected csv, sqlite or postgres, got '%s'", c.StoreBackend)
	}

	if len(c.Warehouses) == 0 {
		return errors.New("WAREHOUSES must list at least one warehouse")
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("invalid value for SESSION_MAX_AGE: expected a positive integer, got %d", c.SessionMaxAge)
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	var missing []string
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if len(c.Accounts) == 0 {
		missing = append(missing, "ACCOUNTS_FILE or DASHBOARD_USER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	if len(c.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes, got %d", MinSessionSecretLength, len(c.SessionSecret))
	}
	return nil
}

func (c *Config) loadAccountsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read accounts file: %w", err)
	}

	var parsed accountsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}

	for i, account := range parsed.Accounts {
		username := strings.TrimSpace(account.Username)
		if username == "" || account.PasswordHash == "" {
			return fmt.Errorf("accounts file entry %d needs username and password_hash", i+1)
		}
		c.Accounts[username] = account.PasswordHash
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}

	return value, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
