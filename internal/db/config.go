package db

import (
	"fmt"
	"net/url"
	"os"

	"github.com/yourorg/textblast/internal/config"
)

// Config holds PostgreSQL connection parameters for the run registry.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // disable, require, verify-ca, verify-full
	// If provided, DSN takes precedence over other fields.
	DSN string
}

// FromEnv reads DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and
// DB_SSLMODE. DB_DSN, if set, wins over all of them.
func FromEnv() Config {
	return Config{
		Host:     config.Getenv("DB_HOST", "localhost"),
		Port:     config.GetenvInt("DB_PORT", 5432),
		User:     config.Getenv("DB_USER", "postgres"),
		Password: config.Getenv("DB_PASSWORD", ""),
		DBName:   config.Getenv("DB_NAME", "textblast"),
		SSLMode:  config.Getenv("DB_SSLMODE", "disable"),
		DSN:      os.Getenv("DB_DSN"),
	}
}

// Enabled reports whether a registry database has been configured at all.
// Without DB_DSN or DB_HOST the API runs without one.
func Enabled() bool {
	return os.Getenv("DB_DSN") != "" || os.Getenv("DB_HOST") != ""
}

func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
