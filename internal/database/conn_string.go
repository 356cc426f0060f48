package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/eigen-stream/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
//
// A non-empty URL wins and is returned unchanged. It comes from
// database.timescale.url, or from TIMESCALE_DATABASE_URL, which overrides the
// file. Only without a URL are the host, port, name, user and password fields
// assembled into a DSN, with sslmode defaulting to prefer.
func BuildConnString(cfg config.DBConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
