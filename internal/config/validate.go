package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// MaxPageSize is the largest page the indexer accepts.
const MaxPageSize = 1000

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Subgraph.URL == "" {
		return errors.New("subgraph.url is required")
	}

	if c.Database.Timescale.Enabled() {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	s := c.Stream
	if s.PageSize < 1 || s.PageSize > MaxPageSize {
		return fmt.Errorf("stream.page_size must be between 1 and %d, got %d", MaxPageSize, s.PageSize)
	}
	if s.BucketWidth <= 0 {
		return errors.New("stream.bucket_width must be > 0")
	}
	if s.PollInterval <= 0 {
		return errors.New("stream.poll_interval must be > 0")
	}
	if s.Window < s.BucketWidth {
		return fmt.Errorf("stream.window (%s) cannot be shorter than stream.bucket_width (%s)", s.Window, s.BucketWidth)
	}
	if s.BootstrapMaxPages < 1 {
		return errors.New("stream.bootstrap_max_pages must be >= 1")
	}
	if s.SteadyMaxPages < 1 {
		return errors.New("stream.steady_max_pages must be >= 1")
	}
	if s.Concurrency < 1 {
		return errors.New("stream.concurrency must be >= 1")
	}
	if s.RefetchWindow < 0 {
		return errors.New("stream.refetch_window must be >= 0")
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.URL == "" {
		if db.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if db.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if db.User == "" {
			return fmt.Errorf("%s.user is required", prefix)
		}
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
}
