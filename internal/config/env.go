package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables honoured on top of the file.
const (
	EnvPageSize          = "DEPOSITS_PAGE_SIZE"
	EnvLookbackDays      = "DEPOSITS_BOOTSTRAP_LOOKBACK_DAYS"
	EnvBootstrapMaxPages = "DEPOSITS_BOOTSTRAP_MAX_PAGES"
	EnvBucketSec         = "DEPOSITS_BUCKET_SEC"
	EnvRefetchSec        = "DEPOSITS_REFETCH_SEC"
	EnvPollMillis        = "DEPOSITS_POLL_MS"
	EnvSubgraphURL       = "SUBGRAPH_URL"
	EnvSubgraphAPIKey    = "SUBGRAPH_API_KEY"
	EnvTimescaleURL      = "TIMESCALE_DATABASE_URL"
	EnvRedisURL          = "REDIS_URL"
	EnvRedisTTLSeconds   = "REDIS_TTL_SECONDS"
	EnvSourceURL         = "SOURCE_URL"
)

func (c *Config) applyEnv() error {
	ints := []struct {
		name  string
		apply func(int)
	}{
		{EnvPageSize, func(v int) { c.Stream.PageSize = v }},
		{EnvLookbackDays, func(v int) { c.Stream.BootstrapLookback = time.Duration(v) * 24 * time.Hour }},
		{EnvBootstrapMaxPages, func(v int) { c.Stream.BootstrapMaxPages = v }},
		{EnvBucketSec, func(v int) { c.Stream.BucketWidth = time.Duration(v) * time.Second }},
		{EnvRefetchSec, func(v int) { c.Stream.RefetchWindow = time.Duration(v) * time.Second }},
		{EnvPollMillis, func(v int) { c.Stream.PollInterval = time.Duration(v) * time.Millisecond }},
		{EnvRedisTTLSeconds, func(v int) { c.Redis.TTL = time.Duration(v) * time.Second }},
	}
	for _, o := range ints {
		raw, ok := os.LookupEnv(o.name)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("env %s: %w", o.name, err)
		}
		o.apply(v)
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{EnvSubgraphURL, &c.Subgraph.URL},
		{EnvSubgraphAPIKey, &c.Subgraph.APIKey},
		{EnvTimescaleURL, &c.Database.Timescale.URL},
		{EnvRedisURL, &c.Redis.Addr},
		{EnvSourceURL, &c.Coinbase.URL},
	}
	for _, o := range strs {
		if v := os.Getenv(o.name); v != "" {
			*o.dst = v
		}
	}
	return nil
}
