package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "streamer"
	DefaultLogLevel          = "info"
	DefaultServerAddr        = ":8080"
	DefaultSocketBuffer      = 4096
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultSendBuffer        = 256
	DefaultSubgraphURL       = "https://api.studio.thegraph.com/query/eigenlayer/mainnet/version/latest"
	DefaultSubgraphTimeout   = 15 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultReconnectDelay    = 2 * time.Second
	DefaultControlBuffer     = 64
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultRedisTTL          = 300 * time.Second
	DefaultPageSize          = 500
	DefaultBootstrapLookback = 365 * 24 * time.Hour
	DefaultBootstrapMaxPages = 50
	DefaultRefetchWindow     = 10 * time.Minute
	DefaultBucketWidth       = 300 * time.Second
	DefaultWindow            = 24 * time.Hour
	DefaultPollInterval      = 3 * time.Second
	DefaultSteadyMaxPages    = 10
	DefaultFetchTimeout      = 10 * time.Second
	DefaultConcurrency       = 8
	DefaultHubCapacity       = 1024
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultMetricsPath       = "/metrics"
)

// DefaultCoinbaseChannels is the channel list sent with every subscribe.
var DefaultCoinbaseChannels = []string{"matches"}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadBuffer == 0 {
		c.Server.ReadBuffer = DefaultSocketBuffer
	}
	if c.Server.WriteBuffer == 0 {
		c.Server.WriteBuffer = DefaultSocketBuffer
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}

	// Upstream defaults
	if c.Subgraph.URL == "" {
		c.Subgraph.URL = DefaultSubgraphURL
	}
	if c.Subgraph.Timeout == 0 {
		c.Subgraph.Timeout = DefaultSubgraphTimeout
	}
	if c.Subgraph.MaxRetries == 0 {
		c.Subgraph.MaxRetries = DefaultMaxRetries
	}
	if c.Subgraph.RetryBackoff == 0 {
		c.Subgraph.RetryBackoff = DefaultRetryBackoff
	}
	if len(c.Coinbase.Channels) == 0 {
		c.Coinbase.Channels = append([]string(nil), DefaultCoinbaseChannels...)
	}
	if c.Coinbase.ReconnectDelay == 0 {
		c.Coinbase.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Coinbase.WriteTimeout == 0 {
		c.Coinbase.WriteTimeout = DefaultWriteTimeout
	}
	if c.Coinbase.PingInterval == 0 {
		c.Coinbase.PingInterval = DefaultPingInterval
	}
	if c.Coinbase.PingTimeout == 0 {
		c.Coinbase.PingTimeout = DefaultPingTimeout
	}
	if c.Coinbase.ControlBuffer == 0 {
		c.Coinbase.ControlBuffer = DefaultControlBuffer
	}

	// Storage defaults
	applyDBDefaults(&c.Database.Timescale)
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}

	// Stream defaults
	s := &c.Stream
	if s.PageSize == 0 {
		s.PageSize = DefaultPageSize
	}
	if s.BootstrapLookback == 0 {
		s.BootstrapLookback = DefaultBootstrapLookback
	}
	if s.BootstrapMaxPages == 0 {
		s.BootstrapMaxPages = DefaultBootstrapMaxPages
	}
	if s.RefetchWindow == 0 {
		s.RefetchWindow = DefaultRefetchWindow
	}
	if s.BucketWidth == 0 {
		s.BucketWidth = DefaultBucketWidth
	}
	if s.Window == 0 {
		s.Window = DefaultWindow
	}
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.SteadyMaxPages == 0 {
		s.SteadyMaxPages = DefaultSteadyMaxPages
	}
	if s.FetchTimeout == 0 {
		s.FetchTimeout = DefaultFetchTimeout
	}
	if s.Concurrency == 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.HubCapacity == 0 {
		s.HubCapacity = DefaultHubCapacity
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
