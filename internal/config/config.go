package config

import "time"

// Config is the root configuration for a streamer instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Subgraph SubgraphConfig `yaml:"subgraph"`
	Coinbase CoinbaseConfig `yaml:"coinbase"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Stream   StreamConfig   `yaml:"stream"`
	Writers  WritersConfig  `yaml:"writers"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this streamer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the slog level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds the client-facing HTTP and WebSocket settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadBuffer   int           `yaml:"read_buffer"`
	WriteBuffer  int           `yaml:"write_buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

// SubgraphConfig holds the pull upstream (GraphQL indexer) settings.
type SubgraphConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// CoinbaseConfig holds the push upstream settings. An empty URL disables
// the trade relay.
type CoinbaseConfig struct {
	URL            string        `yaml:"url"`
	Channels       []string      `yaml:"channels"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"` // silence before reconnecting
	ControlBuffer  int           `yaml:"control_buffer"`
}

// DatabaseConfig holds the TimescaleDB connection. When neither URL nor Host
// is set the streamer keeps deposits in memory.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	URL      string `yaml:"url"` // full DSN, wins over the fields below
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.URL != "" || db.Host != ""
}

// RedisConfig holds the shared token resolution cache. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// StreamConfig holds ingestion and replay tunables.
type StreamConfig struct {
	PageSize          int           `yaml:"page_size"`
	BootstrapLookback time.Duration `yaml:"bootstrap_lookback"`
	BootstrapMaxPages int           `yaml:"bootstrap_max_pages"`
	RefetchWindow     time.Duration `yaml:"refetch_window"`
	BucketWidth       time.Duration `yaml:"bucket_width"`
	Window            time.Duration `yaml:"window"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	SteadyMaxPages    int           `yaml:"steady_max_pages"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	Concurrency       int           `yaml:"concurrency"`
	HubCapacity       int           `yaml:"hub_capacity"`
}

// WritersConfig holds the trade tick batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// On reports whether the metrics route is served. It defaults to true.
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}
