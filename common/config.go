package common

import "github.com/spf13/viper"

// ===============================================================================
// Event Hub Related Config

// HubConfig defines parameters for the real-time event hub
type HubConfig struct {
	// SendQueueLen is the per-connection delivery queue depth. Broadcasts
	// to a connection with a full queue drop the frame for that connection.
	SendQueueLen int `mapstructure:"send_queue_len" json:"send_queue_len" validate:"gte=1"`
	// MaxConnections caps simultaneous registrations. Zero means no cap.
	MaxConnections int `mapstructure:"max_connections" json:"max_connections" validate:"gte=0"`
	// KeepaliveInterval is the liveness probe period per connection in seconds
	KeepaliveInterval int `mapstructure:"keepalive_interval_sec" json:"keepalive_interval_sec" validate:"gte=1"`
	// History defines the bounded event history buffer parameters
	History HistoryConfig `mapstructure:"history" json:"history" validate:"required,dive"`
	// InboundRateLimit gates control messages on the duplex transport
	InboundRateLimit RateLimitConfig `mapstructure:"inbound_rate_limit" json:"inbound_rate_limit" validate:"required,dive"`
}

// HistoryConfig defines the event history buffer parameters
type HistoryConfig struct {
	// RetentionWindow is the max age of a buffered event in seconds
	RetentionWindow int `mapstructure:"retention_window_sec" json:"retention_window_sec" validate:"gte=1"`
	// MaxEntries is the global entry cap across all channels
	MaxEntries int `mapstructure:"max_entries" json:"max_entries" validate:"gte=1"`
	// SweepInterval is the period of the age eviction pass in seconds
	SweepInterval int `mapstructure:"sweep_interval_sec" json:"sweep_interval_sec" validate:"gte=1"`
}

// RateLimitConfig defines a rolling window message allowance
type RateLimitConfig struct {
	// MaxMessages is the number of messages allowed within the window
	MaxMessages int `mapstructure:"max_messages" json:"max_messages" validate:"gte=1"`
	// Window is the rolling window length in seconds
	Window int `mapstructure:"window_sec" json:"window_sec" validate:"gte=1"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
	// SubjectPrefix is the subject prefix for event envelopes
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
}

// ===============================================================================
// Postgres Related Config

// PostgresConfig defines parameters for the event journal database
type PostgresConfig struct {
	// URI is the Postgres connection URI
	URI string `mapstructure:"uri" json:"uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Chain Watcher Related Config

// ChainWatcherConfig defines parameters for the fullnode event watcher
type ChainWatcherConfig struct {
	// FullnodeURI is the base URI of the chain fullnode REST API
	FullnodeURI string `mapstructure:"fullnode_uri" json:"fullnode_uri" validate:"required,uri"`
	// TreasuryAddress is the on-chain address of the treasury module
	TreasuryAddress string `mapstructure:"treasury_address" json:"treasury_address" validate:"required"`
	// PollInterval is the fullnode poll period in seconds
	PollInterval int `mapstructure:"poll_interval_sec" json:"poll_interval_sec" validate:"gte=1"`
	// RequestsPerSecond caps the request rate against the fullnode
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	// PageSize is the max number of chain events fetched per poll
	PageSize int `mapstructure:"page_size" json:"page_size" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. Long-lived event streams
	// need this left at zero.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPRateLimitConfig caps the request rate per caller on mutating endpoints
type HTTPRateLimitConfig struct {
	// RequestsPerSecond is the steady state request allowance per caller
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	// Burst is the short term burst allowance per caller
	Burst int `mapstructure:"burst" json:"burst" validate:"gte=1"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
	// EmitRateLimit caps per-caller requests against the emit endpoints
	EmitRateLimit HTTPRateLimitConfig `mapstructure:"emit_rate_limit" json:"emit_rate_limit" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// ServeConfig defines configuration for the event hub API server
type ServeConfig struct {
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Hub are the event hub parameters
	Hub HubConfig `mapstructure:"hub" json:"hub" validate:"required,dive"`
}

// WatcherConfig defines configuration for the chain watcher
type WatcherConfig struct {
	// Chain are the fullnode poller parameters
	Chain ChainWatcherConfig `mapstructure:"chain" json:"chain" validate:"required,dive"`
	// Postgres are the event journal parameters
	Postgres PostgresConfig `mapstructure:"postgres" json:"postgres" validate:"required,dive"`
}

// SystemConfig defines the complete system config used by either the API
// server or the chain watcher
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Serve are the event hub API server configs
	Serve *ServeConfig `mapstructure:"serve,omitempty" json:"serve,omitempty" validate:"omitempty,dive"`
	// Watcher are the chain watcher configs
	Watcher *WatcherConfig `mapstructure:"watcher,omitempty" json:"watcher,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)
	viper.SetDefault("nats.subject_prefix", "govhub.events")

	// Default API server settings
	viper.SetDefault("serve.api_server.path_prefix", "/")
	viper.SetDefault("serve.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("serve.api_server.server_config.listen_port", 3000)
	viper.SetDefault("serve.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("serve.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("serve.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"serve.api_server.logging_config.request_id_header", "Govhub-Request-ID",
	)
	viper.SetDefault(
		"serve.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("serve.api_server.emit_rate_limit.requests_per_second", 10.0)
	viper.SetDefault("serve.api_server.emit_rate_limit.burst", 20)

	// Default event hub settings
	viper.SetDefault("serve.hub.send_queue_len", 64)
	viper.SetDefault("serve.hub.max_connections", 0)
	viper.SetDefault("serve.hub.keepalive_interval_sec", 30)
	viper.SetDefault("serve.hub.history.retention_window_sec", 300)
	viper.SetDefault("serve.hub.history.max_entries", 4096)
	viper.SetDefault("serve.hub.history.sweep_interval_sec", 30)
	viper.SetDefault("serve.hub.inbound_rate_limit.max_messages", 100)
	viper.SetDefault("serve.hub.inbound_rate_limit.window_sec", 60)

	// Default chain watcher settings
	viper.SetDefault("watcher.chain.fullnode_uri", "http://127.0.0.1:8080")
	viper.SetDefault("watcher.chain.treasury_address", "0x1")
	viper.SetDefault("watcher.chain.poll_interval_sec", 5)
	viper.SetDefault("watcher.chain.requests_per_second", 4.0)
	viper.SetDefault("watcher.chain.page_size", 100)
	viper.SetDefault("watcher.postgres.uri", "postgres://127.0.0.1:5432/govhub")
	viper.SetDefault("watcher.postgres.connect_timeout_sec", 15)
}
