package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSPath             = "/ws/chat"
	DefaultConnectTimeout     = 10 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPongTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultMaxReconnects      = 5
	DefaultTokenPollInterval  = 2 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *ConsoleConfig) applyDefaults() {
	// Console defaults
	if c.Console.WSPath == "" {
		c.Console.WSPath = DefaultWSPath
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PongTimeout == 0 {
		c.Connection.PongTimeout = DefaultPongTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.ReconnectBase == 0 {
		c.Connection.ReconnectBase = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMax == 0 {
		c.Connection.ReconnectMax = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnects == 0 {
		c.Connection.MaxReconnects = DefaultMaxReconnects
	}

	// Session defaults
	if c.Session.PollInterval == 0 {
		c.Session.PollInterval = DefaultTokenPollInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
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
