package config

import "time"

// ConsoleConfig is the root configuration for a consolestream instance.
type ConsoleConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Console    ConsoleEndpoint  `yaml:"console"`
	Connection ConnectionConfig `yaml:"connection"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Journal    JournalConfig    `yaml:"journal"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID  string `yaml:"id"`
	Env string `yaml:"env"`
}

// ConsoleEndpoint holds the governance console location.
type ConsoleEndpoint struct {
	Origin string `yaml:"origin"`  // https://console.example.com (scheme decides ws vs wss)
	WSPath string `yaml:"ws_path"` // realtime channel path
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReconnectBase    time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMax     time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnects    int           `yaml:"max_reconnect_attempts"`
}

// SessionConfig holds credential store settings.
type SessionConfig struct {
	TokenPath    string        `yaml:"token_path"`    // file holding the bearer token
	PollInterval time.Duration `yaml:"poll_interval"` // token file watch interval
}

// DatabaseConfig holds the Postgres connection for the message journal.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// JournalConfig holds message journal batching settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds the health/debug HTTP endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
