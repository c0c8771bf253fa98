package config

// Config is the root configuration for the planner daemon.
type Config struct {
	Backend BackendConfig `yaml:"backend,omitempty"`
	Chat    ChatConfig    `yaml:"chat,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// BackendConfig points at the planner backend API.
type BackendConfig struct {
	BaseURL    string `yaml:"baseUrl,omitempty"`
	APIKey     string `yaml:"apiKey,omitempty"`
	TimeoutSec int    `yaml:"timeoutSec,omitempty"`
}

// ChatConfig tunes the conversation coordinator.
type ChatConfig struct {
	FreeLimit        int `yaml:"freeLimit,omitempty"`        // free-tier message allowance
	PaidLimit        int `yaml:"paidLimit,omitempty"`        // paid-tier message allowance
	SendAttempts     int `yaml:"sendAttempts,omitempty"`     // delivery attempts per message
	CreateAttempts   int `yaml:"createAttempts,omitempty"`   // session creation attempts
	BackoffBaseMs    int `yaml:"backoffBaseMs,omitempty"`    // first retry delay
	BackoffCapMs     int `yaml:"backoffCapMs,omitempty"`     // backoff ceiling
	EstimatedWaitSec int `yaml:"estimatedWaitSec,omitempty"` // expected response time shown to users
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures the browser client surface.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// StorageConfig controls session persistence.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"` // SQLite file; empty means <base>/data/planner.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
