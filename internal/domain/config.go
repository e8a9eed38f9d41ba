package domain

// Config holds the complete Turnstile configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository  RepositoryConfig  `json:"repository" yaml:"repository"`
	Risk        RiskConfig        `json:"risk" yaml:"risk"`
	EventBus    EventBusConfig    `json:"eventBus" yaml:"event_bus"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
	Fare        FareConfig        `json:"fare" yaml:"fare"`
	Fingerprint FingerprintConfig `json:"fingerprint" yaml:"-"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// FareConfig selects the fare function.
type FareConfig struct {
	// Expression is an optional CEL expression over elapsed_seconds,
	// entry_terminal and exit_terminal. Empty means elapsed-time pricing.
	Expression string `json:"expression" yaml:"expression"`

	// RatePerSecond is the elapsed-time price in base units, as a decimal string.
	RatePerSecond string `json:"ratePerSecond" yaml:"rate_per_second"`

	// Currency is the base currency sent to the network.
	Currency string `json:"currency" yaml:"currency"`
}

// FingerprintConfig holds the card fingerprint secret. It is only ever read
// from the environment.
type FingerprintConfig struct {
	Secret string `json:"-"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"serviceName" yaml:"service_name"`
	ExporterType string `json:"exporterType" yaml:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + the network simulator
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis + a real network
	TierPro Tier = "pro"
)

// Default simulator rules, matching the acquirer test harness.
const (
	DefaultSimulatorAVRDecline  = `pan.endsWith("9")`
	DefaultSimulatorAuthDecline = `amount > 20.0 || pan.endsWith("8")`
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./turnstile.db",
		},
		Risk: RiskConfig{
			Type:          "repository",
			LocalMemoSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			NATSQueueGroup:    DefaultWorkerQueueGroup,
		},
		Gateway: GatewayConfig{
			Type:                 "simulator",
			CurrencyCode:         "840",
			TimeoutSecs:          10,
			SimulatorAVRDecline:  DefaultSimulatorAVRDecline,
			SimulatorAuthDecline: DefaultSimulatorAuthDecline,
		},
		Fare: FareConfig{
			RatePerSecond: "1",
			Currency:      "USD",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "turnstile",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "turnstile",
	}
	cfg.Risk = RiskConfig{
		Type:          "redis",
		RedisAddr:     "localhost:6379",
		LocalMemoSize: 10000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    DefaultWorkerQueueGroup,
	}
	cfg.Gateway.Type = "http"
	cfg.Tracing.Enabled = true
	return cfg
}
