package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Model      ModelConfig      `json:"model"`
	Behavior   BehaviorConfig   `json:"behavior"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// BehaviorConfig tunes the behavioral engine itself.
type BehaviorConfig struct {
	// BufferSize is the per-user recent-behavior buffer capacity.
	BufferSize int `json:"bufferSize"`

	// AnomalyThreshold is the default per-batch anomaly score threshold
	// applied to newly created profiles.
	AnomalyThreshold float64 `json:"anomalyThreshold"`

	// RetrainEvery retrains a baselined user's model after this many
	// processed batches. Zero disables periodic retraining.
	RetrainEvery int `json:"retrainEvery"`

	// AssessmentTTL is how long a computed assessment stays cached,
	// in seconds. Any processed batch invalidates it earlier.
	AssessmentTTL int `json:"assessmentTTL"`

	// SnapshotInterval is how often the worker persists profile
	// snapshots, in seconds. Zero disables snapshots.
	SnapshotInterval int `json:"snapshotInterval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier:
// SQLite persistence, in-process cache and bus, isolation forest scoring.
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
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Model: ModelConfig{
			Backend:       ModelBackendIsoForest,
			Trees:         100,
			Contamination: 0.1,
			Seed:          42,
		},
		Behavior: BehaviorConfig{
			BufferSize:       DefaultBufferSize,
			AnomalyThreshold: DefaultAnomalyThreshold,
			RetrainEvery:     0,
			AssessmentTTL:    30,
			SnapshotInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
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
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
