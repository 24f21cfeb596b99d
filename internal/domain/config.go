package domain

// SupportedSchemaVersion is the rules/config schema this build understands.
const SupportedSchemaVersion = 1

// Compilation defaults.
const (
	DefaultCycleTimeMs      = 100
	DefaultBufferCapacity   = 100
	DefaultMaxRulesPerGroup = 100
	DefaultMaxLinesPerGroup = 1000
	DefaultMaxChainDepth    = 10
)

// SystemConfig is the global configuration shared by compiler and runtime.
type SystemConfig struct {
	SchemaVersion  int      `json:"schema_version"`
	ValidSensors   []string `json:"valid_sensors"`
	CycleTimeMs    int      `json:"cycle_time_ms"`
	BufferCapacity int      `json:"buffer_capacity"`

	SourceFile string `json:"-"`
}

// SensorSet returns valid_sensors as a lookup set.
func (c *SystemConfig) SensorSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ValidSensors))
	for _, s := range c.ValidSensors {
		set[s] = struct{}{}
	}
	return set
}

// CompileOptions are the size caps and switches of the plan generator.
type CompileOptions struct {
	MaxRulesPerGroup   int
	MaxLinesPerGroup   int
	MaxChainDepth      int
	GroupParallelRules bool

	// BuildTime stamps generated_at_utc; injectable so identical inputs can
	// produce byte-identical artifacts.
	BuildTime string
}

// DefaultCompileOptions returns the generator defaults.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{
		MaxRulesPerGroup:   DefaultMaxRulesPerGroup,
		MaxLinesPerGroup:   DefaultMaxLinesPerGroup,
		MaxChainDepth:      DefaultMaxChainDepth,
		GroupParallelRules: true,
	}
}

// RuntimeConfig holds everything the runtime binary needs beyond the plan.
type RuntimeConfig struct {
	Store   StoreConfig   `json:"store"`
	Bus     BusConfig     `json:"bus"`
	Journal JournalConfig `json:"journal"`
	Server  ServerConfig  `json:"server"`

	// Overrides for the plan's cycle time and buffer capacity; zero means
	// use the compiled values.
	CycleTimeMs    int `json:"cycle_time_ms"`
	BufferCapacity int `json:"buffer_capacity"`

	// MaxWorkers bounds intra-group parallel rule evaluation.
	MaxWorkers int `json:"max_workers"`
}

// StoreConfig selects and configures the sensor store backend.
type StoreConfig struct {
	// Type is "redis" or "memory".
	Type string `json:"type"`

	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// KeyPrefix namespaces sensor keys in a shared store.
	KeyPrefix string `json:"key_prefix"`
}

// BusConfig selects the message bus used by send_message actions.
type BusConfig struct {
	// Type is "channel", "nats" or "store" (reuse the store's pub/sub).
	Type string `json:"type"`

	ChannelBufferSize int `json:"channel_buffer_size"`

	NATSUrl           string `json:"nats_url"`
	NATSMaxReconnects int    `json:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"nats_reconnect_wait"` // seconds
}

// JournalConfig configures the optional runtime journal.
type JournalConfig struct {
	// Driver is "", "sqlite" or "postgres"; empty disables journaling.
	Driver string `json:"driver"`

	SQLitePath string `json:"sqlite_path"`

	PostgresHost     string `json:"postgres_host"`
	PostgresPort     int    `json:"postgres_port"`
	PostgresUser     string `json:"postgres_user"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgres_db"`
	PostgresSSLMode  string `json:"postgres_sslmode"`
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`  // seconds
	WriteTimeout int    `json:"write_timeout"` // seconds
}

// DefaultRuntimeConfig returns a runtime configuration suitable for a single
// node talking to a local redis.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Store: StoreConfig{
			Type:      "redis",
			RedisAddr: "localhost:6379",
			KeyPrefix: "pulsar:",
		},
		Bus: BusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Journal: JournalConfig{},
		Server: ServerConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		MaxWorkers: 16,
	}
}
