package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ReplicationConfiguration controls GTID state behavior
type ReplicationConfiguration struct {
	// DomainID is the replication domain new local transactions are
	// allocated in.
	DomainID uint32 `toml:"domain_id"`
	// StrictMode rejects binlog updates whose seq_no does not strictly grow.
	StrictMode bool `toml:"gtid_strict_mode"`
	// IgnoreDuplicates enables single-owner-per-domain duplicate suppression
	// across multiple master connections.
	IgnoreDuplicates bool `toml:"gtid_ignore_duplicates"`
	// PosTables lists the tables available for durably storing the slave
	// position. The first entry is the default.
	PosTables []string `toml:"gtid_pos_tables"`
	// PurgeIntervalSeconds is how often superseded position rows are purged.
	PurgeIntervalSeconds int `toml:"purge_interval_seconds"`
	// DefaultWaitTimeoutMS bounds position waits that do not carry their own
	// timeout. 0 means wait forever.
	DefaultWaitTimeoutMS int `toml:"default_wait_timeout_ms"`
}

// StoreConfiguration controls the durable position store
type StoreConfiguration struct {
	CacheSizeMB    int `toml:"cache_size_mb"`
	MemTableSizeMB int `toml:"memtable_size_mb"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration for the status HTTP API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	// Secret, when set, requires a Bearer token on every admin request.
	Secret string `toml:"secret"`
}

// IsAdminAuthEnabled reports whether admin requests require authentication
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}

// GetAdminSecret returns the configured admin secret
func GetAdminSecret() string {
	return Config.Admin.Secret
}

// Configuration is the main configuration structure
type Configuration struct {
	ServerID uint32 `toml:"server_id"`
	DataDir  string `toml:"data_dir"`

	Replication ReplicationConfiguration `toml:"replication"`
	Store       StoreConfiguration       `toml:"store"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	Admin       AdminConfiguration       `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	ServerIDFlag   = flag.Uint("server-id", 0, "Server ID (overrides config, 0=auto)")
	DomainIDFlag   = flag.Uint("domain-id", 0, "Replication domain ID (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	ServerID: 0, // Auto-generate
	DataDir:  "./gtidstate-data",

	Replication: ReplicationConfiguration{
		DomainID:             0,
		StrictMode:           false,
		IgnoreDuplicates:     false,
		PosTables:            []string{"gtid_slave_pos"},
		PurgeIntervalSeconds: 60,
		DefaultWaitTimeoutMS: 0,
	},

	Store: StoreConfiguration{
		CacheSizeMB:    64,
		MemTableSizeMB: 16,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    8070,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *ServerIDFlag != 0 {
		Config.ServerID = uint32(*ServerIDFlag)
	}
	if *DomainIDFlag != 0 {
		Config.Replication.DomainID = uint32(*DomainIDFlag)
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate server ID if not set
	if Config.ServerID == 0 {
		var err error
		Config.ServerID, err = generateServerID()
		if err != nil {
			return fmt.Errorf("failed to generate server ID: %w", err)
		}
		log.Info().Uint32("server_id", Config.ServerID).Msg("Auto-generated server ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateServerID creates a stable server ID from the machine ID. Zero is
// reserved for "auto", so a hash that lands there is nudged up.
func generateServerID() (uint32, error) {
	id, err := machineid.ProtectedID("gtidstate")
	if err != nil {
		return 0, err
	}

	h := fnv.New32a()
	h.Write([]byte(id))
	sum := h.Sum32()
	if sum == 0 {
		sum = 1
	}
	return sum, nil
}

// Validate checks configuration for errors
func Validate() error {
	if len(Config.Replication.PosTables) == 0 {
		return fmt.Errorf("at least one gtid_pos table is required")
	}

	seen := make(map[string]bool)
	for _, table := range Config.Replication.PosTables {
		if table == "" {
			return fmt.Errorf("gtid_pos table name must not be empty")
		}
		if seen[table] {
			return fmt.Errorf("duplicate gtid_pos table: %s", table)
		}
		seen[table] = true
	}

	if Config.Replication.PurgeIntervalSeconds < 1 {
		return fmt.Errorf("purge interval must be >= 1 second")
	}

	if Config.Replication.DefaultWaitTimeoutMS < 0 {
		return fmt.Errorf("default wait timeout must be >= 0")
	}

	if Config.Store.CacheSizeMB < 1 {
		return fmt.Errorf("store cache size must be >= 1 MB")
	}

	if Config.Store.MemTableSizeMB < 1 {
		return fmt.Errorf("store memtable size must be >= 1 MB")
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}
