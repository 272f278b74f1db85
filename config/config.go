package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// TTLConfig holds the per-category expirations applied to keys in the
// shared-state store (spec.md §4.1).
type TTLConfig struct {
	Metrics          time.Duration
	Weights          time.Duration
	ProxyConfig      time.Duration
	InstanceHeartbeat time.Duration
	Generic          time.Duration
}

// IntervalConfig holds the periods driven by the cycle scheduler (C8).
type IntervalConfig struct {
	WeightCycle     time.Duration
	Heartbeat       time.Duration
	DriftSync       time.Duration
	HotCleanup      time.Duration
	ColdCleanupHour int // local hour-of-day, 0-23
}

// RedisConfig configures the shared-state KV store client.
type RedisConfig struct {
	ClusterNodes []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	KeyPrefix string
}

// ColdStoreConfig configures the durable relational fallback store.
type ColdStoreConfig struct {
	Driver string
	DSN    string
}

// ProxyConfig configures the proxy-config materializer (C6).
type ProxyConfig struct {
	ConfigDir      string
	ConfigFile     string
	ReloadCommand  string
	ReloadTimeout  time.Duration
	BackupOnWrite  bool
}

// Config is the fully resolved process configuration.
type Config struct {
	InstanceID string
	AdminPort  int

	EWMAAlpha float64

	TTL       TTLConfig
	Intervals IntervalConfig
	Redis     RedisConfig
	ColdStore ColdStoreConfig
	Proxy     ProxyConfig

	LockTTL time.Duration

	IncomingServers []ServerSeed
	OutgoingServers []ServerSeed
}

// ServerSeed is the minimal descriptor needed to bootstrap the
// registry (C: global mutable deployment config) before the admin
// surface can mutate it further.
type ServerSeed struct {
	ID      string
	Host    string
	Port    string
	Name    string
	Enabled bool
}

// Load resolves configuration from environment variables, optionally
// overlaid by a viper-parsed file named by CONFIG_FILE. Env vars win
// over file values that are also set in the environment, matching the
// layering documented in SPEC_FULL.md §6.3.
func Load() *Config {
	v := viper.New()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A named-but-unreadable config file is a boot failure;
			// an absent CONFIG_FILE is not configured at all, which
			// is the common case and not an error.
			panic("config: failed to read CONFIG_FILE " + path + ": " + err.Error())
		}
	}

	cfg := &Config{
		InstanceID: getEnv(v, "INSTANCE_ID", "lb-"+uuid.NewString()[:8]),
		AdminPort:  getEnvAsInt(v, "ADMIN_PORT", 8080),
		EWMAAlpha:  getEnvAsFloat(v, "EWMA_ALPHA", 0.3),

		TTL: TTLConfig{
			Metrics:           time.Duration(getEnvAsInt(v, "METRICS_TTL_SECONDS", 600)) * time.Second,
			Weights:           time.Duration(getEnvAsInt(v, "WEIGHTS_TTL_SECONDS", 300)) * time.Second,
			ProxyConfig:       time.Duration(getEnvAsInt(v, "PROXY_CONFIG_TTL_SECONDS", 1800)) * time.Second,
			InstanceHeartbeat: time.Duration(getEnvAsInt(v, "HEARTBEAT_TTL_SECONDS", 60)) * time.Second,
			Generic:           time.Duration(getEnvAsInt(v, "CONFIG_TTL_SECONDS", 3600)) * time.Second,
		},

		Intervals: IntervalConfig{
			WeightCycle:     time.Duration(getEnvAsInt(v, "WEIGHT_CYCLE_INTERVAL_SECONDS", 60)) * time.Second,
			Heartbeat:       time.Duration(getEnvAsInt(v, "HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
			DriftSync:       time.Duration(getEnvAsInt(v, "DRIFT_SYNC_INTERVAL_SECONDS", 10)) * time.Second,
			HotCleanup:      time.Duration(getEnvAsInt(v, "HOT_CLEANUP_INTERVAL_SECONDS", 60)) * time.Second,
			ColdCleanupHour: getEnvAsInt(v, "COLD_CLEANUP_HOUR", 2),
		},

		Redis: RedisConfig{
			ClusterNodes: getEnvAsStringSlice(v, "REDIS_CLUSTER_NODES", []string{"localhost:6379"}),
			Password:     getEnv(v, "REDIS_PASSWORD", ""),
			DB:           getEnvAsInt(v, "REDIS_DB", 0),
			PoolSize:     getEnvAsInt(v, "REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt(v, "REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  time.Duration(getEnvAsInt(v, "REDIS_CONNECT_TIMEOUT_SECONDS", 5)) * time.Second,
			ReadTimeout:  time.Duration(getEnvAsInt(v, "REDIS_READ_TIMEOUT_SECONDS", 3)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt(v, "REDIS_WRITE_TIMEOUT_SECONDS", 3)) * time.Second,
			KeyPrefix:    getEnv(v, "REDIS_KEY_PREFIX", ""),
		},

		ColdStore: ColdStoreConfig{
			Driver: getEnv(v, "COLDSTORE_DRIVER", "sqlite"),
			DSN:    getEnv(v, "COLDSTORE_DSN", "file:coldstore.db?cache=shared"),
		},

		Proxy: ProxyConfig{
			ConfigDir:     getEnv(v, "NGINX_CONFIG_DIR", "."),
			ConfigFile:    getEnv(v, "NGINX_CONFIG_FILE", "nginx_dynamic.conf"),
			ReloadCommand: getEnv(v, "NGINX_RELOAD_COMMAND", ""),
			ReloadTimeout: time.Duration(getEnvAsInt(v, "NGINX_RELOAD_TIMEOUT_SECONDS", 30)) * time.Second,
			BackupOnWrite: getEnvAsBool(v, "NGINX_BACKUP_ON_WRITE", true),
		},

		LockTTL: time.Duration(getEnvAsInt(v, "WEIGHT_LOCK_TTL_SECONDS", 30)) * time.Second,
	}

	cfg.IncomingServers = parseServerSeeds(getEnv(v, "INCOMING_SERVERS", ""))
	cfg.OutgoingServers = parseServerSeeds(getEnv(v, "OUTGOING_SERVERS", ""))

	return cfg
}

// parseServerSeeds decodes "id@host:port,id2@host2" into seeds. Ports
// are optional per spec.md §3's ServerDescriptor invariant.
func parseServerSeeds(raw string) []ServerSeed {
	if raw == "" {
		return nil
	}
	var seeds []ServerSeed
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idAndAddr := strings.SplitN(part, "@", 2)
		if len(idAndAddr) != 2 {
			continue
		}
		id, addr := idAndAddr[0], idAndAddr[1]
		host, port := addr, ""
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host, port = addr[:i], addr[i+1:]
		}
		seeds = append(seeds, ServerSeed{ID: id, Host: host, Port: port, Name: id, Enabled: true})
	}
	return seeds
}

func getEnv(v *viper.Viper, key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := v.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(v *viper.Viper, key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return defaultValue
}

func getEnvAsFloat(v *viper.Viper, key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	if v.IsSet(key) {
		return v.GetFloat64(key)
	}
	return defaultValue
}

func getEnvAsBool(v *viper.Viper, key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return defaultValue
}

func getEnvAsStringSlice(v *viper.Viper, key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitAndTrim(value)
	}
	if v.IsSet(key) {
		return v.GetStringSlice(key)
	}
	return defaultValue
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
