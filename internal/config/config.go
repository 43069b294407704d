package config

import (
	"os"
	"strconv"
	"time"

	"contact-aggregator/common/config"
)

// Config is the contact-aggregator service configuration.
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Registry config.RegistryConfig

	Aggregator struct {
		// Authority whose sync adapters declare contact schemas.
		ContactsAuthority string
		// Prefix used to build icon URIs from photo ids.
		PhotoURIBase string
		// Seconds between aggregation passes.
		Interval int
		// Seconds the published snapshot lives in Redis.
		SnapshotTTL int
		// Optional YAML file with include/exclude type tag lists.
		TypePolicyFile string
		// Local schema tree; empty means the registry serves schema resources.
		SchemaDir string
	}

	// Invalidation clears the handler and detail column caches when the
	// installed handler set changes.
	Invalidation struct {
		Mode          string // "streams", "mqtt" or "none"
		Stream        string
		ConsumerGroup string
		ConsumerName  string
		Topic         string
		BatchSize     int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "contacts")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 8)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 2)
	cfg.Database.ConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME", 300)) * time.Second
	cfg.Database.ConnectTimeout = 10 * time.Second

	// REDIS_DB=0 is meaningful, so the shared loader handles the Redis block
	cfg.Redis = config.RedisConfig{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
	}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "contact-aggregator",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Registry.BaseURL = getEnv("REGISTRY_BASE_URL", "http://localhost:8090")
	cfg.Registry.Timeout = time.Duration(getEnvInt("REGISTRY_TIMEOUT", 10)) * time.Second
	cfg.Registry.RetryCount = getEnvInt("REGISTRY_RETRY_COUNT", 2)

	cfg.Aggregator.ContactsAuthority = getEnv("CONTACTS_AUTHORITY", "com.android.contacts")
	cfg.Aggregator.PhotoURIBase = getEnv("PHOTO_URI_BASE", "content://com.android.contacts/data")
	cfg.Aggregator.Interval = getEnvInt("AGGREGATION_INTERVAL", 60)
	cfg.Aggregator.SnapshotTTL = getEnvInt("SNAPSHOT_TTL", 120)
	cfg.Aggregator.TypePolicyFile = getEnv("TYPE_POLICY_FILE", "")
	cfg.Aggregator.SchemaDir = getEnv("SCHEMA_DIR", "")

	cfg.Invalidation.Mode = getEnv("INVALIDATION_MODE", "streams")
	cfg.Invalidation.Stream = getEnv("INVALIDATION_STREAM", "handler:events")
	cfg.Invalidation.ConsumerGroup = getEnv("INVALIDATION_GROUP", "contact-aggregator-group")
	cfg.Invalidation.ConsumerName = getEnv("INVALIDATION_CONSUMER", "contact-aggregator-1")
	cfg.Invalidation.Topic = getEnv("INVALIDATION_TOPIC", "contacts/handlers/changed")
	cfg.Invalidation.BatchSize = getEnvInt("BATCH_SIZE", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns defaultValue for unset, malformed or non-positive values.
func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
