package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	AppPort       string
	DBBackend     string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	SQLitePath    string
	MigrationsDir string

	SeedFixture     string
	CatalogCacheTTL string
	Timezone        string
	LogVerbosity    string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaRetryGroupID      string
	KafkaInstanceID        string
	KafkaTopicPartitions   string
	KafkaRetryPartitions   string
	KafkaReplicationFactor string
	EventDrivenEnabled     string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		DBBackend:     getEnv("DB_BACKEND", BackendPostgres),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "coupondb"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		SQLitePath:    getEnv("SQLITE_PATH", "coupon.db"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),

		SeedFixture:     getEnv("SEED_FIXTURE", "true"),
		CatalogCacheTTL: getEnv("CATALOG_CACHE_TTL", "30s"),
		Timezone:        getEnv("TIMEZONE", "UTC"),
		LogVerbosity:    getEnv("LOG_VERBOSITY", "0"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "coupon-evaluator"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "coupon-evaluators"),
		KafkaRetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "coupon-evaluators-retry"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaRetryPartitions:   getEnv("KAFKA_RETRY_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "false"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) PostgresDSN() string {
	return "postgresql://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func (c *Config) EventDriven() bool {
	return parseBool(c.EventDrivenEnabled, false)
}

func (c *Config) SeedOnStart() bool {
	return parseBool(c.SeedFixture, true)
}

// CacheTTL is how long the parsed coupon catalog is reused. Zero disables
// caching.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CatalogCacheTTL)
	if err != nil || d < 0 {
		return 30 * time.Second
	}
	return d
}

// Location is the time zone used to decide "today" for purchases that carry
// no date.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Verbosity() int {
	v, err := strconv.Atoi(c.LogVerbosity)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) RetryPartitions() int {
	return parseInt(c.KafkaRetryPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
