package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"clover-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database. DB_DRIVER is "postgres" or "sqlite"; for sqlite DB_NAME is the file path.
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	DatabaseMigrateOnStart        bool          `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// MDM
	MDMResourceTypes  []string      `env:"MDM_RESOURCE_TYPES" env-default:"Patient,Practitioner"`
	MDMMatchFields    []string      `env:"MDM_MATCH_FIELDS" env-default:"family,given,birthDate"`
	MDMClearIsolation string        `env:"MDM_CLEAR_ISOLATION" env-default:"serializable"`
	MDMLinkLockTTL    time.Duration `env:"MDM_LINK_LOCK_TTL" env-default:"10s"`
	MDMLinkLockWait   time.Duration `env:"MDM_LINK_LOCK_WAIT" env-default:"5s"`
	MDMLinkLockPrefix string        `env:"MDM_LINK_LOCK_PREFIX" env-default:"clover:link:"`
	MDMClearTimeout   time.Duration `env:"MDM_CLEAR_TIMEOUT" env-default:"2m"`

	// Redis. Empty URL keeps link locks in process.
	RedisURL string `env:"REDIS_URL" env-default:""`

	// Graph projection (Memgraph / Neo4j)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Kafka
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaProducerEnabled bool     `env:"KAFKA_PRODUCER_ENABLED" env-default:"false"`
	KafkaOutputTopic     string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"mdm-link-events"`
	KafkaBatchSize       int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"resource-deletions"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"clover-consumer"`

	// Tracing. Empty endpoint disables export.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	OTLPProtocol string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
}

// DatabaseDSN builds the driver DSN from the individual settings.
func (c Config) DatabaseDSN() string {
	if c.DatabaseDriver == "sqlite" {
		return SQLiteDSN(c.DatabaseName)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%s", c.DatabaseHost, c.DatabasePort),
		Path:     "/" + c.DatabaseName,
		RawQuery: url.Values{"sslmode": []string{c.DatabaseSSLMode}}.Encode(),
	}
	if c.DatabaseUserName != "" {
		u.User = url.UserPassword(c.DatabaseUserName, c.DatabasePassword)
	}
	return u.String()
}

// SQLiteDSN enables foreign keys and WAL, and makes every transaction take the write lock up front.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}
