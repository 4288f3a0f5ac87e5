package configs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/relayops/agent-runtime/internal/domain"
)

type Config struct {
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	Runtime    RuntimeConfig
	Redis      RedisConfig
	RabbitMQ   RabbitMQConfig
	Database   DatabaseConfig
	Delivery   DeliveryConfig
	// HeartbeatsJSON is a JSON array of heartbeat configs, parsed by ParseHeartbeats.
	HeartbeatsJSON string `envconfig:"HEARTBEATS"`
}

type RuntimeConfig struct {
	// TransportDriver selects the durable transport: "redis" (streams) or "rabbitmq".
	TransportDriver            string `envconfig:"TRANSPORT_DRIVER" default:"redis"`
	MaxWorkers                 int    `envconfig:"MAX_WORKERS" default:"5"`
	TaskTimeOutInSeconds       int64  `envconfig:"TASK_TIME_OUT_IN_SECONDS" default:"300"`
	ShutdownTimeOutInSeconds   int64  `envconfig:"SHUTDOWN_TIME_OUT_IN_SECONDS" default:"30"`
	LoopStopTimeOutInSeconds   int64  `envconfig:"LOOP_STOP_TIME_OUT_IN_SECONDS" default:"5"`
	ConsumerGroup              string `envconfig:"CONSUMER_GROUP" default:"agent-runtime"`
	ConsumerName               string `envconfig:"CONSUMER_NAME" default:"agent-runtime-1"`
	TaskStreamName             string `envconfig:"TASK_STREAM_NAME" default:"agent:tasks"`
	ResultStreamName           string `envconfig:"RESULT_STREAM_NAME" default:"agent:results"`
	MirrorKeyPrefix            string `envconfig:"MIRROR_KEY_PREFIX" default:"agent:queue"`
	// ResultStreamMirror controls whether results delivered through another
	// channel are additionally published onto the result stream.
	ResultStreamMirror bool `envconfig:"RESULT_STREAM_MIRROR" default:"true"`
}

type RedisConfig struct {
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	DBIndex  int32  `envconfig:"REDIS_DB_INDEX"`
}

type RabbitMQConfig struct {
	Username        string `envconfig:"RABBIT_USERNAME"`
	Password        string `envconfig:"RABBIT_PASSWORD"`
	Host            string `envconfig:"RABBIT_HOST"`
	Port            string `envconfig:"RABBIT_PORT"`
	TaskQueueName   string `envconfig:"RABBIT_TASK_QUEUE_NAME" default:"agent.tasks"`
	ResultQueueName string `envconfig:"RABBIT_RESULT_QUEUE_NAME" default:"agent.results"`
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT"`
	Database     string `envconfig:"DB_DATABASE"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"1"`
}

type DeliveryConfig struct {
	SESFromEmail string `envconfig:"SES_FROM_EMAIL"`
}

// IsArchiveEnabled reports whether the optional result archive is configured.
func (d DatabaseConfig) IsArchiveEnabled() bool {
	return d.Host != ""
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToRabbitConnectionUri returns a connection URI to be used with the rabbitmq/amqp091-go package
func (d RabbitMQConfig) ToRabbitConnectionUri() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
	)
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

// ParseHeartbeats decodes the HEARTBEATS env var into heartbeat configs.
// An empty value means no heartbeats are registered.
func (c *Config) ParseHeartbeats() ([]domain.HeartbeatConfig, error) {
	if c.HeartbeatsJSON == "" {
		return nil, nil
	}

	var heartbeats []domain.HeartbeatConfig
	if err := json.Unmarshal([]byte(c.HeartbeatsJSON), &heartbeats); err != nil {
		return nil, fmt.Errorf("parse HEARTBEATS: %w", err)
	}

	return heartbeats, nil
}

func InitConfig() *Config {
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Unable to load .env %v", err)
	}

	var cfg Config
	err = envconfig.Process("", &cfg)
	if err != nil {
		fmt.Print("Cannot load env")
	}

	return &cfg
}
