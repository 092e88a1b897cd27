package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings shared by both binaries
type Service struct {
	Environment     string `envconfig:"ENVIRONMENT" required:"true"`
	APIPort         string `envconfig:"API_PORT" default:"8080"`
	HealthCheckPort string `envconfig:"HEALTH_CHECK_PORT" default:"8081"`
}

// SQS configures the shard queues of the event bus. Each URL is one bus
// partition; a consumer instance owns every URL it is given.
type SQS struct {
	Endpoint  string   `envconfig:"ENDPOINT"`
	Region    string   `envconfig:"REGION" required:"true"`
	QueueURLs []string `envconfig:"QUEUE_URLS" required:"true"`
}

// ClickHouse configures the durable events store
type ClickHouse struct {
	Host            string `envconfig:"HOST" required:"true"`
	Port            string `envconfig:"PORT" required:"true"`
	Database        string `envconfig:"DB" required:"true"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// Consumer configures the ingestion pipeline
type Consumer struct {
	BatchSizeMax       int `envconfig:"BATCH_SIZE_MAX" default:"2000"`
	BatchTimeoutSec    int `envconfig:"BATCH_TIMEOUT_SEC" default:"10"`
	DedupWindowSize    int `envconfig:"DEDUP_WINDOW_SIZE" default:"100000"`
	SkipAlarmThreshold int `envconfig:"SKIP_ALARM_THRESHOLD" default:"100"`
}

// Aggregation configures the rollup engine
type Aggregation struct {
	Workers         int `envconfig:"WORKERS" default:"4"`
	PollIntervalSec int `envconfig:"POLL_INTERVAL_SEC" default:"5"`
	PollBatchSize   int `envconfig:"POLL_BATCH_SIZE" default:"5000"`
}

// Retention configures the partition-dropping retention manager
type Retention struct {
	Days             int `envconfig:"DAYS" default:"90"`
	CheckIntervalSec int `envconfig:"CHECK_INTERVAL_SEC" default:"3600"`
}

type Config struct {
	Service     Service     `envconfig:"SERVICE"`
	SQS         SQS         `envconfig:"SQS"`
	ClickHouse  ClickHouse  `envconfig:"CLICKHOUSE"`
	Consumer    Consumer    `envconfig:"CONSUMER"`
	Aggregation Aggregation `envconfig:"AGGREGATION"`
	Retention   Retention   `envconfig:"RETENTION"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
