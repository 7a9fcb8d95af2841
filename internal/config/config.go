package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database  *dbConfig
	Service   *svcConfig
	Queue     *queueConfig
	Scheduler *schedulerConfig
	Detection *detectionConfig
	Validator *validatorConfig
	Storage   *storageConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"scans"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	LogLevel        string `envconfig:"SCAN_WORKER_LOG_LEVEL" default:"info"`
	LogEncoding     string `envconfig:"SCAN_WORKER_LOG_ENCODING" default:"console"`
	OpsAddress      string `envconfig:"SCAN_WORKER_OPS_ADDRESS" default:":8080"`
	MigrationFolder string `envconfig:"SCAN_WORKER_MIGRATIONS_FOLDER" default:""`
	UserAgent       string `envconfig:"SCAN_WORKER_USER_AGENT" default:"scan-worker/1.0"`
}

type queueConfig struct {
	// Driver selects the inbound transport: "river" (postgres) or "kafka".
	Driver          string   `envconfig:"SCAN_WORKER_QUEUE_DRIVER" default:"river"`
	RiverQueue      string   `envconfig:"SCAN_WORKER_RIVER_QUEUE" default:"scans"`
	RiverMaxWorkers int      `envconfig:"SCAN_WORKER_RIVER_MAX_WORKERS" default:"2"`
	Brokers         []string `envconfig:"SCAN_WORKER_KAFKA_BROKERS" default:""`
	Version         string   `envconfig:"SCAN_WORKER_KAFKA_VERSION" default:"3.6.0"`
	ClientID        string   `envconfig:"SCAN_WORKER_KAFKA_CLIENT_ID" default:"scan-worker"`
	ConsumerGroup   string   `envconfig:"SCAN_WORKER_KAFKA_CONSUMER_GROUP" default:"scan-worker"`
	InboundTopic    string   `envconfig:"SCAN_WORKER_INBOUND_TOPIC" default:"scan-jobs"`
	// OutboundTopic receives the completion message. Without brokers the
	// completion events are written to the log.
	OutboundTopic string `envconfig:"SCAN_WORKER_OUTBOUND_TOPIC" default:"report-generation"`
}

type schedulerConfig struct {
	MaxConcurrency         int           `envconfig:"SCAN_WORKER_MAX_CONCURRENCY" default:"6"`
	ModuleTimeout          time.Duration `envconfig:"SCAN_WORKER_MODULE_TIMEOUT" default:"3m"`
	TargetTimeout          time.Duration `envconfig:"SCAN_WORKER_TARGET_TIMEOUT" default:"20s"`
	MaxConsecutiveFailures int           `envconfig:"SCAN_WORKER_MAX_CONSECUTIVE_FAILURES" default:"3"`
	MaxTargets             int           `envconfig:"SCAN_WORKER_MAX_TARGETS" default:"40"`
	// FetchRate bounds the outgoing requests per second of all modules.
	FetchRate float64 `envconfig:"SCAN_WORKER_FETCH_RATE" default:"10"`
}

type detectionConfig struct {
	RulesFile        string        `envconfig:"SCAN_WORKER_RULES_FILE" default:""`
	RulesReload      time.Duration `envconfig:"SCAN_WORKER_RULES_RELOAD_INTERVAL" default:"0"`
	NoiseCap         int           `envconfig:"SCAN_WORKER_NOISE_CAP" default:"25"`
	EntropyThreshold float64       `envconfig:"SCAN_WORKER_ENTROPY_THRESHOLD" default:"0.35"`
	MinTokenLength   int           `envconfig:"SCAN_WORKER_MIN_TOKEN_LENGTH" default:"24"`
	MaxAssetBytes    int64         `envconfig:"SCAN_WORKER_MAX_ASSET_BYTES" default:"2097152"`
}

type validatorConfig struct {
	APIKey    string        `envconfig:"SCAN_WORKER_OPENAI_API_KEY" default:""`
	BaseURL   string        `envconfig:"SCAN_WORKER_OPENAI_BASE_URL" default:""`
	Model     string        `envconfig:"SCAN_WORKER_OPENAI_MODEL" default:"gpt-4o-mini"`
	BatchSize int           `envconfig:"SCAN_WORKER_VALIDATION_BATCH_SIZE" default:"50"`
	Timeout   time.Duration `envconfig:"SCAN_WORKER_VALIDATION_TIMEOUT" default:"30s"`
}

type storageConfig struct {
	Endpoint  string `envconfig:"SCAN_WORKER_S3_ENDPOINT" default:""`
	Bucket    string `envconfig:"SCAN_WORKER_S3_BUCKET" default:"scan-evidence"`
	AccessKey string `envconfig:"SCAN_WORKER_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"SCAN_WORKER_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"SCAN_WORKER_S3_USE_SSL" default:"true"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		cfg := NewDefault()
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// NewDefault returns a configuration holding only the defaults, ignoring the
// environment. Tests use it with an in-memory sqlite database.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type:     "pgsql",
			Hostname: "localhost",
			Port:     "5432",
			Name:     "scans",
			User:     "admin",
			Password: "adminpass",
		},
		Service: &svcConfig{
			LogLevel:    "info",
			LogEncoding: "console",
			OpsAddress:  ":8080",
			UserAgent:   "scan-worker/1.0",
		},
		Queue: &queueConfig{
			Driver:          "river",
			RiverQueue:      "scans",
			RiverMaxWorkers: 2,
			Version:         "3.6.0",
			ClientID:        "scan-worker",
			ConsumerGroup:   "scan-worker",
			InboundTopic:    "scan-jobs",
			OutboundTopic:   "report-generation",
		},
		Scheduler: &schedulerConfig{
			MaxConcurrency:         6,
			ModuleTimeout:          3 * time.Minute,
			TargetTimeout:          20 * time.Second,
			MaxConsecutiveFailures: 3,
			MaxTargets:             40,
			FetchRate:              10,
		},
		Detection: &detectionConfig{
			NoiseCap:         25,
			EntropyThreshold: 0.35,
			MinTokenLength:   24,
			MaxAssetBytes:    2 << 20,
		},
		Validator: &validatorConfig{
			Model:     "gpt-4o-mini",
			BatchSize: 50,
			Timeout:   30 * time.Second,
		},
		Storage: &storageConfig{
			Bucket: "scan-evidence",
			UseSSL: true,
		},
	}
}
