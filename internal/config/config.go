package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Storage  *storageConfig
	Queue    *queueConfig
	Events   *eventsConfig
	Auth     *Auth
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"records"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string        `envconfig:"RECORDS_ADDRESS" default:":3443"`
	MetricsAddress  string        `envconfig:"RECORDS_METRICS_ADDRESS" default:":8080"`
	BaseUrl         string        `envconfig:"RECORDS_BASE_URL" default:"http://localhost:3443"`
	LogLevel        string        `envconfig:"RECORDS_LOG_LEVEL" default:"info"`
	MigrationFolder string        `envconfig:"RECORDS_MIGRATIONS_FOLDER" default:""`
	AutoMigrate     bool          `envconfig:"RECORDS_AUTO_MIGRATE" default:"false"`
	ChunkSize       int           `envconfig:"RECORDS_CHUNK_SIZE" default:"150"`
	RowPolicy       string        `envconfig:"RECORDS_ROW_POLICY" default:"fail-fast"`
	MaxUploadSize   int64         `envconfig:"RECORDS_MAX_UPLOAD_BYTES" default:"20971520"`
	StaleJobAfter   time.Duration `envconfig:"RECORDS_STALE_JOB_AFTER" default:"30m"`
	MonitorInterval time.Duration `envconfig:"RECORDS_MONITOR_INTERVAL" default:"1m"`
}

type storageConfig struct {
	Backend           string        `envconfig:"RECORDS_STORAGE_BACKEND" default:"minio"`
	Endpoint          string        `envconfig:"RECORDS_STORAGE_ENDPOINT" default:"localhost:9000"`
	Region            string        `envconfig:"RECORDS_STORAGE_REGION" default:"us-east-1"`
	Bucket            string        `envconfig:"RECORDS_STORAGE_BUCKET" default:"uploads"`
	AccessKey         string        `envconfig:"RECORDS_STORAGE_ACCESS_KEY" default:""`
	SecretKey         string        `envconfig:"RECORDS_STORAGE_SECRET_KEY" default:""`
	UseSSL            bool          `envconfig:"RECORDS_STORAGE_USE_SSL" default:"false"`
	DownloadURLExpiry time.Duration `envconfig:"RECORDS_STORAGE_DOWNLOAD_URL_EXPIRY" default:"15m"`
}

type queueConfig struct {
	// Mode is river (durable, postgres only) or direct (in-process pool).
	Mode                  string        `envconfig:"RECORDS_QUEUE_MODE" default:"river"`
	CurrentSigningKey     string        `envconfig:"RECORDS_QUEUE_CURRENT_SIGNING_KEY" default:""`
	NextSigningKey        string        `envconfig:"RECORDS_QUEUE_NEXT_SIGNING_KEY" default:""`
	InsecureSkipVerify    bool          `envconfig:"RECORDS_QUEUE_INSECURE_SKIP_VERIFY" default:"false"`
	ChunkRetries          int           `envconfig:"RECORDS_QUEUE_CHUNK_RETRIES" default:"0"`
	ProcessRetries        int           `envconfig:"RECORDS_QUEUE_PROCESS_RETRIES" default:"0"`
	MaxWorkers            int           `envconfig:"RECORDS_QUEUE_MAX_WORKERS" default:"10"`
	DeliveryTimeout       time.Duration `envconfig:"RECORDS_QUEUE_DELIVERY_TIMEOUT" default:"2m"`
	SignatureTokenExpiry  time.Duration `envconfig:"RECORDS_QUEUE_SIGNATURE_EXPIRY" default:"5m"`
	DirectQueueBufferSize int           `envconfig:"RECORDS_QUEUE_BUFFER_SIZE" default:"256"`
}

type eventsConfig struct {
	Writer    string `envconfig:"RECORDS_EVENTS_WRITER" default:"none"`
	RedisAddr string `envconfig:"RECORDS_EVENTS_REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"RECORDS_EVENTS_REDIS_DB" default:"0"`
	Topic     string `envconfig:"RECORDS_EVENTS_TOPIC" default:""`
}

type Auth struct {
	AuthenticationType string `envconfig:"RECORDS_AUTH" default:"none"`
	JWTSecret          string `envconfig:"RECORDS_JWT_SECRET" default:""`
}

// New loads a .env file when one exists and then reads the environment.
func New() (*Config, error) {
	if singleConfig == nil {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		cfg := new(Config)
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

// NewDefault returns a configuration that is not shared with New. Fields hold
// their defaults unless the environment overrides them.
func NewDefault() *Config {
	cfg := &Config{
		Database: &dbConfig{},
		Service:  &svcConfig{},
		Storage:  &storageConfig{},
		Queue:    &queueConfig{},
		Events:   &eventsConfig{},
		Auth:     &Auth{},
	}
	_ = envconfig.Process("", cfg)
	return cfg
}
