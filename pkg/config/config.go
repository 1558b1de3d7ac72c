package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	S3           S3Config
	GCP          GCPConfig
	PubSub       PubSubConfig
	Pipeline     PipelineConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pipeline.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CMS_APP_ENV" required:"true"`
	Port         string   `envconfig:"CMS_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"CMS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CMS_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CMS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CMS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"CMS_DB_DSN"`

	LegacyHost     string `envconfig:"CMS_DB_HOST"`
	LegacyPort     int    `envconfig:"CMS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CMS_DB_USER"`
	LegacyPassword string `envconfig:"CMS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CMS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CMS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CMS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CMS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CMS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CMS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"CMS_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CMS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CMS_REDIS_ADDR"`
	Password     string        `envconfig:"CMS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CMS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CMS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CMS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CMS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CMS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CMS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// S3Config targets AWS S3 or any S3-compatible endpoint (MinIO, R2, Spaces).
type S3Config struct {
	Bucket             string        `envconfig:"CMS_S3_BUCKET" required:"true"`
	Region             string        `envconfig:"CMS_S3_REGION" default:"us-east-1"`
	Endpoint           string        `envconfig:"CMS_S3_ENDPOINT"`
	AccessKeyID        string        `envconfig:"CMS_S3_ACCESS_KEY_ID"`
	SecretAccessKey    string        `envconfig:"CMS_S3_SECRET_ACCESS_KEY"`
	UsePathStyle       bool          `envconfig:"CMS_S3_USE_PATH_STYLE" default:"false"`
	DeleteRetries      int           `envconfig:"CMS_S3_DELETE_RETRIES" default:"3"`
	DeleteRetryBackoff time.Duration `envconfig:"CMS_S3_DELETE_RETRY_BACKOFF" default:"200ms"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CMS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CMS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CMS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	FileEventsTopic string `envconfig:"CMS_PUBSUB_FILE_EVENTS_TOPIC" default:"cms-file-events"`
}

type PipelineConfig struct {
	ImageMimeTypes    []string      `envconfig:"CMS_PIPELINE_IMAGE_MIME_TYPES" default:"image/*"`
	AllowedMimeTypes  []string      `envconfig:"CMS_PIPELINE_ALLOWED_MIME_TYPES" default:"image/*,video/*,audio/*,application/pdf,text/*"`
	WorkerConcurrency int           `envconfig:"CMS_PIPELINE_WORKER_CONCURRENCY" default:"4"`
	PollInterval      time.Duration `envconfig:"CMS_PIPELINE_POLL_INTERVAL" default:"1s"`
	JobLease          time.Duration `envconfig:"CMS_PIPELINE_JOB_LEASE" default:"5m"`
	MaxAttempts       int           `envconfig:"CMS_PIPELINE_MAX_ATTEMPTS" default:"5"`
	RetryBase         time.Duration `envconfig:"CMS_PIPELINE_RETRY_BASE" default:"5s"`
	RetryMax          time.Duration `envconfig:"CMS_PIPELINE_RETRY_MAX" default:"5m"`
	JPEGQuality       int           `envconfig:"CMS_PIPELINE_JPEG_QUALITY" default:"80"`
	SettingsCacheTTL  time.Duration `envconfig:"CMS_PIPELINE_SETTINGS_CACHE_TTL" default:"30s"`
	PurgeGrace        time.Duration `envconfig:"CMS_PIPELINE_PURGE_GRACE" default:"1m"`
	MetricsAddr       string        `envconfig:"CMS_METRICS_ADDR" default:":9102"`
}

func (p PipelineConfig) validate() error {
	if p.WorkerConcurrency <= 0 {
		return fmt.Errorf("%s must be positive", EnvPipelineConcurrency)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvPipelineMaxAttempts)
	}
	if p.JobLease <= 0 {
		return fmt.Errorf("%s must be positive", EnvPipelineJobLease)
	}
	if len(p.ImageMimeTypes) == 0 {
		return fmt.Errorf("%s must list at least one pattern", EnvPipelineImageMimeTypes)
	}
	if len(p.AllowedMimeTypes) == 0 {
		return fmt.Errorf("%s must list at least one pattern", EnvPipelineAllowedMimeTypes)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CMS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CMS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CMS_OUTBOX_MAX_ATTEMPTS" default:"10"`

	MetricsAddr string `envconfig:"CMS_OUTBOX_METRICS_ADDR" default:":9103"`
}

type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"CMS_MAINTENANCE_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"CMS_MAINTENANCE_LOCK_TTL" default:"55m"`
	OutboxRetentionDays int           `envconfig:"CMS_MAINTENANCE_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"CMS_MAINTENANCE_DLQ_RETENTION_DAYS" default:"90"`
	JobRetentionDays    int           `envconfig:"CMS_MAINTENANCE_JOB_RETENTION_DAYS" default:"14"`
	StalledFileAfter    time.Duration `envconfig:"CMS_MAINTENANCE_STALLED_FILE_AFTER" default:"30m"`
	StalledFileBatch    int           `envconfig:"CMS_MAINTENANCE_STALLED_FILE_BATCH" default:"100"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CMS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
