package config

// EnvPrefix scopes envconfig lookups; every field also carries its absolute name.
const EnvPrefix = "CMS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CMS_APP_ENV"
	EnvPort     = "CMS_APP_PORT"
	EnvLogLevel = "CMS_LOG_LEVEL"

	EnvDBDSN  = "CMS_DB_DSN"
	EnvDBHost = "CMS_DB_HOST"
	EnvDBUser = "CMS_DB_USER"
	EnvDBName = "CMS_DB_NAME"

	EnvRedisURL = "CMS_REDIS_URL"

	EnvS3Bucket       = "CMS_S3_BUCKET"
	EnvS3Region       = "CMS_S3_REGION"
	EnvS3Endpoint     = "CMS_S3_ENDPOINT"
	EnvS3UsePathStyle = "CMS_S3_USE_PATH_STYLE"

	EnvGCPProjectID          = "CMS_GCP_PROJECT_ID"
	EnvPubSubFileEventsTopic = "CMS_PUBSUB_FILE_EVENTS_TOPIC"

	EnvPipelineConcurrency      = "CMS_PIPELINE_WORKER_CONCURRENCY"
	EnvPipelineImageMimeTypes   = "CMS_PIPELINE_IMAGE_MIME_TYPES"
	EnvPipelineAllowedMimeTypes = "CMS_PIPELINE_ALLOWED_MIME_TYPES"
	EnvPipelineMaxAttempts      = "CMS_PIPELINE_MAX_ATTEMPTS"
	EnvPipelineJobLease         = "CMS_PIPELINE_JOB_LEASE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
