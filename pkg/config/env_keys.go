package config

// EnvPrefix namespaces every environment variable this service reads.
const EnvPrefix = "SCRIBEFLOW"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Environment variable names referenced outside struct tags (tests, error
// messages). Keep in sync with the envconfig tags above.
const (
	EnvAppEnv     = "SCRIBEFLOW_APP_ENV"
	EnvPort       = "SCRIBEFLOW_APP_PORT"
	EnvDBDSN      = "SCRIBEFLOW_DB_DSN"
	EnvDBHost     = "SCRIBEFLOW_DB_HOST"
	EnvDBUser     = "SCRIBEFLOW_DB_USER"
	EnvDBName     = "SCRIBEFLOW_DB_NAME"
	EnvRedisURL   = "SCRIBEFLOW_REDIS_URL"
	EnvJWTSecret  = "SCRIBEFLOW_JWT_SECRET"
	EnvJWTIssuer  = "SCRIBEFLOW_JWT_ISSUER"
	EnvJWTExpMins = "SCRIBEFLOW_JWT_EXPIRATION_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
