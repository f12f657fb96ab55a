package config

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "ORDERFLOW_APP_ENV"
	EnvPort     = "ORDERFLOW_APP_PORT"
	EnvLogLevel = "ORDERFLOW_LOG_LEVEL"

	EnvDBDSN    = "ORDERFLOW_DB_DSN"
	EnvDBDriver = "ORDERFLOW_DB_DRIVER"
	EnvDBHost   = "ORDERFLOW_DB_HOST"
	EnvDBUser   = "ORDERFLOW_DB_USER"
	EnvDBName   = "ORDERFLOW_DB_NAME"

	EnvRedisURL = "ORDERFLOW_REDIS_URL"

	EnvJWTSecret  = "ORDERFLOW_JWT_SECRET"
	EnvJWTIssuer  = "ORDERFLOW_JWT_ISSUER"
	EnvJWTExpMins = "ORDERFLOW_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "ORDERFLOW_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic = "ORDERFLOW_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub   = "ORDERFLOW_PUBSUB_ORDERS_SUBSCRIPTION"

	EnvGatewayBaseURL       = "ORDERFLOW_GATEWAY_BASE_URL"
	EnvGatewayAPIKey        = "ORDERFLOW_GATEWAY_API_KEY"
	EnvGatewayClientSecret  = "ORDERFLOW_GATEWAY_CLIENT_SECRET"
	EnvGatewayWebhookSecret = "ORDERFLOW_GATEWAY_WEBHOOK_SECRET"
	EnvGatewayTimeout       = "ORDERFLOW_GATEWAY_TIMEOUT"

	EnvCoinValue = "ORDERFLOW_COIN_VALUE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
