package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
	JWTSecret          string
	APIRateLimitRPS    float64
	APIRateLimitBurst  int

	// Master database (tenant registry, processed webhooks).
	MasterDatabaseURL string

	// Tenant databases. A tenant whose db_name is not a full URL gets a
	// connection string built from these parts.
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string

	// Tenant connection cache.
	TenantCacheMax      int
	TenantIdleTimeout   time.Duration
	TenantSweepInterval time.Duration
	TenantPoolMaxConns  int

	// Conversation sessions.
	SessionStore     string
	SessionTimeout   time.Duration
	SessionRetention time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool

	// Async processing.
	UseMemoryQueue       bool
	ConversationQueueURL string
	WorkerCount          int
	JobTimeout           time.Duration
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string

	// WhatsApp Cloud API.
	WhatsAppPhoneNumberID string
	WhatsAppAccessToken   string
	WhatsAppAPIVersion    string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppTenantCode    string
	WhatsAppTenantMapJSON string
	WhatsAppOperatorMenu  bool

	// Clinic presentation.
	ClinicName           string
	ClinicReceptionPhone string
	ClinicTimezone       string
	ClinicCurrency       string
	ConsultationFeeCents int64
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		CORSAllowedHeaders: getEnvAsList("CORS_ALLOWED_HEADERS", "Authorization", "Content-Type", "X-Tenant-Id"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		APIRateLimitRPS:    getEnvAsFloat("API_RATE_LIMIT_RPS", 5),
		APIRateLimitBurst:  getEnvAsInt("API_RATE_LIMIT_BURST", 20),

		MasterDatabaseURL: getEnv("MASTER_DATABASE_URL", ""),

		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5438"),

		TenantCacheMax:      getEnvAsInt("TENANT_CACHE_MAX", 50),
		TenantIdleTimeout:   getEnvAsDuration("TENANT_IDLE_TIMEOUT", 10*time.Minute),
		TenantSweepInterval: getEnvAsDuration("TENANT_SWEEP_INTERVAL", time.Minute),
		TenantPoolMaxConns:  getEnvAsInt("TENANT_POOL_MAX_CONNS", 5),

		SessionStore:     strings.ToLower(strings.TrimSpace(getEnv("SESSION_STORE", "memory"))),
		SessionTimeout:   getEnvAsDuration("SESSION_TIMEOUT", 10*time.Minute),
		SessionRetention: getEnvAsDuration("SESSION_RETENTION", 24*time.Hour),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),
		JobTimeout:           getEnvAsDuration("JOB_TIMEOUT", 30*time.Second),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppAPIVersion:    getEnv("WHATSAPP_API_VERSION", "v21.0"),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppTenantCode:    getEnv("WHATSAPP_TENANT_CODE", ""),
		WhatsAppTenantMapJSON: getEnv("WHATSAPP_TENANT_MAP_JSON", ""),
		WhatsAppOperatorMenu:  getEnvAsBool("WHATSAPP_OPERATOR_MENU", true),

		ClinicName:           getEnv("CLINIC_NAME", "Clínica"),
		ClinicReceptionPhone: getEnv("CLINIC_RECEPTION_PHONE", ""),
		ClinicTimezone:       getEnv("CLINIC_TIMEZONE", "America/La_Paz"),
		ClinicCurrency:       getEnv("CLINIC_CURRENCY", "BOB"),
		ConsultationFeeCents: int64(getEnvAsInt("CONSULTATION_FEE_CENTS", 15000)),
	}
}

// ClinicLocation resolves ClinicTimezone, falling back to UTC when unknown.
func (c *Config) ClinicLocation() *time.Location {
	if c == nil || strings.TrimSpace(c.ClinicTimezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue ...string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
