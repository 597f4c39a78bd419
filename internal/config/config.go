package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string
	AuthJWTIssuer string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	Stripe StripeConfig
	Maps   MapsConfig
	Model  ModelConfig
}

type StripeConfig struct {
	SecretKey          string
	WebhookSecret      string
	WebhookTolerance   time.Duration
	FrontendURL        string
	SubscriptionPrice  string
	SubscriptionTier   string
	TokenPackagePrices map[string]string
	TokenUnitAmount    int64
	Currency           string
}

type MapsConfig struct {
	APIKey  string
	BaseURL string
}

type ModelConfig struct {
	Endpoint string
	APIKey   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:       getenv("APP_SERVICE", "yardcraft"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "yardcraft"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		KafkaBrokers: parseList(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "yardcraft.events"),

		Stripe: StripeConfig{
			SecretKey:          strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:      strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance:   getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			FrontendURL:        strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
			SubscriptionPrice:  strings.TrimSpace(getenv("STRIPE_PRICE_SUBSCRIPTION", "")),
			SubscriptionTier:   getenv("SUBSCRIPTION_TIER", "pro"),
			TokenPackagePrices: parsePairs(getenv("STRIPE_TOKEN_PACKAGES", "")),
			TokenUnitAmount:    int64(getenvInt("STRIPE_TOKEN_UNIT_AMOUNT", 100)),
			Currency:           strings.ToLower(getenv("STRIPE_CURRENCY", "usd")),
		},
		Maps: MapsConfig{
			APIKey:  strings.TrimSpace(getenv("GOOGLE_MAPS_API_KEY", "")),
			BaseURL: getenv("GOOGLE_MAPS_BASE_URL", "https://maps.googleapis.com"),
		},
		Model: ModelConfig{
			Endpoint: strings.TrimSpace(getenv("IMAGE_MODEL_ENDPOINT", "")),
			APIKey:   strings.TrimSpace(getenv("IMAGE_MODEL_API_KEY", "")),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parsePairs reads "50=price_abc,200=price_def" into a map keyed by the left side.
func parsePairs(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range parseList(raw) {
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
