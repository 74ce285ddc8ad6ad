package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/pricing"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	OrderStoreMongo    = "mongo"
	OrderStorePostgres = "postgres"

	ProviderStripe = "stripe"
	ProviderFake   = "fake"
)

type Config struct {
	HTTPPort string
	GRPCPort string
	LogLevel string

	MongoURI    string
	MongoDBName string

	OrderStore string
	Postgres   PostgresConfig

	RedisAddr     string
	RedisPassword string

	KafkaBrokers     []string
	OrderEventsTopic string

	JWTSecret          string
	CORSAllowedOrigins []string

	PaymentProvider     string
	StripeAPIKey        string
	StripeAPIBase       string
	StripeWebhookSecret string
	Currency            string

	Pricing pricing.Rules

	PollInterval         time.Duration
	PollMaxAttempts      int
	PollTransportRetries int
	GatewayCallTimeout   time.Duration
	SessionTTL           time.Duration
	DirectPaymentMethods []string
	BackgroundReconcile  bool
	CartClearGrace       time.Duration

	OTLPEndpoint string
}

type PostgresConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	MigrationsPath string
}

// Load reads the environment, after loading .env if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := &Config{
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		GRPCPort:             getEnv("GRPC_PORT", "50056"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:          getEnv("MONGO_DB_NAME", "nexusmarket"),
		OrderStore:           getEnv("ORDER_STORE", OrderStoreMongo),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:         splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		OrderEventsTopic:     getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		PaymentProvider:      getEnv("PAYMENT_PROVIDER", ProviderStripe),
		StripeAPIKey:         getEnv("STRIPE_API_KEY", ""),
		StripeAPIBase:        getEnv("STRIPE_API_BASE", "https://api.stripe.com"),
		StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:             strings.ToLower(getEnv("CURRENCY", "usd")),
		DirectPaymentMethods: splitList(getEnv("DIRECT_PAYMENT_METHODS", "paypal,manual")),
		OTLPEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	cfg.Postgres = PostgresConfig{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           parseInt("DB_PORT", "5432", &errs),
		User:           getEnv("DB_USER", "postgres"),
		Password:       getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "nexusmarket"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
	}

	cfg.Pricing = pricing.Rules{
		FreeShippingThreshold: parseMoney("FREE_SHIPPING_THRESHOLD", "100.00", &errs),
		FlatShippingRate:      parseMoney("FLAT_SHIPPING_RATE", "10.00", &errs),
		TaxRate:               parseDecimal("TAX_RATE", "0.10", &errs),
	}

	cfg.PollInterval = parseDuration("POLL_INTERVAL", "2s", &errs)
	cfg.PollMaxAttempts = parseInt("POLL_MAX_ATTEMPTS", "5", &errs)
	cfg.PollTransportRetries = parseInt("POLL_TRANSPORT_RETRIES", "3", &errs)
	cfg.GatewayCallTimeout = parseDuration("GATEWAY_CALL_TIMEOUT", "5s", &errs)
	cfg.SessionTTL = parseDuration("SESSION_TTL", "30m", &errs)
	cfg.CartClearGrace = parseDuration("CART_CLEAR_GRACE", "30s", &errs)
	cfg.BackgroundReconcile = parseBool("BACKGROUND_RECONCILE", "true", &errs)

	errs = append(errs, cfg.validate()...)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.OrderStore != OrderStoreMongo && c.OrderStore != OrderStorePostgres {
		errs = append(errs, fmt.Errorf("ORDER_STORE must be %q or %q, got %q", OrderStoreMongo, OrderStorePostgres, c.OrderStore))
	}
	if c.PaymentProvider != ProviderStripe && c.PaymentProvider != ProviderFake {
		errs = append(errs, fmt.Errorf("PAYMENT_PROVIDER must be %q or %q, got %q", ProviderStripe, ProviderFake, c.PaymentProvider))
	}
	if c.PaymentProvider == ProviderStripe && c.StripeAPIKey == "" {
		errs = append(errs, errors.New("STRIPE_API_KEY is required when PAYMENT_PROVIDER=stripe"))
	}
	if c.PaymentProvider == ProviderStripe && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when PAYMENT_PROVIDER=stripe"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.PollMaxAttempts < 1 {
		errs = append(errs, errors.New("POLL_MAX_ATTEMPTS must be at least 1"))
	}
	if c.PollTransportRetries < 1 {
		errs = append(errs, errors.New("POLL_TRANSPORT_RETRIES must be at least 1"))
	}
	if c.Pricing.TaxRate.IsNegative() {
		errs = append(errs, errors.New("TAX_RATE must not be negative"))
	}
	if c.Pricing.FlatShippingRate < 0 || c.Pricing.FreeShippingThreshold < 0 {
		errs = append(errs, errors.New("shipping amounts must not be negative"))
	}
	return errs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(key, def string, errs *[]error) int {
	v, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func parseBool(key, def string, errs *[]error) bool {
	v, err := strconv.ParseBool(getEnv(key, def))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func parseDuration(key, def string, errs *[]error) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	} else if v <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be positive", key))
	}
	return v
}

func parseDecimal(key, def string, errs *[]error) decimal.Decimal {
	v, err := decimal.NewFromString(getEnv(key, def))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func parseMoney(key, def string, errs *[]error) domain.Money {
	return domain.MoneyFromDecimal(parseDecimal(key, def, errs))
}
