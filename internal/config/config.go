/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string  `mapstructure:"SERVER_PORT"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
	MigrationsURL            string  `mapstructure:"MIGRATIONS_URL"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	RabbitMQURL              string  `mapstructure:"RABBITMQ_URL"`
	WorkflowEventQueue       string  `mapstructure:"WORKFLOW_EVENT_QUEUE"`
	JWTSecret                string  `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes            int     `mapstructure:"JWT_TTL_MINUTES"`
	DocumentStoreDir         string  `mapstructure:"DOCUMENT_STORE_DIR"`
	MaxUploadBytes           int64   `mapstructure:"MAX_UPLOAD_BYTES"`
	MailGatewayURL           string  `mapstructure:"MAIL_GATEWAY_URL"`
	MailGatewayAPIKey        string  `mapstructure:"MAIL_GATEWAY_API_KEY"`
	SMSGatewayURL            string  `mapstructure:"SMS_GATEWAY_URL"`
	SMSGatewayAPIKey         string  `mapstructure:"SMS_GATEWAY_API_KEY"`
	PushGatewayURL           string  `mapstructure:"PUSH_GATEWAY_URL"`
	PushGatewayAPIKey        string  `mapstructure:"PUSH_GATEWAY_API_KEY"`
	GatewayFailureRate       float64 `mapstructure:"GATEWAY_FAILURE_RATE"`
	GatewayLatencyMS         int     `mapstructure:"GATEWAY_LATENCY_MS"`
	OutboxBatchSize          int     `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxStaleSeconds       int     `mapstructure:"OUTBOX_STALE_SECONDS"`
	OutboxPollSeconds        int     `mapstructure:"OUTBOX_POLL_SECONDS"`
	AnalyticsCacheTTLSeconds int     `mapstructure:"ANALYTICS_CACHE_TTL_SECONDS"`
	DemandeExpiryDays        int     `mapstructure:"DEMANDE_EXPIRY_DAYS"`
	PaymentRetrySchedule     string  `mapstructure:"PAYMENT_RETRY_SCHEDULE"`
	ScheduledPaymentSchedule string  `mapstructure:"SCHEDULED_PAYMENT_SCHEDULE"`
	NotificationRetrySched   string  `mapstructure:"NOTIFICATION_RETRY_SCHEDULE"`
	DemandeExpirySchedule    string  `mapstructure:"DEMANDE_EXPIRY_SCHEDULE"`
	PoolExpirySchedule       string  `mapstructure:"POOL_EXPIRY_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MIGRATIONS_URL", "file://migrations")
	viper.SetDefault("WORKFLOW_EVENT_QUEUE", "assistance.workflow_updates")
	viper.SetDefault("JWT_TTL_MINUTES", 1440)
	viper.SetDefault("DOCUMENT_STORE_DIR", "./data/documents")
	viper.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	viper.SetDefault("GATEWAY_FAILURE_RATE", 0.0)
	viper.SetDefault("GATEWAY_LATENCY_MS", 0)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_STALE_SECONDS", 120)
	viper.SetDefault("OUTBOX_POLL_SECONDS", 2)
	viper.SetDefault("ANALYTICS_CACHE_TTL_SECONDS", 60)
	viper.SetDefault("DEMANDE_EXPIRY_DAYS", 90)
	viper.SetDefault("PAYMENT_RETRY_SCHEDULE", "@every 1m")
	viper.SetDefault("SCHEDULED_PAYMENT_SCHEDULE", "@every 1m")
	viper.SetDefault("NOTIFICATION_RETRY_SCHEDULE", "@every 2m")
	viper.SetDefault("DEMANDE_EXPIRY_SCHEDULE", "0 3 * * *") // At 03:00 daily.
	viper.SetDefault("POOL_EXPIRY_SCHEDULE", "0 1 * * *")    // At 01:00 daily.

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("MIGRATIONS_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("WORKFLOW_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_MINUTES")
	_ = viper.BindEnv("DOCUMENT_STORE_DIR")
	_ = viper.BindEnv("MAX_UPLOAD_BYTES")
	_ = viper.BindEnv("MAIL_GATEWAY_URL")
	_ = viper.BindEnv("MAIL_GATEWAY_API_KEY")
	_ = viper.BindEnv("SMS_GATEWAY_URL")
	_ = viper.BindEnv("SMS_GATEWAY_API_KEY")
	_ = viper.BindEnv("PUSH_GATEWAY_URL")
	_ = viper.BindEnv("PUSH_GATEWAY_API_KEY")
	_ = viper.BindEnv("GATEWAY_FAILURE_RATE")
	_ = viper.BindEnv("GATEWAY_LATENCY_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_STALE_SECONDS")
	_ = viper.BindEnv("OUTBOX_POLL_SECONDS")
	_ = viper.BindEnv("ANALYTICS_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("DEMANDE_EXPIRY_DAYS")
	_ = viper.BindEnv("PAYMENT_RETRY_SCHEDULE")
	_ = viper.BindEnv("SCHEDULED_PAYMENT_SCHEDULE")
	_ = viper.BindEnv("NOTIFICATION_RETRY_SCHEDULE")
	_ = viper.BindEnv("DEMANDE_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("POOL_EXPIRY_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	if config.JWTTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive JWT_TTL_MINUTES; coercing to default\" value=%d", config.JWTTTLMinutes)
		config.JWTTTLMinutes = 1440
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 10 << 20
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.OutboxStaleSeconds <= 0 {
		config.OutboxStaleSeconds = 120
	}
	if config.OutboxPollSeconds <= 0 {
		config.OutboxPollSeconds = 2
	}
	if config.AnalyticsCacheTTLSeconds <= 0 {
		config.AnalyticsCacheTTLSeconds = 60
	}
	if config.DemandeExpiryDays <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive DEMANDE_EXPIRY_DAYS; coercing to default\" value=%d", config.DemandeExpiryDays)
		config.DemandeExpiryDays = 90
	}

	return
}
