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
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the registration-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix            string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	SubmissionAPIBaseURL      string `mapstructure:"SUBMISSION_API_BASE_URL"`
	SubmissionAPIKey          string `mapstructure:"SUBMISSION_API_KEY"`
	SubmissionTimeoutSeconds  int    `mapstructure:"SUBMISSION_TIMEOUT_SECONDS"`
	SubmissionRetryMax        int    `mapstructure:"SUBMISSION_RETRY_MAX"`
	PaymentAPIBaseURL         string `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAPIKey             string `mapstructure:"PAYMENT_API_KEY"`
	ChargeTimeoutSeconds      int    `mapstructure:"CHARGE_TIMEOUT_SECONDS"`
	ResumeTokenSecret         string `mapstructure:"RESUME_TOKEN_SECRET"`
	ResumeTokenTTLMinutes     int    `mapstructure:"RESUME_TOKEN_TTL_MINUTES"`
	ResumeBaseURL             string `mapstructure:"RESUME_BASE_URL"`
	ResumeRateLimitPerMinute  int    `mapstructure:"RESUME_RATE_LIMIT_PER_MINUTE"`
	AllocationIntervalSeconds int    `mapstructure:"ALLOCATION_INTERVAL_SECONDS"`
	CycleTimeoutSeconds       int    `mapstructure:"CYCLE_TIMEOUT_SECONDS"`
	MaxSessionsPerCycle       int    `mapstructure:"MAX_SESSIONS_PER_CYCLE"`
	SessionWorkers            int    `mapstructure:"SESSION_WORKERS"`
	UserSessionCap            int    `mapstructure:"USER_SESSION_CAP"`
	SweepBatchSize            int    `mapstructure:"SWEEP_BATCH_SIZE"`
	StaleAcceptedAfterMinutes int    `mapstructure:"STALE_ACCEPTED_AFTER_MINUTES"`
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
	viper.SetDefault("REDIS_KEY_PREFIX", "campseat")
	viper.SetDefault("SUBMISSION_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SUBMISSION_RETRY_MAX", 3)
	viper.SetDefault("CHARGE_TIMEOUT_SECONDS", 15)
	viper.SetDefault("RESUME_TOKEN_TTL_MINUTES", 30)
	viper.SetDefault("RESUME_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("ALLOCATION_INTERVAL_SECONDS", 60)
	viper.SetDefault("CYCLE_TIMEOUT_SECONDS", 300)
	viper.SetDefault("MAX_SESSIONS_PER_CYCLE", 50)
	viper.SetDefault("SESSION_WORKERS", 4)
	viper.SetDefault("USER_SESSION_CAP", 1)
	viper.SetDefault("SWEEP_BATCH_SIZE", 200)
	viper.SetDefault("STALE_ACCEPTED_AFTER_MINUTES", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("SUBMISSION_API_BASE_URL")
	_ = viper.BindEnv("SUBMISSION_API_KEY")
	_ = viper.BindEnv("SUBMISSION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SUBMISSION_RETRY_MAX")
	_ = viper.BindEnv("PAYMENT_API_BASE_URL")
	_ = viper.BindEnv("PAYMENT_API_KEY")
	_ = viper.BindEnv("CHARGE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RESUME_TOKEN_SECRET")
	_ = viper.BindEnv("RESUME_TOKEN_TTL_MINUTES")
	_ = viper.BindEnv("RESUME_BASE_URL")
	_ = viper.BindEnv("RESUME_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ALLOCATION_INTERVAL_SECONDS")
	_ = viper.BindEnv("CYCLE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("MAX_SESSIONS_PER_CYCLE")
	_ = viper.BindEnv("SESSION_WORKERS")
	_ = viper.BindEnv("USER_SESSION_CAP")
	_ = viper.BindEnv("SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("STALE_ACCEPTED_AFTER_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.ResumeTokenSecret = strings.TrimSpace(config.ResumeTokenSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "campseat"
	}
	config.ResumeBaseURL = strings.TrimRight(strings.TrimSpace(config.ResumeBaseURL), "/")

	// Coerce out-of-range values back to safe defaults.
	if config.SubmissionTimeoutSeconds <= 0 {
		config.SubmissionTimeoutSeconds = 30
	}
	if config.SubmissionRetryMax <= 0 {
		config.SubmissionRetryMax = 3
	}
	if config.ChargeTimeoutSeconds <= 0 {
		config.ChargeTimeoutSeconds = 15
	}
	if config.ResumeTokenTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive resume token ttl configured; using default\" ttl_minutes=%d", config.ResumeTokenTTLMinutes)
		config.ResumeTokenTTLMinutes = 30
	}
	if config.ResumeRateLimitPerMinute < 0 {
		config.ResumeRateLimitPerMinute = 0
	}
	if config.AllocationIntervalSeconds <= 0 {
		config.AllocationIntervalSeconds = 60
	}
	if config.CycleTimeoutSeconds <= 0 {
		config.CycleTimeoutSeconds = 300
	}
	if config.MaxSessionsPerCycle <= 0 {
		config.MaxSessionsPerCycle = 50
	}
	if config.SessionWorkers <= 0 {
		config.SessionWorkers = 4
	}
	if config.UserSessionCap <= 0 {
		config.UserSessionCap = 1
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = 200
	}
	if config.StaleAcceptedAfterMinutes <= 0 {
		config.StaleAcceptedAfterMinutes = 10
	}

	return
}
