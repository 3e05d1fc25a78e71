// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides the shared Redis connection used by the deduplicator.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides asynq settings for delayed escalation checks.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetMetricsAddr() string
}

// DedupeConfig provides the dedupe window.
type DedupeConfig interface {
	GetDedupeTTL() time.Duration
}

// ComplianceConfig provides quiet-hours policy and timezone fallbacks.
type ComplianceConfig interface {
	GetQuietHoursStart() string
	GetQuietHoursEnd() string
	GetDefaultTimezone() string
	GetDefaultPhoneRegion() string
}

// EngagementConfig provides conversation engine and escalation tuning.
type EngagementConfig interface {
	GetHandoffScoreThreshold() int
	GetDecisionTimeout() time.Duration
	GetSendTimeout() time.Duration
	GetFallbackDelay() time.Duration
	GetReactivationDelay() time.Duration
	GetMessageTemplatesPath() string
}

// ClassifierConfig provides settings for the Gemini decision function.
type ClassifierConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsClassifierEnabled() bool
}

// SMSConfig provides settings for the SMS gateway.
type SMSConfig interface {
	GetSMSGatewayURL() string
	GetSMSGatewayKey() string
	GetSMSFromNumber() string
}

// SMTPConfig provides settings for outbound email.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFromAddress() string
	GetSMTPFromName() string
	IsSMTPEnabled() bool
}

// WhatsAppConfig provides settings for direct messages to assignees.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSOrigins() []string
	GetWebhookSecret() string
}

// OpsConfig provides the JWT secret guarding operational endpoints.
type OpsConfig interface {
	GetOpsJWTSecret() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	MetricsAddr           string
	DedupeTTL             time.Duration
	QuietHoursStart       string
	QuietHoursEnd         string
	DefaultTimezone       string
	DefaultPhoneRegion    string
	HandoffScoreThreshold int
	DecisionTimeout       time.Duration
	SendTimeout           time.Duration
	FallbackDelay         time.Duration
	ReactivationDelay     time.Duration
	MessageTemplatesPath  string
	GeminiAPIKey          string
	GeminiModel           string
	SMSGatewayURL         string
	SMSGatewayKey         string
	SMSFromNumber         string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	SMTPFromAddress       string
	SMTPFromName          string
	WhatsAppURL           string
	WhatsAppKey           string
	WhatsAppDeviceID      string
	WebhookSecret         string
	OpsJWTSecret          string
	CORSOrigins           []string
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) GetMetricsAddr() string    { return c.MetricsAddr }

func (c *Config) GetDedupeTTL() time.Duration { return c.DedupeTTL }

func (c *Config) GetQuietHoursStart() string    { return c.QuietHoursStart }
func (c *Config) GetQuietHoursEnd() string      { return c.QuietHoursEnd }
func (c *Config) GetDefaultTimezone() string    { return c.DefaultTimezone }
func (c *Config) GetDefaultPhoneRegion() string { return c.DefaultPhoneRegion }

func (c *Config) GetHandoffScoreThreshold() int       { return c.HandoffScoreThreshold }
func (c *Config) GetDecisionTimeout() time.Duration   { return c.DecisionTimeout }
func (c *Config) GetSendTimeout() time.Duration       { return c.SendTimeout }
func (c *Config) GetFallbackDelay() time.Duration     { return c.FallbackDelay }
func (c *Config) GetReactivationDelay() time.Duration { return c.ReactivationDelay }
func (c *Config) GetMessageTemplatesPath() string     { return c.MessageTemplatesPath }

func (c *Config) GetGeminiAPIKey() string   { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string    { return c.GeminiModel }
func (c *Config) IsClassifierEnabled() bool { return c.GeminiAPIKey != "" }

func (c *Config) GetSMSGatewayURL() string { return c.SMSGatewayURL }
func (c *Config) GetSMSGatewayKey() string { return c.SMSGatewayKey }
func (c *Config) GetSMSFromNumber() string { return c.SMSFromNumber }

func (c *Config) GetSMTPHost() string        { return c.SMTPHost }
func (c *Config) GetSMTPPort() int           { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string    { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string    { return c.SMTPPassword }
func (c *Config) GetSMTPFromAddress() string { return c.SMTPFromAddress }
func (c *Config) GetSMTPFromName() string    { return c.SMTPFromName }
func (c *Config) IsSMTPEnabled() bool        { return c.SMTPHost != "" }

func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetWebhookSecret() string { return c.WebhookSecret }

func (c *Config) GetOpsJWTSecret() string { return c.OpsJWTSecret }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "engagement"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9091"),
		DedupeTTL:             dedupeTTL(getEnv("DEDUPE_TTL_MINUTES", ""), getEnv("DEDUPE_TTL_HOURS", "24")),
		QuietHoursStart:       getEnv("QUIET_HOURS_START", "21:00"),
		QuietHoursEnd:         getEnv("QUIET_HOURS_END", "08:00"),
		DefaultTimezone:       getEnv("DEFAULT_TIMEZONE", "America/New_York"),
		DefaultPhoneRegion:    getEnv("DEFAULT_PHONE_REGION", "US"),
		HandoffScoreThreshold: mustInt(getEnv("HANDOFF_SCORE_THRESHOLD", "80")),
		DecisionTimeout:       mustDuration(getEnv("DECISION_TIMEOUT", "20s")),
		SendTimeout:           mustDuration(getEnv("SEND_TIMEOUT", "10s")),
		FallbackDelay:         mustDuration(getEnv("FALLBACK_DELAY", "3h")),
		ReactivationDelay:     mustDuration(getEnv("REACTIVATION_DELAY", "24h")),
		MessageTemplatesPath:  getEnv("MESSAGE_TEMPLATES_PATH", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		SMSGatewayURL:         getEnv("SMS_GATEWAY_URL", ""),
		SMSGatewayKey:         getEnv("SMS_GATEWAY_KEY", ""),
		SMSFromNumber:         getEnv("SMS_FROM_NUMBER", ""),
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		SMTPFromAddress:       getEnv("SMTP_FROM_ADDRESS", ""),
		SMTPFromName:          getEnv("SMTP_FROM_NAME", "Sales Team"),
		WhatsAppURL:           getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:           getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:      getEnv("WHATSAPP_DEVICE_ID", ""),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		OpsJWTSecret:          getEnv("OPS_JWT_SECRET", ""),
		CORSOrigins:           splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if c.DedupeTTL <= 0 {
		return fmt.Errorf("DEDUPE_TTL_HOURS or DEDUPE_TTL_MINUTES must be positive")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a valid IANA zone: %w", c.DefaultTimezone, err)
	}
	if !isClock(c.QuietHoursStart) || !isClock(c.QuietHoursEnd) {
		return fmt.Errorf("QUIET_HOURS_START and QUIET_HOURS_END must be HH:MM")
	}
	if c.FallbackDelay <= 0 || c.ReactivationDelay <= c.FallbackDelay {
		return fmt.Errorf("REACTIVATION_DELAY must be greater than FALLBACK_DELAY")
	}
	if c.IsSMTPEnabled() && c.SMTPFromAddress == "" {
		return fmt.Errorf("SMTP_FROM_ADDRESS is required when SMTP_HOST is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// dedupeTTL prefers the minutes setting when present so short windows can be
// configured without fractional hours.
func dedupeTTL(minutes, hours string) time.Duration {
	if strings.TrimSpace(minutes) != "" {
		return time.Duration(mustInt(minutes)) * time.Minute
	}
	return time.Duration(mustInt(hours)) * time.Hour
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func isClock(value string) bool {
	_, err := time.Parse("15:04", strings.TrimSpace(value))
	return err == nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
