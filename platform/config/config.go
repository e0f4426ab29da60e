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

// Process roles decide which surfaces a binary runs.
const (
	RoleWeb    = "web"
	RoleWorker = "worker"
	RoleAll    = "all"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides Redis and asynq settings for background work.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// PollerConfig provides the tick intervals of the periodic jobs.
type PollerConfig interface {
	GetCallPollInterval() time.Duration
	GetEmailStepsInterval() time.Duration
	GetOutboxInterval() time.Duration
	GetReplyPollInterval() time.Duration
	GetOutboxBatchSize() int
	IsEmailSequenceSchedulerEnabled() bool
}

// VoiceConfig provides settings for the outbound voice provider.
type VoiceConfig interface {
	GetVapiAPIKey() string
	GetVapiBaseURL() string
	GetVapiAssistantID() string
	GetVapiPhoneNumberID() string
	GetVapiModelProvider() string
	GetVapiModelName() string
	GetVapiWebhookSecret() string
	IsVoiceEnabled() bool
}

// CallPolicyConfig provides call eligibility settings.
type CallPolicyConfig interface {
	GetDefaultPhoneRegion() string
	GetAllowCallsWithoutDomain() bool
}

// BillingConfig provides credit pricing settings.
type BillingConfig interface {
	GetPriceCentsPerMinute() int64
	GetMinReserveCents() int64
	GetPriceCentsPerCredit() int64
}

// StripeConfig provides payment processor settings.
type StripeConfig interface {
	GetStripeSecretKey() string
	GetStripeWebhookSecret() string
	GetStripeCurrency() string
	GetStripeSuccessURL() string
	GetStripeCancelURL() string
	BillingConfig
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailSendingEnabled() bool
	GetEmailFromAddress() string
	GetEmailFromName() string
	GetEmailAppPassword() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetAllowSMTPFallback() bool
	GetMaxEmailsPerDay() int
	GetReplyToDomain() string
}

// GoogleConfig provides OAuth client settings for per-user Gmail access.
type GoogleConfig interface {
	GetGoogleClientID() string
	GetGoogleClientSecret() string
	GetGoogleRedirectURL() string
	IsGoogleEnabled() bool
}

// IMAPConfig provides settings for polling the shared sender mailbox.
type IMAPConfig interface {
	GetIMAPHost() string
	GetIMAPPort() int
	GetEmailFromAddress() string
	GetEmailAppPassword() string
	IsIMAPEnabled() bool
}

// ReplyConfig provides settings for inbound reply ingestion.
type ReplyConfig interface {
	GetInboundEmailSecret() string
	GetEmailFromAddress() string
	GetReplyToDomain() string
}

// OutreachConfig provides settings for the lead acceptance flow.
type OutreachConfig interface {
	GetInitialEmailSender() string
	GetDefaultPhoneRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env             string
	ProcessRole     string
	HTTPAddr        string
	DatabaseURL     string
	JWTAccessSecret string
	CORSAllowAll    bool
	CORSOrigins     []string
	CORSAllowCreds  bool

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	CallPollInterval              time.Duration
	EmailStepsInterval            time.Duration
	OutboxInterval                time.Duration
	ReplyPollInterval             time.Duration
	OutboxBatchSize               int
	EmailSequenceSchedulerEnabled bool

	VapiAPIKey        string
	VapiBaseURL       string
	VapiAssistantID   string
	VapiPhoneNumberID string
	VapiModelProvider string
	VapiModelName     string
	VapiWebhookSecret string

	DefaultPhoneRegion      string
	AllowCallsWithoutDomain bool

	PriceCentsPerMinute int64
	MinReserveCents     int64
	PriceCentsPerCredit int64

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string
	StripeSuccessURL    string
	StripeCancelURL     string

	EmailSendingEnabled bool
	EmailFromAddress    string
	EmailFromName       string
	EmailAppPassword    string
	SMTPHost            string
	SMTPPort            int
	AllowSMTPFallback   bool
	MaxEmailsPerDay     int
	ReplyToDomain       string
	InitialEmailSender  string
	InboundEmailSecret  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	IMAPHost string
	IMAPPort int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// PollerConfig implementation
func (c *Config) GetCallPollInterval() time.Duration   { return c.CallPollInterval }
func (c *Config) GetEmailStepsInterval() time.Duration { return c.EmailStepsInterval }
func (c *Config) GetOutboxInterval() time.Duration     { return c.OutboxInterval }
func (c *Config) GetReplyPollInterval() time.Duration  { return c.ReplyPollInterval }
func (c *Config) GetOutboxBatchSize() int              { return c.OutboxBatchSize }
func (c *Config) IsEmailSequenceSchedulerEnabled() bool {
	return c.EmailSequenceSchedulerEnabled
}

// VoiceConfig implementation
func (c *Config) GetVapiAPIKey() string        { return c.VapiAPIKey }
func (c *Config) GetVapiBaseURL() string       { return c.VapiBaseURL }
func (c *Config) GetVapiAssistantID() string   { return c.VapiAssistantID }
func (c *Config) GetVapiPhoneNumberID() string { return c.VapiPhoneNumberID }
func (c *Config) GetVapiModelProvider() string { return c.VapiModelProvider }
func (c *Config) GetVapiModelName() string     { return c.VapiModelName }
func (c *Config) GetVapiWebhookSecret() string { return c.VapiWebhookSecret }
func (c *Config) IsVoiceEnabled() bool {
	return c.VapiAPIKey != "" && c.VapiPhoneNumberID != ""
}

// CallPolicyConfig implementation
func (c *Config) GetDefaultPhoneRegion() string    { return c.DefaultPhoneRegion }
func (c *Config) GetAllowCallsWithoutDomain() bool { return c.AllowCallsWithoutDomain }

// BillingConfig implementation
func (c *Config) GetPriceCentsPerMinute() int64 { return c.PriceCentsPerMinute }
func (c *Config) GetMinReserveCents() int64     { return c.MinReserveCents }
func (c *Config) GetPriceCentsPerCredit() int64 { return c.PriceCentsPerCredit }

// StripeConfig implementation
func (c *Config) GetStripeSecretKey() string     { return c.StripeSecretKey }
func (c *Config) GetStripeWebhookSecret() string { return c.StripeWebhookSecret }
func (c *Config) GetStripeCurrency() string      { return c.StripeCurrency }
func (c *Config) GetStripeSuccessURL() string    { return c.StripeSuccessURL }
func (c *Config) GetStripeCancelURL() string     { return c.StripeCancelURL }

// EmailConfig implementation
func (c *Config) GetEmailSendingEnabled() bool { return c.EmailSendingEnabled }
func (c *Config) GetEmailFromAddress() string  { return c.EmailFromAddress }
func (c *Config) GetEmailFromName() string     { return c.EmailFromName }
func (c *Config) GetEmailAppPassword() string  { return c.EmailAppPassword }
func (c *Config) GetSMTPHost() string          { return c.SMTPHost }
func (c *Config) GetSMTPPort() int             { return c.SMTPPort }
func (c *Config) GetAllowSMTPFallback() bool   { return c.AllowSMTPFallback }
func (c *Config) GetMaxEmailsPerDay() int      { return c.MaxEmailsPerDay }
func (c *Config) GetReplyToDomain() string     { return c.ReplyToDomain }

// GoogleConfig implementation
func (c *Config) GetGoogleClientID() string     { return c.GoogleClientID }
func (c *Config) GetGoogleClientSecret() string { return c.GoogleClientSecret }
func (c *Config) GetGoogleRedirectURL() string  { return c.GoogleRedirectURL }
func (c *Config) IsGoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// IMAPConfig implementation
func (c *Config) GetIMAPHost() string { return c.IMAPHost }
func (c *Config) GetIMAPPort() int    { return c.IMAPPort }
func (c *Config) IsIMAPEnabled() bool {
	return c.IMAPHost != "" && c.EmailFromAddress != "" && c.EmailAppPassword != ""
}

// ReplyConfig implementation
func (c *Config) GetInboundEmailSecret() string { return c.InboundEmailSecret }

// OutreachConfig implementation
func (c *Config) GetInitialEmailSender() string { return c.InitialEmailSender }

// RunsHTTP reports whether this process serves the HTTP API.
func (c *Config) RunsHTTP() bool { return c.ProcessRole == RoleWeb || c.ProcessRole == RoleAll }

// RunsWorkers reports whether this process runs the background jobs.
func (c *Config) RunsWorkers() bool { return c.ProcessRole == RoleWorker || c.ProcessRole == RoleAll }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:             getEnv("APP_ENV", "development"),
		ProcessRole:     strings.ToLower(strings.TrimSpace(getEnv("PROCESS_ROLE", RoleWeb))),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:    corsAllowAll,
		CORSOrigins:     corsOrigins,
		CORSAllowCreds:  getBool("CORS_ALLOW_CREDENTIALS", true),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: getBool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "outreach"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),

		CallPollInterval:              mustDuration(getEnv("CALL_POLL_INTERVAL", "1m")),
		EmailStepsInterval:            mustDuration(getEnv("EMAIL_STEPS_INTERVAL", "5m")),
		OutboxInterval:                mustDuration(getEnv("OUTBOX_INTERVAL", "30s")),
		ReplyPollInterval:             mustDuration(getEnv("REPLY_POLL_INTERVAL", "2m")),
		OutboxBatchSize:               mustInt(getEnv("OUTBOX_BATCH_SIZE", "25")),
		EmailSequenceSchedulerEnabled: getBool("EMAIL_SEQUENCE_SCHEDULER_ENABLED", true),

		VapiAPIKey:        getEnv("VAPI_API_KEY", ""),
		VapiBaseURL:       strings.TrimRight(getEnv("VAPI_BASE_URL", "https://api.vapi.ai"), "/"),
		VapiAssistantID:   getEnv("VAPI_ASSISTANT_ID", ""),
		VapiPhoneNumberID: getEnv("VAPI_PHONE_NUMBER_ID", ""),
		VapiModelProvider: getEnv("VAPI_MODEL_PROVIDER", "openai"),
		VapiModelName:     getEnv("VAPI_MODEL_NAME", "gpt-4o-mini"),
		VapiWebhookSecret: getEnv("VAPI_WEBHOOK_SECRET", ""),

		DefaultPhoneRegion:      strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "US")),
		AllowCallsWithoutDomain: getBool("ALLOW_CALLS_WITHOUT_DOMAIN", true),

		PriceCentsPerMinute: mustInt64(getEnv("PRICE_CENTS_PER_MINUTE", "30")),
		MinReserveCents:     mustInt64(getEnv("MIN_RESERVE_CENTS", "30")),
		PriceCentsPerCredit: mustInt64(getEnv("PRICE_CENTS_PER_CREDIT", "30")),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeCurrency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", "http://localhost:5173/settings/billing?status=success"),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", "http://localhost:5173/settings/billing?status=cancel"),

		EmailSendingEnabled: getBool("EMAIL_SENDING_ENABLED", true),
		EmailFromAddress:    getEnv("EMAIL_FROM", ""),
		EmailFromName:       getEnv("EMAIL_FROM_NAME", ""),
		EmailAppPassword:    getEnv("EMAIL_APP_PASSWORD", ""),
		SMTPHost:            getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:            mustInt(getEnv("SMTP_PORT", "587")),
		AllowSMTPFallback:   getBool("ALLOW_SMTP_FALLBACK", true),
		MaxEmailsPerDay:     mustInt(getEnv("MAX_EMAILS_PER_DAY", "150")),
		ReplyToDomain:       getEnv("REPLY_TO_DOMAIN", ""),
		InitialEmailSender:  strings.ToLower(strings.TrimSpace(getEnv("INITIAL_EMAIL_SENDER", "render"))),
		InboundEmailSecret:  getEnv("INBOUND_EMAIL_SECRET", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		IMAPHost: getEnv("IMAP_HOST", "imap.gmail.com"),
		IMAPPort: mustInt(getEnv("IMAP_PORT", "993")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	switch cfg.ProcessRole {
	case RoleWeb, RoleWorker, RoleAll:
	default:
		return nil, fmt.Errorf("PROCESS_ROLE must be one of web, worker, all (got %q)", cfg.ProcessRole)
	}
	if cfg.PriceCentsPerMinute <= 0 {
		return nil, fmt.Errorf("PRICE_CENTS_PER_MINUTE must be positive")
	}
	if cfg.PriceCentsPerCredit <= 0 {
		return nil, fmt.Errorf("PRICE_CENTS_PER_CREDIT must be positive")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return result
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

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
