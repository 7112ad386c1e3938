package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Hammadhkhan/Whatsapp-Healthcare-Backend/models"
)

type Config struct {
	// Server
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string

	// Database
	Database DatabaseConfig

	// WhatsApp Cloud API
	WhatsApp WhatsAppConfig

	// SMS Service
	SMS SMSConfig

	// Admin surface
	Admin AdminConfig

	// Triage policy
	Triage TriageConfig

	// Dispatch
	Dispatch DispatchConfig

	// Scheduler
	Scheduler SchedulerConfig

	// AI Service
	AI AIConfig

	// Knowledge table overrides
	Tables TablesConfig
}

type DatabaseConfig struct {
	Type     string // "memory", "mongodb" or "postgresql"
	URI      string
	Name     string
	Host     string
	Port     string
	Username string
	Password string

	// Connection pool settings
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
}

type WhatsAppConfig struct {
	APIURL        string
	APIVersion    string
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string
	Timeout       time.Duration
	MarkAsRead    bool
}

type SMSConfig struct {
	Provider   string // "twilio"
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Configured reports whether an SMS channel is available.
func (s SMSConfig) Configured() bool {
	return s.AccountSID != "" && s.AuthToken != "" && s.FromNumber != ""
}

type AdminConfig struct {
	APIKey              string
	PhoneNumbers        []string
	BroadcastRecipients []string
}

type TriageConfig struct {
	LanguageThreshold     float64
	IntentThreshold       float64
	FuzzyMinSimilarity    float64
	MaxInputRunes         int
	EmergencyCooldown     time.Duration
	TriageTurnCap         int
	ClarificationAttempts int
	HistoryWindow         int
	SessionTTL            time.Duration
	IdentitySalt          string
	DefaultLanguage       models.Language
	EmergencyNumber       string
}

type DispatchConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	WorkerShards   int
	QueueDepth     int
}

type SchedulerConfig struct {
	SweepSpec  string
	ResumeSpec string
}

type AIConfig struct {
	Provider  string // "openai"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Enabled reports whether the LLM-backed drafting features are available.
func (a AIConfig) Enabled() bool {
	return a.APIKey != ""
}

type TablesConfig struct {
	PhrasesPath  string
	RulesPath    string
	MessagesPath string
}

// Load initializes the configuration from the environment and an optional
// .env file.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment is authoritative.
	_ = godotenv.Load()

	defaultLang, _ := models.ParseLanguage(getEnv("DEFAULT_LANGUAGE", "en"))

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		Database: DatabaseConfig{
			Type:     getEnv("DB_TYPE", "memory"),
			URI:      getEnv("DATABASE_URL", ""),
			Name:     getEnv("DB_NAME", "healthcare_bot"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "27017"),
			Username: getEnv("DB_USERNAME", ""),
			Password: getEnv("DB_PASSWORD", ""),

			MaxConnections: getEnvAsInt("DB_MAX_CONNECTIONS", 100),
			MinConnections: getEnvAsInt("DB_MIN_CONNECTIONS", 10),
			MaxIdleTime:    getEnvAsDuration("DB_MAX_IDLE_TIME", "30m"),
		},

		WhatsApp: WhatsAppConfig{
			APIURL:        getEnv("WHATSAPP_API_URL", "https://graph.facebook.com"),
			APIVersion:    getEnv("WHATSAPP_API_VERSION", "v18.0"),
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			VerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
			Timeout:       getEnvAsDuration("WHATSAPP_TIMEOUT", "30s"),
			MarkAsRead:    getEnvAsBool("WHATSAPP_MARK_READ", true),
		},

		SMS: SMSConfig{
			Provider:   getEnv("SMS_PROVIDER", "twilio"),
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_SMS_NUMBER", ""),
		},

		Admin: AdminConfig{
			APIKey:              getEnv("ADMIN_API_KEY", ""),
			PhoneNumbers:        getEnvAsSlice("ADMIN_PHONE_NUMBERS", []string{}),
			BroadcastRecipients: getEnvAsSlice("BROADCAST_RECIPIENTS", []string{}),
		},

		Triage: TriageConfig{
			LanguageThreshold:     getEnvAsFloat("LANGUAGE_CONFIDENCE_THRESHOLD", 0.5),
			IntentThreshold:       getEnvAsFloat("INTENT_CONFIDENCE_THRESHOLD", 0.6),
			FuzzyMinSimilarity:    getEnvAsFloat("FUZZY_MIN_SIMILARITY", 0.75),
			MaxInputRunes:         getEnvAsInt("MAX_INPUT_RUNES", 1000),
			EmergencyCooldown:     getEnvAsDuration("EMERGENCY_COOLDOWN", "5m"),
			TriageTurnCap:         getEnvAsInt("TRIAGE_TURN_CAP", 4),
			ClarificationAttempts: getEnvAsInt("CLARIFICATION_ATTEMPTS", 1),
			HistoryWindow:         getEnvAsInt("HISTORY_WINDOW", 5),
			SessionTTL:            getEnvAsDuration("SESSION_TTL", "24h"),
			IdentitySalt:          getEnv("IDENTITY_SALT", ""),
			DefaultLanguage:       defaultLang,
			EmergencyNumber:       getEnv("EMERGENCY_NUMBER", "112"),
		},

		Dispatch: DispatchConfig{
			MaxAttempts:    getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 5),
			InitialBackoff: getEnvAsDuration("DISPATCH_INITIAL_BACKOFF", "500ms"),
			MaxBackoff:     getEnvAsDuration("DISPATCH_MAX_BACKOFF", "30s"),
			AttemptTimeout: getEnvAsDuration("DISPATCH_ATTEMPT_TIMEOUT", "10s"),
			WorkerShards:   getEnvAsInt("INBOUND_WORKER_SHARDS", 16),
			QueueDepth:     getEnvAsInt("INBOUND_QUEUE_DEPTH", 256),
		},

		Scheduler: SchedulerConfig{
			SweepSpec:  getEnv("SESSION_SWEEP_SCHEDULE", "@every 10m"),
			ResumeSpec: getEnv("DISPATCH_RESUME_SCHEDULE", "@every 1m"),
		},

		AI: AIConfig{
			Provider:  getEnv("AI_PROVIDER", "openai"),
			APIKey:    getEnv("OPENAI_API_KEY", ""),
			BaseURL:   getEnv("OPENAI_BASE_URL", ""),
			Model:     getEnv("AI_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvAsInt("AI_MAX_TOKENS", 400),
			Timeout:   getEnvAsDuration("AI_TIMEOUT", "30s"),
		},

		Tables: TablesConfig{
			PhrasesPath:  getEnv("TRIAGE_PHRASES_PATH", ""),
			RulesPath:    getEnv("TRIAGE_RULES_PATH", ""),
			MessagesPath: getEnv("TRIAGE_MESSAGES_PATH", ""),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether secrets must be enforced.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks ranges and, in production, required secrets.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "memory":
	case "mongodb":
		if c.Database.URI == "" && (c.Database.Host == "" || c.Database.Port == "") {
			return fmt.Errorf("database URI or host/port must be provided")
		}
	case "postgresql":
		if c.Database.URI == "" && c.Database.Host == "" {
			return fmt.Errorf("database URI or host must be provided")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	t := c.Triage
	for name, v := range map[string]float64{
		"LANGUAGE_CONFIDENCE_THRESHOLD": t.LanguageThreshold,
		"INTENT_CONFIDENCE_THRESHOLD":   t.IntentThreshold,
		"FUZZY_MIN_SIMILARITY":          t.FuzzyMinSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if t.TriageTurnCap < 1 {
		return fmt.Errorf("TRIAGE_TURN_CAP must be at least 1")
	}
	if t.HistoryWindow < 1 || t.HistoryWindow > 5 {
		return fmt.Errorf("HISTORY_WINDOW must be within 1..5")
	}
	if t.ClarificationAttempts < 0 {
		return fmt.Errorf("CLARIFICATION_ATTEMPTS must not be negative")
	}
	if t.MaxInputRunes < 1 || t.EmergencyCooldown < 0 || t.SessionTTL <= 0 {
		return fmt.Errorf("input bound, cooldown and session TTL must be positive")
	}

	d := c.Dispatch
	if d.MaxAttempts < 1 || d.InitialBackoff <= 0 || d.MaxBackoff < d.InitialBackoff || d.AttemptTimeout <= 0 {
		return fmt.Errorf("invalid dispatch retry policy")
	}
	if d.WorkerShards < 1 || d.QueueDepth < 1 {
		return fmt.Errorf("worker shards and queue depth must be positive")
	}

	if c.IsProduction() {
		if c.WhatsApp.AccessToken == "" || c.WhatsApp.VerifyToken == "" || c.WhatsApp.AppSecret == "" {
			return fmt.Errorf("WhatsApp access token, verify token and app secret are required in production")
		}
		if len(c.Admin.APIKey) < 32 {
			return fmt.Errorf("ADMIN_API_KEY must be at least 32 characters in production")
		}
		if len(c.Triage.IdentitySalt) < 16 {
			return fmt.Errorf("IDENTITY_SALT must be at least 16 characters in production")
		}
	}

	return nil
}

// BuildDatabaseURI constructs the database URI if not provided
func (c *Config) BuildDatabaseURI() string {
	if c.Database.URI != "" {
		return c.Database.URI
	}

	switch c.Database.Type {
	case "mongodb":
		if c.Database.Username != "" && c.Database.Password != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%s/%s",
				c.Database.Username,
				c.Database.Password,
				c.Database.Host,
				c.Database.Port,
				c.Database.Name,
			)
		}
		return fmt.Sprintf("mongodb://%s:%s/%s",
			c.Database.Host,
			c.Database.Port,
			c.Database.Name,
		)
	case "postgresql":
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.Database.Username,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.Name,
		)
	default:
		return ""
	}
}
