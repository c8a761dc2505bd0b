// Package config loads typed configuration from environment variables.
// Boot fails if a required secret is missing or too short.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Payment   PaymentConfig
	Agent     AgentConfig
	LiveKit   LiveKitConfig
	Voice     VoiceConfig
	Outbox    OutboxConfig
	Orders    OrderSweeperConfig
	Retention RetentionConfig
	PubSub    PubSubConfig
	Tasks     CloudTasksConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	AppJWTSecret    string
	AdminJWTSecret  string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type PaymentConfig struct {
	WebhookSecret   string
	CheckoutBaseURL string
}

type AgentConfig struct {
	RuntimeURL      string
	SharedSecret    string
	DispatchTimeout time.Duration
}

type LiveKitConfig struct {
	APIKey    string
	APISecret string
	WSURL     string
}

// VoiceConfig points at the external STT/TTS/LLM runtimes. The core only
// proxies dispatches; the engines themselves are out of process.
type VoiceConfig struct {
	STTEndpoint string
	TTSEndpoint string
	LLMEndpoint string
}

type OutboxConfig struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	ClaimLease   time.Duration
}

type OrderSweeperConfig struct {
	Interval        time.Duration
	ApprovalExpiry  time.Duration
	PaymentExpiry   time.Duration
	AutoCompleteAge time.Duration
}

type RetentionConfig struct {
	Interval   time.Duration
	Window     time.Duration
	PolicyFile string
}

type PubSubConfig struct {
	ProjectID string
	TopicID   string
	Enabled   bool
}

type CloudTasksConfig struct {
	ProjectID  string
	LocationID string
	QueueID    string
	TargetURL  string
	AuthSecret string
	Enabled    bool
}

// Load reads configuration from the environment. A local .env file is
// honored when present (development convenience, never required).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           envOr("PORT", "8080"),
			Env:            envOr("APP_ENV", "development"),
			AllowedOrigins: []string{envOr("ALLOWED_ORIGINS", "*")},
			RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          databaseURL(),
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     envOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AppJWTSecret:    os.Getenv("APP_JWT_SECRET"),
			AdminJWTSecret:  os.Getenv("ADMIN_JWT_SECRET"),
			AccessTokenTTL:  envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		},
		Payment: PaymentConfig{
			WebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
			CheckoutBaseURL: envOr("PAYMENT_CHECKOUT_BASE_URL", "https://checkout.coziyoo.local/session"),
		},
		Agent: AgentConfig{
			RuntimeURL:      os.Getenv("AGENT_RUNTIME_URL"),
			SharedSecret:    os.Getenv("AGENT_RUNTIME_SECRET"),
			DispatchTimeout: envDuration("AGENT_DISPATCH_TIMEOUT", 10*time.Second),
		},
		LiveKit: LiveKitConfig{
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
			WSURL:     os.Getenv("LIVEKIT_WS_URL"),
		},
		Voice: VoiceConfig{
			STTEndpoint: os.Getenv("STT_ENDPOINT"),
			TTSEndpoint: os.Getenv("TTS_ENDPOINT"),
			LLMEndpoint: os.Getenv("LLM_ENDPOINT"),
		},
		Outbox: OutboxConfig{
			Workers:      envInt("OUTBOX_WORKERS", 4),
			PollInterval: envDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    envInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:  envInt("OUTBOX_MAX_ATTEMPTS", 8),
			BaseBackoff:  envDuration("OUTBOX_BASE_BACKOFF", 5*time.Second),
			ClaimLease:   envDuration("OUTBOX_CLAIM_LEASE", 5*time.Minute),
		},
		Orders: OrderSweeperConfig{
			Interval:        envDuration("ORDER_SWEEP_INTERVAL", time.Minute),
			ApprovalExpiry:  envDuration("ORDER_APPROVAL_EXPIRY", 24*time.Hour),
			PaymentExpiry:   envDuration("ORDER_PAYMENT_EXPIRY", 2*time.Hour),
			AutoCompleteAge: envDuration("ORDER_AUTO_COMPLETE_AGE", 24*time.Hour),
		},
		Retention: RetentionConfig{
			Interval:   envDuration("RETENTION_INTERVAL", 24*time.Hour),
			Window:     envDuration("RETENTION_WINDOW", 730*24*time.Hour),
			PolicyFile: os.Getenv("RETENTION_POLICY_FILE"),
		},
		PubSub: PubSubConfig{
			ProjectID: os.Getenv("PUBSUB_PROJECT_ID"),
			TopicID:   envOr("PUBSUB_TOPIC_ID", "coziyoo-events"),
		},
		Tasks: CloudTasksConfig{
			ProjectID:  os.Getenv("CLOUDTASKS_PROJECT_ID"),
			LocationID: envOr("CLOUDTASKS_LOCATION", "europe-west2"),
			QueueID:    envOr("CLOUDTASKS_QUEUE", "finance-reports"),
			TargetURL:  os.Getenv("CLOUDTASKS_TARGET_URL"),
			AuthSecret: os.Getenv("CLOUDTASKS_AUTH_SECRET"),
		},
	}
	cfg.PubSub.Enabled = cfg.PubSub.ProjectID != ""
	cfg.Tasks.Enabled = cfg.Tasks.ProjectID != "" && cfg.Tasks.TargetURL != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces presence and minimum entropy of the required secrets.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: DATABASE_URL (or DB_HOST/DB_NAME components) must be set")
	}
	if len(c.Auth.AppJWTSecret) < 32 {
		return fmt.Errorf("config: APP_JWT_SECRET must be at least 32 characters")
	}
	if len(c.Auth.AdminJWTSecret) < 32 {
		return fmt.Errorf("config: ADMIN_JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.AppJWTSecret == c.Auth.AdminJWTSecret {
		return fmt.Errorf("config: APP_JWT_SECRET and ADMIN_JWT_SECRET must differ")
	}
	if len(c.Payment.WebhookSecret) < 16 {
		return fmt.Errorf("config: PAYMENT_WEBHOOK_SECRET must be at least 16 characters")
	}
	return nil
}

// databaseURL prefers DATABASE_URL, falling back to discrete components.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	user := envOr("DB_USER", "postgres")
	pass := os.Getenv("DB_PASSWORD")
	port := envOr("DB_PORT", "5432")
	ssl := envOr("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

// RetentionPolicy is the optional YAML overlay tuning per-family windows.
type RetentionPolicy struct {
	DefaultDays int            `yaml:"default_days"`
	Families    map[string]int `yaml:"families"`
}

// LoadRetentionPolicy reads the policy file if configured; a missing file
// yields the defaults rather than an error.
func (c *Config) LoadRetentionPolicy() (*RetentionPolicy, error) {
	policy := &RetentionPolicy{
		DefaultDays: int(c.Retention.Window.Hours() / 24),
		Families:    map[string]int{},
	}
	if c.Retention.PolicyFile == "" {
		return policy, nil
	}
	f, err := os.Open(c.Retention.PolicyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(policy); err != nil {
		return nil, fmt.Errorf("config: decode retention policy: %w", err)
	}
	if policy.DefaultDays <= 0 {
		policy.DefaultDays = int(c.Retention.Window.Hours() / 24)
	}
	return policy, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
