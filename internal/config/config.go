package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is resolved once at startup and passed explicitly to every component
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Assistant    AssistantConfig    `mapstructure:"assistant"`
	Bridge       BridgeConfig       `mapstructure:"bridge"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	OAuth        OAuthConfig        `mapstructure:"oauth"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
	API          APIConfig          `mapstructure:"api"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is one of postgres, pgx or sqlite
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path is the sqlite file, ":memory:" for a throwaway database
	Path        string `mapstructure:"path"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	SummaryModel   string        `mapstructure:"summary_model"`
	AnnotateModel  string        `mapstructure:"annotate_model"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
}

type MemoryConfig struct {
	RecentLimit        int           `mapstructure:"recent_limit"`
	SummaryThreshold   int           `mapstructure:"summary_threshold"`
	SummaryTokenBudget int           `mapstructure:"summary_token_budget"`
	SummaryTimeout     time.Duration `mapstructure:"summary_timeout"`
	AnnotateTimeout    time.Duration `mapstructure:"annotate_timeout"`
	AutoCreateUsers    bool          `mapstructure:"auto_create_users"`
}

type AssistantConfig struct {
	ReplyTimeout     time.Duration `mapstructure:"reply_timeout"`
	FallbackReply    string        `mapstructure:"fallback_reply"`
	WelcomeMessage   string        `mapstructure:"welcome_message"`
	ActivationCode   string        `mapstructure:"activation_code"`
	DeactivationCode string        `mapstructure:"deactivation_code"`
	LockIdleTTL      time.Duration `mapstructure:"lock_idle_ttl"`
}

type BridgeConfig struct {
	ServerURL     string        `mapstructure:"server_url"`
	Password      string        `mapstructure:"password"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	SendMethod    string        `mapstructure:"send_method"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryWait     time.Duration `mapstructure:"retry_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type StripeConfig struct {
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
	Notify        bool          `mapstructure:"notify"`
}

type OAuthConfig struct {
	StateSecret   string                         `mapstructure:"state_secret"`
	StateTTL      time.Duration                  `mapstructure:"state_ttl"`
	CredentialKey string                         `mapstructure:"credential_key"`
	RedirectURL   string                         `mapstructure:"redirect_url"`
	ExpirySweep   time.Duration                  `mapstructure:"expiry_sweep"`
	Providers     map[string]OAuthProviderConfig `mapstructure:"providers"`
}

// OAuthProviderConfig configures the OAuth app used for one platform
type OAuthProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// IntegrationsConfig maps intent types to forwarding endpoints
type IntegrationsConfig struct {
	Endpoints map[string]string `mapstructure:"endpoints"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

type APIConfig struct {
	AdminToken  string `mapstructure:"admin_token"`
	RateLimit   int    `mapstructure:"rate_limit"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

// Load reads .env, the optional config file and DONNA_* environment variables
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".donna"))
	}

	v.SetEnvPrefix("DONNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates a populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Legacy variable names used by existing deployments
	loadEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers every default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4321)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "donna.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "donna")
	v.SetDefault("database.database", "donna")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.summary_model", "gpt-4o-mini")
	v.SetDefault("llm.annotate_model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("llm.request_timeout", 20*time.Second)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.initial_backoff", 500*time.Millisecond)
	v.SetDefault("llm.max_backoff", 5*time.Second)
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)

	v.SetDefault("memory.recent_limit", 10)
	v.SetDefault("memory.summary_threshold", 10)
	v.SetDefault("memory.summary_token_budget", 2000)
	v.SetDefault("memory.summary_timeout", 20*time.Second)
	v.SetDefault("memory.annotate_timeout", 5*time.Second)
	v.SetDefault("memory.auto_create_users", true)

	v.SetDefault("assistant.reply_timeout", 30*time.Second)
	v.SetDefault("assistant.fallback_reply", DefaultFallbackReply)
	v.SetDefault("assistant.lock_idle_ttl", time.Minute)

	v.SetDefault("bridge.server_url", "http://localhost:1234")
	v.SetDefault("bridge.send_method", "private-api")
	v.SetDefault("bridge.max_retries", 3)
	v.SetDefault("bridge.retry_wait", 500*time.Millisecond)
	v.SetDefault("bridge.timeout", 10*time.Second)

	v.SetDefault("stripe.tolerance", 5*time.Minute)
	v.SetDefault("stripe.notify", true)

	v.SetDefault("oauth.state_ttl", 15*time.Minute)
	v.SetDefault("oauth.expiry_sweep", 10*time.Minute)

	v.SetDefault("redis.lock_ttl", 45*time.Second)

	v.SetDefault("integrations.timeout", 15*time.Second)

	v.SetDefault("api.rate_limit", 120)
	v.SetDefault("api.cors_origins", "*")
}

// DefaultFallbackReply is sent whenever the model cannot produce an answer
const DefaultFallbackReply = "I'm having trouble right now. Please try again in a moment."

// DefaultSystemPrompt frames the assistant persona
const DefaultSystemPrompt = `You are Donna, a personal assistant people reach over iMessage.
Keep replies short and conversational, like a text message.
When the user clearly asks you to act (send an email, schedule something, book a ride,
order food, post to a team chat) call the matching tool instead of describing the action.`

func loadEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if pw := os.Getenv("BLUEBUBBLES_SERVER_PASSWORD"); pw != "" && cfg.Bridge.Password == "" {
		cfg.Bridge.Password = pw
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" && cfg.Stripe.WebhookSecret == "" {
		cfg.Stripe.WebhookSecret = secret
	}
	if code := os.Getenv("SECRET_SUBSCRIPTION_ACTIVATION_CODE"); code != "" && cfg.Assistant.ActivationCode == "" {
		cfg.Assistant.ActivationCode = code
	}
	if code := os.Getenv("SECRET_SUBSCRIPTION_DEACTIVATION_CODE"); code != "" && cfg.Assistant.DeactivationCode == "" {
		cfg.Assistant.DeactivationCode = code
	}
}

// Validate rejects settings that would break startup
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx":
		if c.Database.Host == "" || c.Database.Database == "" {
			return errors.New("database host and name are required for postgres")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Memory.RecentLimit <= 0 {
		return errors.New("memory.recent_limit must be positive")
	}
	if c.Memory.SummaryThreshold <= 0 {
		return errors.New("memory.summary_threshold must be positive")
	}
	if c.Assistant.ReplyTimeout <= 0 {
		return errors.New("assistant.reply_timeout must be positive")
	}
	if c.LLM.MaxAttempts <= 0 {
		return errors.New("llm.max_attempts must be positive")
	}
	// The lock is extended every lock_ttl/3 while a turn holds it
	if c.Redis.URL != "" && c.Redis.LockTTL < 3*time.Second {
		return errors.New("redis.lock_ttl must be at least 3s")
	}
	if len(c.OAuth.Providers) > 0 && (c.OAuth.StateSecret == "" || c.OAuth.CredentialKey == "") {
		return errors.New("oauth.state_secret and oauth.credential_key are required when oauth providers are configured")
	}
	return nil
}
