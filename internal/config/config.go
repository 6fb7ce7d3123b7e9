package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Consent   ConsentConfig   `mapstructure:"consent"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port" validate:"required"`
	LogLevel       string   `mapstructure:"log_level" validate:"required|in:debug,info,warn,error"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type OpenAIConfig struct {
	// Empty key keeps the server up; /api/chat then answers 503.
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url" validate:"required"`
	Model           string `mapstructure:"model" validate:"required"`
	ReasoningEffort string `mapstructure:"reasoning_effort"`
	Verbosity       string `mapstructure:"verbosity"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens" validate:"required|min:1"`
	TimeoutMs       int    `mapstructure:"timeout_ms" validate:"required|min:1000|max:60000"`
}

type ChatConfig struct {
	MaxBodyChars     int `mapstructure:"max_body_chars" validate:"required|min:1"`
	MaxQuestionChars int `mapstructure:"max_question_chars" validate:"required|min:1"`
	MaxAnswerWords   int `mapstructure:"max_answer_words" validate:"required|min:1"`
}

type ConsentConfig struct {
	MaxBodyChars      int `mapstructure:"max_body_chars" validate:"required|min:1"`
	MaxUserAgentChars int `mapstructure:"max_user_agent_chars" validate:"required|min:1"`
	MaxFieldChars     int `mapstructure:"max_field_chars" validate:"required|min:1"`
	EvidenceBuffer    int `mapstructure:"evidence_buffer" validate:"required|min:1"`
}

type RateLimitConfig struct {
	ChatQPS   float64 `mapstructure:"chat_qps"`   // 0 disables the per-IP token bucket
	ChatBurst int     `mapstructure:"chat_burst"` // e.g. 3 questions in a row
	// DailyQuestions caps questions per client IP per UTC day; 0 disables.
	DailyQuestions int `mapstructure:"daily_questions"`
}

type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	QuotaPrefix     string `mapstructure:"quota_prefix"`
	EvidenceListKey string `mapstructure:"evidence_list_key"`
	EvidenceListMax int    `mapstructure:"evidence_list_max"`
}

type DatabaseConfig struct {
	DSN                  string `mapstructure:"dsn"`
	ConsentRetentionDays int    `mapstructure:"consent_retention_days"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TrackingConfig mirrors the page-global tracking object the site embeds.
// consentctl uses it to drive the consent manager.
type TrackingConfig struct {
	GA4MeasurementID   string `mapstructure:"ga4_measurement_id"`
	GoogleAdsID        string `mapstructure:"google_ads_id"`
	MetaPixelID        string `mapstructure:"meta_pixel_id"`
	ConsentLogEndpoint string `mapstructure:"consent_log_endpoint"`
	PolicyVersion      string `mapstructure:"policy_version"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. SITEGATE_OPENAI_API_KEY
	v.SetEnvPrefix("sitegate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", "SITEGATE_OPENAI_API_KEY", "OPENAI_API_KEY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1"})

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-5-nano")
	v.SetDefault("openai.reasoning_effort", "minimal")
	v.SetDefault("openai.verbosity", "low")
	v.SetDefault("openai.max_output_tokens", 420)
	v.SetDefault("openai.timeout_ms", 12000)

	v.SetDefault("chat.max_body_chars", 8000)
	v.SetDefault("chat.max_question_chars", 600)
	v.SetDefault("chat.max_answer_words", 65)

	v.SetDefault("consent.max_body_chars", 20000)
	v.SetDefault("consent.max_user_agent_chars", 300)
	v.SetDefault("consent.max_field_chars", 300)
	v.SetDefault("consent.evidence_buffer", 1000)

	v.SetDefault("rate_limit.chat_qps", 0.2)
	v.SetDefault("rate_limit.chat_burst", 3)
	v.SetDefault("rate_limit.daily_questions", 50)

	// Keys without a real default are still registered so AutomaticEnv can
	// fill them from SITEGATE_* variables.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.quota_prefix", "chat_quota")
	v.SetDefault("redis.evidence_list_key", "consent_events")
	v.SetDefault("redis.evidence_list_max", 10000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.consent_retention_days", 400)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracking.ga4_measurement_id", "")
	v.SetDefault("tracking.google_ads_id", "")
	v.SetDefault("tracking.meta_pixel_id", "")
	v.SetDefault("tracking.consent_log_endpoint", "http://localhost:8080/api/consent-log")
	v.SetDefault("tracking.policy_version", "")
}

// Validate checks every section against its struct tags.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		data any
	}{
		{"server", &c.Server},
		{"openai", &c.OpenAI},
		{"chat", &c.Chat},
		{"consent", &c.Consent},
	}
	for _, s := range sections {
		v := validate.Struct(s.data)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %s", s.name, v.Errors.One())
		}
	}
	if c.RateLimit.ChatQPS < 0 || c.RateLimit.ChatBurst < 0 || c.RateLimit.DailyQuestions < 0 {
		return fmt.Errorf("invalid rate_limit config: values must not be negative")
	}
	return nil
}
