package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int              `json:"port"`
	JWTSecret     string           `json:"jwt_secret"`
	JWTTTLHours   int              `json:"jwt_ttl_hours"`
	RateLimitMS   int              `json:"rate_limit_ms"`
	CORSAllowlist []string         `json:"cors_allowlist"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	AI            AIConfig         `json:"ai"`
	Chat          ChatConfig       `json:"chat"`
	Tune          TuneConfig       `json:"tune"`
	FileStore     FileStoreConfig  `json:"file_store"`
}

type DatabaseConfig struct {
	URL          string `json:"url"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"db_name"`
	SSLMode      string `json:"ssl_mode"`
	MaxAttempts  int    `json:"max_attempts"`
	RetryDelayMS int    `json:"retry_delay_ms"`
}

// ProviderRef names one registered provider plus the model to bind; used for
// the fallback preference lists.
type ProviderRef struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Provider        string        `json:"provider"`
	Model           string        `json:"model"`
	Data            interface{}   `json:"data"`
	Fallbacks       []ProviderRef `json:"fallbacks"`
	EmbedProvider   string        `json:"embed_provider"`
	EmbedModel      string        `json:"embed_model"`
	EmbedData       interface{}   `json:"embed_data"`
	EmbedFallbacks  []ProviderRef `json:"embed_fallbacks"`
	MaxTokens       int           `json:"max_tokens"`
	Timeout         int           `json:"timeout"`
	CacheSize       int           `json:"cache_size"`
	CacheTTLMin     int           `json:"cache_ttl_min"`
	CacheMaxAgeDays int           `json:"cache_max_age_days"`
	Collection      string        `json:"collection"`
}

type ChatConfig struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

type TuneConfig struct {
	TrainerURL string  `json:"trainer_url"`
	Epochs     int     `json:"epochs"`
	LoraR      int     `json:"lora_r"`
	LoraAlpha  int     `json:"lora_alpha"`
	LearnRate  float64 `json:"learn_rate"`
	MaxSeqLen  int     `json:"max_seq_len"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("RAG_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	cfg.AI.Data = injectProviderEnv(cfg.AI.Provider, cfg.AI.Data)
	cfg.AI.EmbedData = injectProviderEnv(cfg.AI.EmbedProvider, cfg.AI.EmbedData)
	for i := range cfg.AI.Fallbacks {
		cfg.AI.Fallbacks[i].Data = injectProviderEnv(cfg.AI.Fallbacks[i].Provider, cfg.AI.Fallbacks[i].Data)
	}
	for i := range cfg.AI.EmbedFallbacks {
		cfg.AI.EmbedFallbacks[i].Data = injectProviderEnv(cfg.AI.EmbedFallbacks[i].Provider, cfg.AI.EmbedFallbacks[i].Data)
	}
}

// injectProviderEnv fills credential fields from the environment when the
// config file leaves them empty.
func injectProviderEnv(provider string, data interface{}) interface{} {
	args, _ := data.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	setIfEmpty := func(key, envName string) {
		if v, ok := args[key].(string); ok && v != "" {
			return
		}
		if v := os.Getenv(envName); v != "" {
			args[key] = v
		}
	}
	switch provider {
	case "openai":
		setIfEmpty("api_key", "OPENAI_API_KEY")
		setIfEmpty("base_url", "OPENAI_BASE_URL")
	case "gemini":
		setIfEmpty("api_key", "GEMINI_API_KEY")
	case "ollama":
		setIfEmpty("base_url", "OLLAMA_BASE_URL")
		setIfEmpty("model_dir", "LOCAL_MODEL_DIR")
	}
	return args
}

func validate(cfg *Config) error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.URL != "" {
		sanitized, err := SanitizeDatabaseURL(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database.url: %w", err)
		}
		cfg.Database.URL = sanitized
	} else if cfg.Database.Host == "" || cfg.Database.DBName == "" {
		return fmt.Errorf("database.url or database.host/db_name are required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxAttempts <= 0 {
		cfg.Database.MaxAttempts = 10
	}
	if cfg.Database.RetryDelayMS <= 0 {
		cfg.Database.RetryDelayMS = 500
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.AI.Collection == "" {
		cfg.AI.Collection = "rag_default"
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 500
	}
	if cfg.AI.CacheSize <= 0 {
		cfg.AI.CacheSize = 4096
	}
	if cfg.AI.CacheTTLMin <= 0 {
		cfg.AI.CacheTTLMin = 120
	}
	if cfg.AI.CacheMaxAgeDays <= 0 {
		cfg.AI.CacheMaxAgeDays = 30
	}
	if cfg.Chat.MaxNewTokens <= 0 {
		cfg.Chat.MaxNewTokens = 512
	}
	if cfg.Chat.Temperature <= 0 {
		cfg.Chat.Temperature = 0.7
	}
	if cfg.Tune.Epochs <= 0 {
		cfg.Tune.Epochs = 3
	}
	if cfg.Tune.LoraR <= 0 {
		cfg.Tune.LoraR = 16
	}
	if cfg.Tune.LoraAlpha <= 0 {
		cfg.Tune.LoraAlpha = 32
	}
	if cfg.Tune.LearnRate <= 0 {
		cfg.Tune.LearnRate = 2e-4
	}
	if cfg.Tune.MaxSeqLen <= 0 {
		cfg.Tune.MaxSeqLen = 512
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
		if cfg.FileStore.Data == nil {
			cfg.FileStore.Data = map[string]interface{}{"dir": "./data"}
		}
	}
	return nil
}

// SanitizeDatabaseURL strips connection options lib/pq does not understand,
// such as the channel_binding parameter emitted by some hosted postgres
// providers.
func SanitizeDatabaseURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Del("channel_binding")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// DSN returns the lib/pq connection string: the full URL when configured,
// otherwise the assembled key/value form.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
