package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	WeChat     WeChatConfig     `mapstructure:"wechat"`
	Pay        PayConfig        `mapstructure:"pay"`
	AI         AIConfig         `mapstructure:"ai"`
	Credit     CreditConfig     `mapstructure:"credit"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WeChatConfig struct {
	Token          string `mapstructure:"token"`
	AppID          string `mapstructure:"app_id"`
	AppSecret      string `mapstructure:"app_secret"`
	EncodingAESKey string `mapstructure:"encoding_aes_key"`
}

type PayConfig struct {
	MchID          string `mapstructure:"mch_id"`
	APIKey         string `mapstructure:"api_key"`
	CertSerial     string `mapstructure:"cert_serial"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	NotifyURL      string `mapstructure:"notify_url"`
	PayPageURL     string `mapstructure:"pay_page_url"`
	TestEndpoints  bool   `mapstructure:"test_endpoints"`
}

type AIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float64       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type CreditConfig struct {
	InitialGrant   int `mapstructure:"initial_grant"`
	CostPerMessage int `mapstructure:"cost_per_message"`
	HistoryLimit   int `mapstructure:"history_limit"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Type    string `mapstructure:"type"`
	Name    string `mapstructure:"name"`
	Workers int    `mapstructure:"workers"`
	Size    int    `mapstructure:"size"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides, names kept compatible with the
	// deployment environment
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("wechat.token", "WX_TOKEN")
	viper.BindEnv("wechat.app_id", "WX_APPID")
	viper.BindEnv("wechat.app_secret", "WX_APPSECRET")
	viper.BindEnv("wechat.encoding_aes_key", "WX_ENCODING_AES_KEY")
	viper.BindEnv("pay.mch_id", "WX_MCHID")
	viper.BindEnv("pay.api_key", "WX_PAY_KEY")
	viper.BindEnv("pay.cert_serial", "WX_PAY_CERT_SERIAL")
	viper.BindEnv("ai.api_key", "DEEPSEEK_API_KEY")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Credit.InitialGrant == 0 {
		cfg.Credit.InitialGrant = 3
	}
	if cfg.Credit.CostPerMessage == 0 {
		cfg.Credit.CostPerMessage = 1
	}
	if cfg.Credit.HistoryLimit == 0 {
		cfg.Credit.HistoryLimit = 10
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Queue.Type == "" {
		cfg.Queue.Type = "memory"
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "push_tasks"
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Queue.Size == 0 {
		cfg.Queue.Size = 256
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30 * time.Second
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 800
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "deepseek-chat"
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "zh"
	}
	if len(cfg.I18n.Languages) == 0 {
		cfg.I18n.Languages = []string{"zh"}
	}
	if cfg.I18n.Directory == "" {
		cfg.I18n.Directory = "configs/i18n"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.WeChat.Token == "" {
		return fmt.Errorf("wechat token is required")
	}
	if cfg.WeChat.AppID == "" {
		return fmt.Errorf("wechat app_id is required")
	}
	if cfg.AI.BaseURL == "" {
		return fmt.Errorf("ai base_url is required")
	}
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("ai api_key is required")
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	switch cfg.Queue.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
	if (cfg.Storage.Type == "redis" || cfg.Queue.Type == "redis") && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required for redis storage")
	}
	return nil
}
