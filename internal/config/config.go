package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Expiry   ExpiryConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Host         string
	Port         int `validate:"gt=0,lte=65535"`
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig guards the API when AccessSecret is set.
type JWTConfig struct {
	AccessSecret string
}

type StorageConfig struct {
	Type string `validate:"oneof=postgres memory"`
}

type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

type LLMConfig struct {
	Provider     string        `validate:"oneof=openai gemini"`
	BaseURL      string        `validate:"omitempty,url"`
	APIKey       string
	Model        string        `validate:"required"`
	Timeout      time.Duration `validate:"gt=0"`
	MaxRetries   int           `validate:"min=0,max=1"`
	GeminiAPIKey string
}

type PipelineConfig struct {
	Workers     int64         `validate:"gte=1"`
	StatusStore string        `validate:"oneof=memory redis"`
	StatusTTL   time.Duration `validate:"gt=0"`
	PromptsPath string
}

type ExpiryConfig struct {
	ExpireAfter   time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
}

type NotifyConfig struct {
	Provider  string `validate:"oneof=log smtp"`
	QueueSize int    `validate:"gte=1"`
	SMTP      SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string `validate:"omitempty,email"`
	FromName string
}

// Load loads configuration from environment variables or .env file
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads the given env file when present and lets the process
// environment override it.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// A missing file is fine, the environment alone may be enough.
	_ = v.ReadInConfig()

	config := &Config{
		Server: ServerConfig{
			Host:         v.GetString("SERVER_HOST"),
			Port:         v.GetInt("SERVER_PORT"),
			Env:          v.GetString("ENV"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSL_MODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Storage: StorageConfig{
			Type: v.GetString("STORAGE_TYPE"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		LLM: LLMConfig{
			Provider:     v.GetString("LLM_PROVIDER"),
			BaseURL:      v.GetString("LLM_BASE_URL"),
			APIKey:       v.GetString("LLM_API_KEY"),
			Model:        v.GetString("LLM_MODEL"),
			Timeout:      v.GetDuration("LLM_TIMEOUT"),
			MaxRetries:   v.GetInt("LLM_MAX_RETRIES"),
			GeminiAPIKey: v.GetString("GEMINI_API_KEY"),
		},
		Pipeline: PipelineConfig{
			Workers:     v.GetInt64("PIPELINE_WORKERS"),
			StatusStore: v.GetString("PIPELINE_STATUS_STORE"),
			StatusTTL:   v.GetDuration("PIPELINE_STATUS_TTL"),
			PromptsPath: v.GetString("PIPELINE_PROMPTS_PATH"),
		},
		Expiry: ExpiryConfig{
			ExpireAfter:   v.GetDuration("REQUEST_EXPIRE_AFTER"),
			SweepInterval: v.GetDuration("EXPIRY_SWEEP_INTERVAL"),
		},
		Notify: NotifyConfig{
			Provider:  v.GetString("NOTIFY_PROVIDER"),
			QueueSize: v.GetInt("NOTIFY_QUEUE_SIZE"),
			SMTP: SMTPConfig{
				Host:     v.GetString("SMTP_HOST"),
				Port:     v.GetInt("SMTP_PORT"),
				Username: v.GetString("SMTP_USERNAME"),
				Password: v.GetString("SMTP_PASSWORD"),
				From:     v.GetString("SMTP_FROM"),
				FromName: v.GetString("SMTP_FROM_NAME"),
			},
		},
	}

	if config.LLM.Provider == "gemini" && config.LLM.APIKey == "" {
		config.LLM.APIKey = config.LLM.GeminiAPIKey
	}
	if config.LLM.Model == "" {
		config.LLM.Model = defaultModels[config.LLM.Provider]
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

var defaultModels = map[string]string{
	"openai": "gpt-4o-mini",
	"gemini": "gemini-1.5-pro",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("STORAGE_TYPE", "postgres")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_TIMEOUT", "45s")
	v.SetDefault("LLM_MAX_RETRIES", 0)
	v.SetDefault("PIPELINE_WORKERS", 4)
	v.SetDefault("PIPELINE_STATUS_STORE", "memory")
	v.SetDefault("PIPELINE_STATUS_TTL", "24h")
	v.SetDefault("REQUEST_EXPIRE_AFTER", "168h")
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "1h")
	v.SetDefault("NOTIFY_PROVIDER", "log")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	v.SetDefault("SMTP_PORT", 587)
}

// Validate checks field constraints and the settings each selected backend needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var errs []error
	if c.Storage.Type == "postgres" {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database host is required"))
		}
		if c.Database.User == "" {
			errs = append(errs, errors.New("database user is required"))
		}
		if c.Database.DBName == "" {
			errs = append(errs, errors.New("database name is required"))
		}
	}
	if c.Pipeline.StatusStore == "redis" && c.Redis.Host == "" {
		errs = append(errs, errors.New("redis host is required for the redis status store"))
	}
	if c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("gemini API key is required"))
	}
	if c.LLM.Provider == "openai" && c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("LLM base URL is required"))
	}
	if c.Notify.Provider == "smtp" {
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			errs = append(errs, errors.New("SMTP host and sender are required for the smtp notifier"))
		}
	}
	if c.JWT.AccessSecret != "" && len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, errors.New("JWT access secret must be at least 32 characters"))
	}
	return errors.Join(errs...)
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// GetAddr returns Redis address
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetAddr returns the HTTP listen address
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
