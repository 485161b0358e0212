package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`  // debug|info|warn|error
		Format string `yaml:"format"` // text|json
	} `yaml:"log"`

	Store struct {
		Driver string `yaml:"driver"` // memory|mysql|postgres|redis
	} `yaml:"store"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"database"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		StateTTL time.Duration `yaml:"stateTTL"`
		LockTTL  time.Duration `yaml:"lockTTL"`
	} `yaml:"redis"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		Prefix     string `yaml:"prefix"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"openai"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"` // tenant -> key
	} `yaml:"auth"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	Guardrail Guardrail `yaml:"guardrail"`
}

// Guardrail holds the pipeline policy knobs.
type Guardrail struct {
	StrictGrounding         bool          `yaml:"strictGrounding"`
	CorrectionEnabled       bool          `yaml:"correctionEnabled"`
	CorrectionTimeout       time.Duration `yaml:"correctionTimeout"`
	ContextWindow           int           `yaml:"contextWindow"`
	LowStockThreshold       int           `yaml:"lowStockThreshold"`
	AskFor                  string        `yaml:"askFor"`
	MaxVerificationAttempts int           `yaml:"maxVerificationAttempts"`
	ViolationWindow         time.Duration `yaml:"violationWindow"`
	ViolationThreshold      int           `yaml:"violationThreshold"`
	DefaultLanguage         string        `yaml:"defaultLanguage"`
	AuditTimeout            time.Duration `yaml:"auditTimeout"`
}

// Load baca file config.yaml, lalu env override, default dan validasi
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML bytes the same way Load does.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets come from the environment when set
func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"DB_PASSWORD":      &c.Database.Password,
		"REDIS_PASSWORD":   &c.Redis.Password,
		"OPENAI_API_KEY":   &c.OpenAI.APIKey,
		"MINIO_ACCESS_KEY": &c.Minio.AccessKey,
		"MINIO_SECRET_KEY": &c.Minio.SecretKey,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Database.Port == 0 {
		switch c.Store.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 30 * time.Second
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}

	g := &c.Guardrail
	if g.CorrectionTimeout == 0 {
		g.CorrectionTimeout = 3 * time.Second
	}
	if g.ContextWindow == 0 {
		g.ContextWindow = 80
	}
	if g.LowStockThreshold == 0 {
		g.LowStockThreshold = 10
	}
	if g.AskFor == "" {
		g.AskFor = "full_name"
	}
	if g.MaxVerificationAttempts == 0 {
		g.MaxVerificationAttempts = 3
	}
	if g.ViolationWindow == 0 {
		g.ViolationWindow = time.Hour
	}
	if g.DefaultLanguage == "" {
		g.DefaultLanguage = "tr"
	}
	if g.AuditTimeout == 0 {
		g.AuditTimeout = 2 * time.Second
	}
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q", c.Log.Level))
	}
	switch c.Store.Driver {
	case "memory", "redis":
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q", c.Store.Driver))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.BucketName == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required when minio is enabled"))
	}
	if c.OpenAI.Enabled && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.apiKey (or OPENAI_API_KEY) is required when openai is enabled"))
	}
	if len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth.apiKeys must name at least one tenant"))
	}
	for tenant, key := range c.Auth.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("auth.apiKeys.%s is empty", tenant))
		}
	}
	g := c.Guardrail
	if g.AskFor != "full_name" && g.AskFor != "phone_last4" {
		errs = append(errs, fmt.Errorf("guardrail.askFor %q", g.AskFor))
	}
	if g.DefaultLanguage != "tr" && g.DefaultLanguage != "en" {
		errs = append(errs, fmt.Errorf("guardrail.defaultLanguage %q", g.DefaultLanguage))
	}
	if g.ContextWindow < 0 || g.LowStockThreshold < 0 || g.MaxVerificationAttempts < 0 || g.ViolationThreshold < 0 {
		errs = append(errs, errors.New("guardrail values must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// RedisURL builds a go-redis URL.
func (c *Config) RedisURL() string {
	u := url.URL{Scheme: "redis", Host: c.Redis.Addr, Path: fmt.Sprintf("/%d", c.Redis.DB)}
	if c.Redis.Password != "" {
		u.User = url.UserPassword("", c.Redis.Password)
	}
	return u.String()
}
