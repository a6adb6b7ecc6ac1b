package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const MiB = 1 << 20

type HTTP struct {
	Addr         string        `yaml:"addr" envconfig:"ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	AllowOrigins []string      `yaml:"allowOrigins"`
}

type GRPC struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // chat-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN               string        `yaml:"dsn" envconfig:"DSN"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
	SlowQuery         time.Duration `yaml:"slowQuery"`
}

type Auth struct {
	PublicKeyPath string        `yaml:"publicKeyPath" envconfig:"PUBLIC_KEY_PATH"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

type Chat struct {
	MaxMessageLength int `yaml:"maxMessageLength"`
	HistoryLimit     int `yaml:"historyLimit"`
}

type Upload struct {
	MaxSize           int64    `yaml:"maxSize"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
}

type Storage struct {
	Backend string `yaml:"backend"` // local|s3
	Dir     string `yaml:"dir"`
	S3      S3     `yaml:"s3"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"accessKeyId" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secretAccessKey" envconfig:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

type Hub struct {
	SendBuffer   int           `yaml:"sendBuffer"`
	PingInterval time.Duration `yaml:"pingInterval"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxFrameSize int64         `yaml:"maxFrameSize"`
	RateBurst    int           `yaml:"rateBurst"`
	RatePerSec   float64       `yaml:"ratePerSec"`
}

type Reconnect struct {
	Base        time.Duration `yaml:"base"`
	Cap         time.Duration `yaml:"cap"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Jitter      float64       `yaml:"jitter"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Postgres  Postgres  `yaml:"postgres"`
	Auth      Auth      `yaml:"auth"`
	Chat      Chat      `yaml:"chat"`
	Upload    Upload    `yaml:"upload"`
	Storage   Storage   `yaml:"storage"`
	Hub       Hub       `yaml:"hub"`
	Reconnect Reconnect `yaml:"reconnect"`
}

// LoadConfig reads .env (if present), the yaml file at CONFIG_PATH and CHAT_* overrides.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes yaml, applies env overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := envconfig.Process("chat", &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "chat-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = 30 * time.Second
	}

	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 1000
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 50
	}

	if c.Upload.MaxSize <= 0 {
		c.Upload.MaxSize = 10 * MiB
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".pdf"}
	}
	for i, ext := range c.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Upload.AllowedExtensions[i] = ext
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data/uploads"
	}

	if c.Hub.SendBuffer <= 0 {
		c.Hub.SendBuffer = 256
	}
	if c.Hub.PingInterval <= 0 {
		c.Hub.PingInterval = 15 * time.Second
	}
	if c.Hub.WriteTimeout <= 0 {
		c.Hub.WriteTimeout = 10 * time.Second
	}
	if c.Hub.MaxFrameSize <= 0 {
		c.Hub.MaxFrameSize = 64 * 1024
	}
	if c.Hub.RateBurst <= 0 {
		c.Hub.RateBurst = 20
	}
	if c.Hub.RatePerSec <= 0 {
		c.Hub.RatePerSec = 10
	}

	if c.Reconnect.Base <= 0 {
		c.Reconnect.Base = time.Second
	}
	if c.Reconnect.Cap <= 0 {
		c.Reconnect.Cap = 30 * time.Second
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = 10
	}
}

func (c *Config) validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Auth.PublicKeyPath == "" {
		return errors.New("auth.publicKeyPath is required")
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown value %q", c.Storage.Backend)
	}
	if c.Reconnect.Cap < c.Reconnect.Base {
		return errors.New("reconnect.cap must be >= reconnect.base")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return errors.New("reconnect.jitter must be in [0,1]")
	}
	return nil
}
