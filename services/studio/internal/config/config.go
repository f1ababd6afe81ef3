package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"writecheck/pkg/push"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	PushTransportCable = "cable"
	PushTransportRedis = "redis"

	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel            string      `yaml:"logLevel"`
	APIBaseURL          string      `yaml:"apiBaseURL"`
	CableURL            string      `yaml:"cableURL"`
	HTTPTimeout         string      `yaml:"httpTimeout"`
	PushTransport       string      `yaml:"pushTransport"`
	RedisAddr           string      `yaml:"redisAddr"`
	RedisPassword       string      `yaml:"redisPassword"`
	RedisChannelPrefix  string      `yaml:"redisChannelPrefix"`
	TokenStore          string      `yaml:"tokenStore"`
	TokenKey            string      `yaml:"tokenKey"`
	TokenTTL            string      `yaml:"tokenTTL"`
	PageSize            int         `yaml:"pageSize"`
	MaxUploadBytes      int64       `yaml:"maxUploadBytes"`
	AllowedContentTypes []string    `yaml:"allowedContentTypes"`
	UsernameDebounce    string      `yaml:"usernameDebounce"`
	Color               bool        `yaml:"color"`
	Minio               MinioConfig `yaml:"minio"`
}

// MinioConfig points the uploader at a bucket of scanned images.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Enabled reports whether a MinIO source is configured.
func (m MinioConfig) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != "" && strings.TrimSpace(m.Bucket) != ""
}

// Load reads config from path (defaults to config.yaml). A missing default
// file is not an error; defaults and environment overrides still apply.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("STUDIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDIO_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDIO_CABLE_URL"); v != "" {
		cfg.CableURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDIO_HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("STUDIO_PUSH_TRANSPORT"); v != "" {
		cfg.PushTransport = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("STUDIO_TOKEN_STORE"); v != "" {
		cfg.TokenStore = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("STUDIO_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.PageSize = n
		}
	}
	if v := os.Getenv("STUDIO_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("STUDIO_ALLOWED_CONTENT_TYPES"); v != "" {
		cfg.AllowedContentTypes = splitCSV(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Minio.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Minio.UseSSL = b
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTPTimeout == "" {
		cfg.HTTPTimeout = "10s"
	}
	if cfg.PushTransport == "" {
		cfg.PushTransport = PushTransportCable
	}
	if cfg.TokenStore == "" {
		cfg.TokenStore = TokenStoreMemory
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 10
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"image/jpeg", "image/jpg", "image/png"}
	}
	if cfg.UsernameDebounce == "" {
		cfg.UsernameDebounce = "500ms"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return errors.New("config: apiBaseURL is required (set in config.yaml or STUDIO_API_BASE_URL)")
	}
	if _, err := cfg.ResolvedCableURL(); err != nil && cfg.PushTransport == PushTransportCable {
		return fmt.Errorf("config: cable url: %w", err)
	}
	switch cfg.PushTransport {
	case PushTransportCable:
	case PushTransportRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when pushTransport is redis")
		}
	default:
		return fmt.Errorf("config: unknown pushTransport %q", cfg.PushTransport)
	}
	switch cfg.TokenStore {
	case TokenStoreMemory:
	case TokenStoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when tokenStore is redis")
		}
	default:
		return fmt.Errorf("config: unknown tokenStore %q", cfg.TokenStore)
	}
	if cfg.PageSize < 1 {
		return errors.New("config: pageSize must be >= 1")
	}
	if cfg.MaxUploadBytes < 1 {
		return errors.New("config: maxUploadBytes must be >= 1")
	}
	for _, field := range []struct{ name, value string }{
		{"httpTimeout", cfg.HTTPTimeout},
		{"usernameDebounce", cfg.UsernameDebounce},
		{"tokenTTL", cfg.TokenTTL},
	} {
		if _, err := ParseDuration(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	return nil
}

// ResolvedCableURL returns the configured cable URL, or derives one from the
// API base URL.
func (c FileConfig) ResolvedCableURL() (string, error) {
	if strings.TrimSpace(c.CableURL) != "" {
		return strings.TrimSpace(c.CableURL), nil
	}
	return push.CableURL(c.APIBaseURL)
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string. Empty means zero.
func ParseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return dur, nil
}
