package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Backend  BackendConfig `yaml:"backend"`
	Cache    CacheConfig   `yaml:"cache"`
	Search   SearchConfig  `yaml:"search"`
	Storage  StorageConfig `yaml:"storage"`
	Features FeatureConfig `yaml:"features"`
	Ledger   LedgerConfig  `yaml:"ledger"`
	Views    ViewsConfig   `yaml:"views"`
	Log      LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"LENS_ADDR"             env-default:":8788"`
	CORSOrigin      string        `yaml:"cors_origin"      env:"LENS_CORS_ORIGIN"      env-default:"*"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"LENS_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"LENS_WRITE_TIMEOUT"    env-default:"45s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"LENS_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LENS_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type BackendConfig struct {
	BaseURL   string        `yaml:"base_url"   env:"PMS_API_URL"        env-default:"http://localhost:8000"`
	Timeout   time.Duration `yaml:"timeout"    env:"PMS_API_TIMEOUT"    env-default:"10s"`
	RateLimit float64       `yaml:"rate_limit" env:"PMS_API_RATE_LIMIT" env-default:"50"`
	RateBurst int           `yaml:"rate_burst" env:"PMS_API_RATE_BURST" env-default:"20"`
}

type CacheConfig struct {
	// RedisURL is optional; an empty value keeps the cache in process memory.
	RedisURL string        `yaml:"redis_url" env:"REDIS_URL"       env-default:""`
	TTL      time.Duration `yaml:"ttl"       env:"LENS_CACHE_TTL" env-default:"30s"`
}

type SearchConfig struct {
	MeiliURL       string `yaml:"meili_url"        env:"MEILI_URL"        env-default:""`
	MeiliMasterKey string `yaml:"meili_master_key" env:"MEILI_MASTER_KEY" env-default:""`
	Limit          int    `yaml:"limit"            env:"LENS_SEARCH_LIMIT" env-default:"50"`
}

type StorageConfig struct {
	Endpoint   string        `yaml:"endpoint"    env:"MINIO_ENDPOINT"    env-default:""`
	AccessKey  string        `yaml:"access_key"  env:"MINIO_ACCESS_KEY"  env-default:""`
	SecretKey  string        `yaml:"secret_key"  env:"MINIO_SECRET_KEY"  env-default:""`
	UseSSL     bool          `yaml:"use_ssl"     env:"MINIO_USE_SSL"     env-default:"true"`
	Bucket     string        `yaml:"bucket"      env:"MINIO_BUCKET"      env-default:"pms-attachments"`
	Region     string        `yaml:"region"      env:"MINIO_REGION"      env-default:"us-east-1"`
	PresignTTL time.Duration `yaml:"presign_ttl" env:"MINIO_PRESIGN_TTL" env-default:"15m"`
}

type FeatureConfig struct {
	// LensRoutes enables the nested /{resource}/{id} address shape. When
	// off, nested addresses are redirected to the legacy /app address.
	LensRoutes bool `yaml:"lens_routes" env:"FEATURE_LENS_ROUTES" env-default:"false"`
}

type LedgerConfig struct {
	QueueSize int           `yaml:"queue_size" env:"LENS_LEDGER_QUEUE"   env-default:"256"`
	Timeout   time.Duration `yaml:"timeout"    env:"LENS_LEDGER_TIMEOUT" env-default:"3s"`
}

type ViewsConfig struct {
	IdleTTL  time.Duration `yaml:"idle_ttl" env:"LENS_VIEW_IDLE_TTL" env-default:"30m"`
	Debounce time.Duration `yaml:"debounce" env:"LENS_DEBOUNCE"      env-default:"300ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from an optional YAML file and the environment.
// ENV wins over YAML, YAML over env-default tags. The file path comes from
// CONFIG_PATH (default ./config.yaml); a missing default file is not an error.
func Load() (Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return Config{}, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Views.Debounce <= 0 {
		errs = append(errs, errors.New("views.debounce must be positive"))
	}
	if c.Ledger.QueueSize <= 0 {
		errs = append(errs, errors.New("ledger.queue_size must be positive"))
	}
	if c.Storage.Endpoint != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		errs = append(errs, errors.New("storage credentials are required when an endpoint is set"))
	}
	return errors.Join(errs...)
}
