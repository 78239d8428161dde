package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// PostgresConfig holds the connection parameters of the credential store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration.
type Config struct {
	Server struct {
		Host           string        `yaml:"host"`
		Port           string        `yaml:"port"`
		Prefork        bool          `yaml:"prefork"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`

	Limits struct {
		MaxBodySize string `yaml:"max_body_size"`
		MaxPDFSize  string `yaml:"max_pdf_size"`

		MaxBodyBytes int `yaml:"-"`
		MaxPDFBytes  int `yaml:"-"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RedisHost              string        `yaml:"redis_host"`
		RateLimitDB            int           `yaml:"redis_rate_db"`
		PDFCacheDB             int           `yaml:"redis_pdf_db"`
		PDFCacheEnabled        bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL            time.Duration `yaml:"pdf_cache_ttl"`
		CredentialCacheEnabled bool          `yaml:"credential_cache_enabled"`
		CredentialCacheTTL     time.Duration `yaml:"credential_cache_ttl"`
	} `yaml:"cache"`

	RateLimiter struct {
		Max      int           `yaml:"max"`
		Interval time.Duration `yaml:"interval"`
		Message  string        `yaml:"message"`
	} `yaml:"rate_limiter"`

	Auth struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"auth"`

	PDF struct {
		Engine          string               `yaml:"engine"`
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		Margin          float64              `yaml:"margin"`
		PrintBackground bool                 `yaml:"print_background"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
		ChromePoolSize  int                  `yaml:"chrome_pool_size"`
		UserDataDir     string               `yaml:"user_data_dir"`
		ValidateOutput  bool                 `yaml:"validate_output"`
	} `yaml:"pdf"`

	Fetch struct {
		Timeout      time.Duration `yaml:"timeout"`
		MaxRedirects int           `yaml:"max_redirects"`
	} `yaml:"fetch"`

	Storage struct {
		Endpoint         string `yaml:"endpoint"`
		Region           string `yaml:"region"`
		Bucket           string `yaml:"bucket"`
		AccessKeyID      string `yaml:"access_key_id"`
		SecretAccessKey  string `yaml:"secret_access_key"`
		PublicBaseURL    string `yaml:"public_base_url"`
		UsePathStyle     bool   `yaml:"use_path_style"`
		ACL              string `yaml:"acl"`
		ConditionalWrite bool   `yaml:"conditional_write"`
	} `yaml:"storage"`
}

// Engine names accepted by pdf.engine.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// AppConfig is the process-wide configuration populated by LoadConfig.
var AppConfig Config

// GetConfig returns the loaded configuration.
func GetConfig() Config {
	return AppConfig
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":3000"
	cfg.Server.RequestTimeout = 60 * time.Second

	cfg.Limits.MaxBodySize = "4MB"
	cfg.Limits.MaxPDFSize = "20MB"

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14

	cfg.Cache.RedisHost = "127.0.0.1:6379"
	cfg.Cache.RateLimitDB = 0
	cfg.Cache.PDFCacheDB = 1
	cfg.Cache.PDFCacheTTL = 10 * time.Minute
	cfg.Cache.CredentialCacheTTL = 30 * time.Second

	cfg.RateLimiter.Max = 100
	cfg.RateLimiter.Interval = 15 * time.Minute
	cfg.RateLimiter.Message = "Too many requests from this IP, please try again later."

	cfg.Auth.Postgres = PostgresConfig{Host: "localhost", Port: 5432, SSLMode: "disable"}

	cfg.PDF.Engine = EngineChromedp
	cfg.PDF.DefaultPaper = "A4"
	cfg.PDF.PaperSizes = map[string]PaperSize{
		"A4":     {Width: 8.27, Height: 11.69},
		"LETTER": {Width: 8.5, Height: 11},
	}
	cfg.PDF.TimeoutSecs = 30
	cfg.PDF.ValidateOutput = true

	cfg.Fetch.Timeout = 10 * time.Second
	cfg.Fetch.MaxRedirects = 5

	cfg.Storage.Region = "us-east-1"
	cfg.Storage.UsePathStyle = true
	cfg.Storage.ACL = "public-read"
	return cfg
}

// LoadConfig reads .env, then the YAML file named by CONFIG_PATH (default
// config.yaml), and stores the result in AppConfig.
func LoadConfig() Config {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	AppConfig = LoadFrom(path)
	return AppConfig
}

// LoadFrom builds a configuration from the given YAML file and the environment.
// It panics when the result is unusable.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("invalid config %s: %v", path, err))
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults plus environment
	default:
		panic(fmt.Sprintf("cannot read config %s: %v", path, err))
	}

	applyEnv(&cfg)

	if err := finalize(&cfg); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}
	return cfg
}

// applyEnv maps the deployment environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Auth.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_ROLE"); v != "" {
		cfg.Auth.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Auth.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_PWD"); v != "" {
		cfg.Auth.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.Port = p
		}
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretAccessKey = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}

	// Allow common container env var to override chrome_path.
	if cfg.PDF.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.PDF.ChromePath = v
		}
	}
}

func finalize(cfg *Config) error {
	body, err := units.FromHumanSize(cfg.Limits.MaxBodySize)
	if err != nil || body <= 0 {
		return fmt.Errorf("limits.max_body_size %q is not a valid size", cfg.Limits.MaxBodySize)
	}
	pdf, err := units.FromHumanSize(cfg.Limits.MaxPDFSize)
	if err != nil || pdf <= 0 {
		return fmt.Errorf("limits.max_pdf_size %q is not a valid size", cfg.Limits.MaxPDFSize)
	}
	cfg.Limits.MaxBodyBytes = int(body)
	cfg.Limits.MaxPDFBytes = int(pdf)

	if cfg.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if cfg.RateLimiter.Max <= 0 {
		return errors.New("rate_limiter.max must be positive")
	}
	if cfg.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	if cfg.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if cfg.PDF.TimeoutSecs <= 0 {
		return errors.New("pdf.timeout_secs must be positive")
	}
	if cfg.PDF.ChromePoolSize < 0 {
		return errors.New("pdf.chrome_pool_size must not be negative")
	}

	cfg.PDF.Engine = strings.ToLower(cfg.PDF.Engine)
	switch cfg.PDF.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("pdf.engine %q is not supported", cfg.PDF.Engine)
	}

	cfg.PDF.DefaultPaper = strings.ToUpper(cfg.PDF.DefaultPaper)
	if _, ok := cfg.PDF.PaperSizes[cfg.PDF.DefaultPaper]; !ok {
		return fmt.Errorf("pdf.default_paper %q missing from pdf.paper_sizes", cfg.PDF.DefaultPaper)
	}

	if cfg.Storage.Bucket == "" {
		return errors.New("storage.bucket is empty")
	}
	return nil
}

// DefaultPaperSize returns the configured default page size.
func (c Config) DefaultPaperSize() PaperSize {
	return c.PDF.PaperSizes[c.PDF.DefaultPaper]
}
