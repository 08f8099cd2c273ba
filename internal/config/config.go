package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backend names accepted by cache.backend / CACHE_BACKEND.
const (
	BackendFile      = "file"
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
	BackendMongo     = "mongo"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	AmedasBaseURL     string
	AmedasTimeout     time.Duration
	DirectoryTTL      time.Duration
	DirectoryWarm     bool
	ObservationTZName string
	ObservationTZ     *time.Location

	RankingDefaultLimit int
	RankingMaxLimit     int

	RequestTimeout time.Duration

	CacheBackend  string
	CacheFilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeout    time.Duration

	GeminiAPIKey      string
	GeminiURL         string
	GeminiModel       string
	GenerationTimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Amedas struct {
		BaseURL      string `yaml:"base_url"`
		Timeout      string `yaml:"timeout"`
		TimeZone     string `yaml:"time_zone"`
		DirectoryTTL string `yaml:"directory_ttl"`
		WarmOnStart  bool   `yaml:"warm_on_start"`
	} `yaml:"amedas"`

	Ranking struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"ranking"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		File    struct {
			Path string `yaml:"path"`
		} `yaml:"file"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Mongo struct {
			URI        string `yaml:"uri"`
			Database   string `yaml:"database"`
			Collection string `yaml:"collection"`
			Timeout    string `yaml:"timeout"`
		} `yaml:"mongo"`
	} `yaml:"cache"`

	Generation struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"generation"`

	Reliability struct {
		CircuitBreakerEnabled          bool   `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerSuccessThreshold int    `yaml:"circuit_breaker_success_threshold"`
		CircuitBreakerTimeout          string `yaml:"circuit_breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), an optional
// .env file and config/secrets.yaml. Environment variables win over file values.
// A missing Gemini key leaves generation unconfigured. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	// .env is optional; existing environment variables are never overwritten.
	_ = godotenv.Load(filepath.Join(cwd, ".env"))

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.AmedasBaseURL = strings.TrimRight(firstNonEmpty(os.Getenv("AMEDAS_BASE_URL"), fc.Amedas.BaseURL, "https://www.jma.go.jp/bosai/amedas"), "/")
	cfg.AmedasTimeout = parseDurationOrZero(fc.Amedas.Timeout, 10*time.Second)
	cfg.DirectoryTTL = parseDuration(fc.Amedas.DirectoryTTL, 24*time.Hour)
	cfg.DirectoryWarm = fc.Amedas.WarmOnStart
	cfg.ObservationTZName = firstNonEmpty(fc.Amedas.TimeZone, "Asia/Tokyo")
	cfg.ObservationTZ = loadLocation(cfg.ObservationTZName)

	cfg.RankingDefaultLimit = fc.Ranking.DefaultLimit
	if cfg.RankingDefaultLimit <= 0 {
		cfg.RankingDefaultLimit = 10
	}
	cfg.RankingMaxLimit = fc.Ranking.MaxLimit
	if cfg.RankingMaxLimit <= 0 {
		cfg.RankingMaxLimit = 50
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.RedisAddr = strings.TrimSpace(firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr))
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend)))
	if cfg.CacheBackend == "" {
		// Deployment marker: a configured redis address selects the remote store.
		if os.Getenv("REDIS_ADDR") != "" {
			cfg.CacheBackend = BackendRedis
		} else {
			cfg.CacheBackend = BackendFile
		}
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.CacheFilePath = firstNonEmpty(os.Getenv("CACHE_FILE_PATH"), fc.Cache.File.Path, filepath.Join("data", "cache.json"))
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisPrefix = firstNonEmpty(fc.Cache.Redis.Prefix, "descriptions/")

	cfg.MemcachedAddrs = strings.TrimSpace(firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211"))
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.MongoURI = firstNonEmpty(os.Getenv("MONGO_URI"), fc.Cache.Mongo.URI, "mongodb://localhost:27017")
	cfg.MongoDatabase = firstNonEmpty(fc.Cache.Mongo.Database, "hinyari")
	cfg.MongoCollection = firstNonEmpty(fc.Cache.Mongo.Collection, "descriptions")
	cfg.MongoTimeout = parseDuration(fc.Cache.Mongo.Timeout, 5*time.Second)

	cfg.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), sec.GeminiAPIKey)
	cfg.GeminiURL = strings.TrimRight(firstNonEmpty(fc.Generation.URL, "https://generativelanguage.googleapis.com/v1beta"), "/")
	cfg.GeminiModel = firstNonEmpty(fc.Generation.Model, "gemini-2.5-flash")
	cfg.GenerationTimeout = parseDuration(fc.Generation.Timeout, 20*time.Second)

	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreakerEnabled
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreakerFailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreakerSuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerationEnabled reports whether a Gemini API key is configured.
func (c *Config) GenerationEnabled() bool {
	return c.GeminiAPIKey != ""
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// loadLocation resolves an IANA zone name. JST is fixed at UTC+9 with no DST,
// so a fixed zone is used when tzdata is unavailable.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above AmedasTimeout so a single upstream call can complete.
func validate(cfg *Config) error {
	if cfg.AmedasTimeout <= 0 {
		return fmt.Errorf("amedas.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.AmedasTimeout {
		cfg.RequestTimeout = cfg.AmedasTimeout + time.Second
	}
	if cfg.RankingDefaultLimit > cfg.RankingMaxLimit {
		return fmt.Errorf("ranking.default_limit (%d) must not exceed ranking.max_limit (%d)", cfg.RankingDefaultLimit, cfg.RankingMaxLimit)
	}
	switch cfg.CacheBackend {
	case BackendFile, BackendMemory, BackendRedis, BackendMemcached, BackendMongo:
		// valid
	default:
		return fmt.Errorf("cache.backend must be one of file, memory, redis, memcached, mongo, got %q", cfg.CacheBackend)
	}
	return nil
}
