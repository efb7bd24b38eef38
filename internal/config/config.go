package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Postgres DBConfig
	Redis    RedisConfig
	S3       S3Config
	Logger   Logger
	Queue    QueueConfig
	Feed     FeedConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	AppVersion   string
	Port         string
	Mode         string
	JwtSecretKey string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	AllowOrigins []string
}

// StoreConfig selects the Job Store backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PgDriver string
	SSLMode  string
}

type RedisConfig struct {
	RedisAddr     string
	RedisPassword string
	DB            int
	MinIdleConns  int
	PoolSize      int
	PoolTimeout   int
	TLS           bool
	NotifyChannel string
}

type S3Config struct {
	Enabled      bool
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	OutputBucket string
}

type Logger struct {
	Development       bool
	DisableCaller     bool
	DisableStacktrace bool
	Encoding          string
	Level             string
}

type QueueConfig struct {
	PerOwnerLimit int
	LeaseDuration time.Duration
	RetryBudget   int
	ReapInterval  time.Duration
	ClaimRetries  int
}

type FeedConfig struct {
	Retention       time.Duration
	LongPollTimeout time.Duration
}

type WorkerConfig struct {
	WorkerCount      int
	MaxCPUUsage      float64
	ProgressInterval time.Duration
	PollInterval     time.Duration
	DownloadDir      string
	InstallYtdlp     bool
}

const (
	defaultPerOwnerLimit    = 2
	defaultLeaseDuration    = 2 * time.Minute
	defaultReapInterval     = 15 * time.Second
	defaultClaimRetries     = 5
	defaultFeedRetention    = 24 * time.Hour
	defaultLongPollTimeout  = 25 * time.Second
	defaultWorkerCount      = 2
	defaultProgressInterval = time.Second
	defaultPollInterval     = 5 * time.Second
	defaultNotifyChannel    = "downloads:notify"
)

// secretEnvKeys may be supplied as FOO_FILE pointing at a mounted secret.
var secretEnvKeys = []string{
	"POSTGRES_PASSWORD",
	"REDIS_REDISPASSWORD",
	"S3_ACCESSKEY",
	"S3_SECRETKEY",
	"SERVER_JWTSECRETKEY",
}

// readSecret sets envKey from the file named by envKey_FILE unless envKey is already set.
func readSecret(envKey string) error {
	if os.Getenv(envKey) != "" {
		return nil
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s_FILE: %w", envKey, err)
	}
	return os.Setenv(envKey, strings.TrimSpace(string(data)))
}

func LoadConfig(filename string) (*viper.Viper, error) {
	for _, key := range secretEnvKeys {
		if err := readSecret(key); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(filename)
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFound) {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	if c.Queue.PerOwnerLimit <= 0 {
		c.Queue.PerOwnerLimit = defaultPerOwnerLimit
	}
	if c.Queue.LeaseDuration <= 0 {
		c.Queue.LeaseDuration = defaultLeaseDuration
	}
	if c.Queue.ReapInterval <= 0 {
		c.Queue.ReapInterval = defaultReapInterval
	}
	if c.Queue.ClaimRetries <= 0 {
		c.Queue.ClaimRetries = defaultClaimRetries
	}
	if c.Feed.Retention <= 0 {
		c.Feed.Retention = defaultFeedRetention
	}
	if c.Feed.LongPollTimeout <= 0 {
		c.Feed.LongPollTimeout = defaultLongPollTimeout
	}
	if c.Worker.WorkerCount <= 0 {
		c.Worker.WorkerCount = defaultWorkerCount
	}
	if c.Worker.ProgressInterval <= 0 {
		c.Worker.ProgressInterval = defaultProgressInterval
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultPollInterval
	}
	if c.Worker.MaxCPUUsage <= 0 {
		c.Worker.MaxCPUUsage = 90
	}
	if c.Worker.DownloadDir == "" {
		c.Worker.DownloadDir = os.TempDir()
	}
	if c.Redis.NotifyChannel == "" {
		c.Redis.NotifyChannel = defaultNotifyChannel
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return errors.New("store.driver must be postgres or memory")
	}
	if c.Queue.RetryBudget < 0 {
		return errors.New("queue.retryBudget must not be negative")
	}
	if c.Worker.ProgressInterval >= c.Queue.LeaseDuration {
		return errors.New("worker.progressInterval must be shorter than queue.leaseDuration")
	}
	return nil
}
