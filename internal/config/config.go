package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Admin    AdminConfig
	Redis    RedisConfig
	Run      RunConfig
	Queue    QueueConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

// AdminConfig drives the admin HTTP surface — healthz/status/metrics/ws,
// served on its own port away from any Queue traffic.
type AdminConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RunConfig is everything the run loop, reclaim loop, and task process
// need to drive one worker's claim/execute/report cycle.
type RunConfig struct {
	WorkerID        string
	WorkerType      string
	PollInterval    time.Duration
	ReclaimInterval time.Duration

	TaskMaxTimeout       time.Duration
	TaskMaxTimeoutStatus int
	ReversedStatuses     map[int]string

	VerifyChainOfTrust bool
	CotSigningKey      string
	TaskScript         []string
	WorkDir            string
	TaskClusterRootURL string
}

// QueueConfig addresses the remote job-dispatch service this worker polls.
type QueueConfig struct {
	BaseURL             string
	Timeout             time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/chainworker")

	setDefaults()

	viper.SetEnvPrefix("CHAINWORKER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Admin surface defaults
	viper.SetDefault("admin.addr", "0.0.0.0:8081")
	viper.SetDefault("admin.readtimeout", 30*time.Second)
	viper.SetDefault("admin.writetimeout", 30*time.Second)
	viper.SetDefault("admin.idletimeout", 120*time.Second)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Run defaults
	viper.SetDefault("run.workerid", "")
	viper.SetDefault("run.workertype", "chainworker-generic")
	viper.SetDefault("run.pollinterval", 5*time.Second)
	viper.SetDefault("run.reclaiminterval", 5*time.Minute)
	viper.SetDefault("run.taskmaxtimeout", 3600*time.Second)
	viper.SetDefault("run.taskmaxtimeoutstatus", 2)
	viper.SetDefault("run.reversedstatuses", map[int]string{})
	viper.SetDefault("run.verifychainoftrust", true)
	viper.SetDefault("run.cotsigningkey", "")
	viper.SetDefault("run.taskscript", []string{})
	viper.SetDefault("run.workdir", "/var/lib/chainworker/work")
	viper.SetDefault("run.taskclusterrooturl", "")

	// Queue defaults
	viper.SetDefault("queue.baseurl", "")
	viper.SetDefault("queue.timeout", 30*time.Second)
	viper.SetDefault("queue.retrymaxattempts", 1)
	viper.SetDefault("queue.retryinitialbackoff", 1*time.Second)
	viper.SetDefault("queue.retrymaxbackoff", 10*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
