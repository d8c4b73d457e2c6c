package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/common/db"
	"labyrinth/internal/common/mq"
	"labyrinth/internal/common/storage"
	"labyrinth/internal/sandbox"
	"labyrinth/internal/sandbox/docker"
	"labyrinth/internal/sandbox/engine"
	"labyrinth/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultWorkers         = 50
	defaultStatusTTL       = 24 * time.Hour
	defaultSubmitLimit     = 10
	defaultSubmitWindow    = time.Minute
	defaultSessionRPS      = 50
	defaultSessionBurst    = 100
	defaultSessionTTL      = time.Hour
	defaultJanitorInterval = time.Minute
	defaultLimiterIdle     = 10 * time.Minute

	providerNamespace = "namespace"
	providerDocker    = "docker"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// DatabaseConfig holds MySQL settings.
type DatabaseConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

// RedisConfig holds Redis settings. An empty addr disables the status cache
// and submit limits.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"poolSize"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// KafkaConfig holds Kafka settings. No brokers disables intake and status
// events.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	ClientID        string        `yaml:"clientID"`
	IntakeTopic     string        `yaml:"intakeTopic"`
	StatusTopic     string        `yaml:"statusTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MinBytes        int           `yaml:"minBytes"`
	MaxBytes        int           `yaml:"maxBytes"`
	MaxWait         time.Duration `yaml:"maxWait"`
	BatchSize       int           `yaml:"batchSize"`
	BatchTimeout    time.Duration `yaml:"batchTimeout"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequiredAcks    int           `yaml:"requiredAcks"`
	Compression     string        `yaml:"compression"`
}

// GradingConfig controls admission and the worker pool.
type GradingConfig struct {
	Workers        int           `yaml:"workers"`
	StatusTTL      time.Duration `yaml:"statusTTL"`
	CallbackURL    string        `yaml:"callbackURL"`
	PersistTimeout time.Duration `yaml:"persistTimeout"`
	SubmitLimit    int           `yaml:"submitLimit"`
	SubmitWindow   time.Duration `yaml:"submitWindow"`
	SessionRPS     float64       `yaml:"sessionRPS"`
	SessionBurst   int           `yaml:"sessionBurst"`
}

// SandboxConfig selects and tunes the execution provider.
type SandboxConfig struct {
	Provider             string         `yaml:"provider"`
	Limits               sandbox.Limits `yaml:"limits"`
	Grace                time.Duration  `yaml:"grace"`
	HelperPath           string         `yaml:"helperPath"`
	RootFS               string         `yaml:"rootFS"`
	CgroupRoot           string         `yaml:"cgroupRoot"`
	WorkRoot             string         `yaml:"workRoot"`
	Python               string         `yaml:"python"`
	SeccompProfile       string         `yaml:"seccompProfile"`
	StdoutStderrMaxBytes int64          `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        *bool          `yaml:"enableSeccomp"`
	EnableCgroup         *bool          `yaml:"enableCgroup"`
	EnableNamespaces     *bool          `yaml:"enableNamespaces"`
	DockerCommand        string         `yaml:"dockerCommand"`
	DockerImage          string         `yaml:"dockerImage"`
	DockerNetwork        string         `yaml:"dockerNetwork"`
}

// MazeConfig controls the catalog and session lifetime.
type MazeConfig struct {
	Dir             string        `yaml:"dir"`
	SessionTTL      time.Duration `yaml:"sessionTTL"`
	JanitorInterval time.Duration `yaml:"janitorInterval"`
}

// AppConfig is the grader configuration file.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database DatabaseConfig      `yaml:"database"`
	Redis    RedisConfig         `yaml:"redis"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	Grading  GradingConfig       `yaml:"grading"`
	Sandbox  SandboxConfig       `yaml:"sandbox"`
	Maze     MazeConfig          `yaml:"maze"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyServerDefaults(&cfg.Server)
	applyGradingDefaults(&cfg.Grading, cfg.Server.Addr)
	applyKafkaDefaults(&cfg.Kafka)
	applyMazeDefaults(&cfg.Maze)
	if err := applySandboxDefaults(&cfg.Sandbox); err != nil {
		return nil, err
	}
	if cfg.MinIO.Endpoint != "" && cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "labyrinth"
	}
	return &cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyGradingDefaults(cfg *GradingConfig, addr string) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = defaultStatusTTL
	}
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "http://" + loopbackAddr(addr)
	}
	if cfg.SubmitLimit == 0 {
		cfg.SubmitLimit = defaultSubmitLimit
	}
	if cfg.SubmitWindow == 0 {
		cfg.SubmitWindow = defaultSubmitWindow
	}
	if cfg.SessionRPS == 0 {
		cfg.SessionRPS = defaultSessionRPS
	}
	if cfg.SessionBurst == 0 {
		cfg.SessionBurst = defaultSessionBurst
	}
}

// loopbackAddr turns a listen address such as ":8080" into one the host can
// dial.
func loopbackAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return strings.Replace(addr, "0.0.0.0", "127.0.0.1", 1)
}

func applyKafkaDefaults(cfg *KafkaConfig) {
	if cfg.IntakeTopic == "" {
		cfg.IntakeTopic = "labyrinth.submissions"
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = "labyrinth.status.final"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "labyrinth-grader"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "labyrinth-grader"
	}
}

func applyMazeDefaults(cfg *MazeConfig) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = defaultJanitorInterval
	}
}

func applySandboxDefaults(cfg *SandboxConfig) error {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = providerNamespace
	}
	if cfg.Provider != providerNamespace && cfg.Provider != providerDocker {
		return fmt.Errorf("unknown sandbox provider %q", cfg.Provider)
	}
	defaults := sandbox.DefaultLimits()
	if cfg.Limits.TimeoutSeconds <= 0 {
		cfg.Limits.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if cfg.Limits.MemoryMB <= 0 {
		cfg.Limits.MemoryMB = defaults.MemoryMB
	}
	if cfg.Limits.CPUShare <= 0 {
		cfg.Limits.CPUShare = defaults.CPUShare
	}
	if cfg.Limits.PIDs <= 0 {
		cfg.Limits.PIDs = defaults.PIDs
	}
	if cfg.Grace <= 0 {
		cfg.Grace = sandbox.DefaultGrace
	}
	for _, sw := range []**bool{&cfg.EnableSeccomp, &cfg.EnableCgroup, &cfg.EnableNamespaces} {
		if *sw == nil {
			on := true
			*sw = &on
		}
	}
	return nil
}

func (d DatabaseConfig) toMySQLConfig() *db.MySQLConfig {
	return &db.MySQLConfig{
		DSN:                d.DSN,
		MaxOpenConnections: d.MaxOpenConnections,
		MaxIdleConnections: d.MaxIdleConnections,
		ConnMaxLifetime:    d.ConnMaxLifetime,
		ConnMaxIdleTime:    d.ConnMaxIdleTime,
	}
}

func (r RedisConfig) toCacheConfig() *cache.RedisConfig {
	cfg := cache.DefaultRedisConfig()
	cfg.Addr = r.Addr
	cfg.Password = r.Password
	cfg.DB = r.DB
	if r.PoolSize > 0 {
		cfg.PoolSize = r.PoolSize
	}
	if r.DialTimeout > 0 {
		cfg.DialTimeout = r.DialTimeout
	}
	if r.ReadTimeout > 0 {
		cfg.ReadTimeout = r.ReadTimeout
	}
	if r.WriteTimeout > 0 {
		cfg.WriteTimeout = r.WriteTimeout
	}
	return cfg
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetterTopic,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SandboxConfig) toEngineConfig() engine.Config {
	return engine.Config{
		HelperPath:           s.HelperPath,
		CgroupRoot:           s.CgroupRoot,
		RootFS:               s.RootFS,
		WorkRoot:             s.WorkRoot,
		Python:               s.Python,
		SeccompProfile:       s.SeccompProfile,
		StdoutStderrMaxBytes: s.StdoutStderrMaxBytes,
		Grace:                s.Grace,
		EnableSeccomp:        isOn(s.EnableSeccomp),
		EnableCgroup:         isOn(s.EnableCgroup),
		EnableNamespaces:     isOn(s.EnableNamespaces),
	}
}

// isOn reads an isolation switch. Unset switches are on.
func isOn(flag *bool) bool {
	return flag == nil || *flag
}

func (s SandboxConfig) toDockerConfig() docker.Config {
	return docker.Config{
		Command:  s.DockerCommand,
		Image:    s.DockerImage,
		Network:  s.DockerNetwork,
		WorkRoot: s.WorkRoot,
		Grace:    s.Grace,

		OutputMaxBytes: s.StdoutStderrMaxBytes,
	}
}
