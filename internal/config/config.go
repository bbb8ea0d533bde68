package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/queue"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Secrets that may be supplied through the environment instead of the file
const (
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvAdminToken       = "ADMIN_TOKEN"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app" toml:"app"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Admin    AdminConfig    `yaml:"admin" toml:"admin"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" toml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Queues   QueuesConfig   `yaml:"queues" toml:"queues"`
	Worker   WorkerConfig   `yaml:"worker" toml:"worker"`
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Version     string `yaml:"version" toml:"version"`
	Environment string `yaml:"environment" toml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `yaml:"port" toml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// AdminConfig guards the admin HTTP surface
type AdminConfig struct {
	Token       string   `yaml:"token" toml:"token"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// DatabaseConfig holds the SQL store configuration
type DatabaseConfig struct {
	Driver          string   `yaml:"driver" toml:"driver"` // postgres or sqlite
	Host            string   `yaml:"host" toml:"host"`
	Port            int      `yaml:"port" toml:"port"`
	User            string   `yaml:"user" toml:"user"`
	Password        string   `yaml:"password" toml:"password"`
	Database        string   `yaml:"database" toml:"database"`
	SSLMode         string   `yaml:"sslmode" toml:"sslmode"`
	Path            string   `yaml:"path" toml:"path"`
	MaxOpenConns    int      `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time" toml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection, intake and event configuration
type RabbitMQConfig struct {
	Enabled        bool             `yaml:"enabled" toml:"enabled"`
	Host           string           `yaml:"host" toml:"host"`
	Port           int              `yaml:"port" toml:"port"`
	User           string           `yaml:"user" toml:"user"`
	Password       string           `yaml:"password" toml:"password"`
	VHost          string           `yaml:"vhost" toml:"vhost"`
	Exchange       ExchangeConfig   `yaml:"exchange" toml:"exchange"`
	Queue          QueueConfig      `yaml:"queue" toml:"queue"`
	RoutingKey     string           `yaml:"routing_key" toml:"routing_key"`
	EventsExchange string           `yaml:"events_exchange" toml:"events_exchange"`
	Connection     ConnectionConfig `yaml:"connection" toml:"connection"`
	Publish        PublishConfig    `yaml:"publish" toml:"publish"`
	Consumer       ConsumerConfig   `yaml:"consumer" toml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Type    string `yaml:"type" toml:"type"`
	Durable bool   `yaml:"durable" toml:"durable"`
}

// QueueConfig holds the RabbitMQ intake queue configuration
type QueueConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Durable bool   `yaml:"durable" toml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int      `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryInterval Duration `yaml:"retry_interval" toml:"retry_interval"`
	Heartbeat     Duration `yaml:"heartbeat" toml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int      `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryInterval     Duration `yaml:"retry_interval" toml:"retry_interval"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	Timeout           Duration `yaml:"timeout" toml:"timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag" toml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count" toml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" toml:"level"`
	Format       string `yaml:"format" toml:"format"`
	Output       string `yaml:"output" toml:"output"`
	EnableCaller bool   `yaml:"enable_caller" toml:"enable_caller"`
}

// QueuesConfig holds the settings of each job queue
type QueuesConfig struct {
	Transcribe JobQueueConfig `yaml:"transcribe" toml:"transcribe"`
	Summarize  JobQueueConfig `yaml:"summarize" toml:"summarize"`
}

// For returns the settings of the named queue
func (q QueuesConfig) For(name domain.QueueName) JobQueueConfig {
	if name == domain.QueueSummarize {
		return q.Summarize
	}
	return q.Transcribe
}

// JobQueueConfig holds the retry, concurrency and retention policy of one queue
type JobQueueConfig struct {
	Concurrency int             `yaml:"concurrency" toml:"concurrency"`
	MaxAttempts int             `yaml:"max_attempts" toml:"max_attempts"`
	JobTimeout  Duration        `yaml:"job_timeout" toml:"job_timeout"`
	Backoff     BackoffConfig   `yaml:"backoff" toml:"backoff"`
	Retention   RetentionConfig `yaml:"retention" toml:"retention"`
}

// BackoffConfig describes the exponential retry delay
type BackoffConfig struct {
	Initial    Duration `yaml:"initial" toml:"initial"`
	Multiplier float64  `yaml:"multiplier" toml:"multiplier"`
	Max        Duration `yaml:"max" toml:"max"`
}

// RetentionConfig bounds how many finished jobs are kept and for how long
type RetentionConfig struct {
	CompletedMaxAge   Duration `yaml:"completed_max_age" toml:"completed_max_age"`
	CompletedMaxCount int      `yaml:"completed_max_count" toml:"completed_max_count"`
	FailedMaxAge      Duration `yaml:"failed_max_age" toml:"failed_max_age"`
	FailedMaxCount    int      `yaml:"failed_max_count" toml:"failed_max_count"`
}

// Policy converts the retention settings for the job queue
func (r RetentionConfig) Policy() queue.Retention {
	return queue.Retention{
		CompletedMaxAge:   r.CompletedMaxAge.Std(),
		CompletedMaxCount: r.CompletedMaxCount,
		FailedMaxAge:      r.FailedMaxAge.Std(),
		FailedMaxCount:    r.FailedMaxCount,
	}
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                  string   `yaml:"id" toml:"id"`
	LockFile            string   `yaml:"lock_file" toml:"lock_file"`
	PollInterval        Duration `yaml:"poll_interval" toml:"poll_interval"`
	HeartbeatInterval   Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	StallTimeout        Duration `yaml:"stall_timeout" toml:"stall_timeout"`
	MaintenanceInterval Duration `yaml:"maintenance_interval" toml:"maintenance_interval"`
	ShutdownTimeout     Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// ProviderConfig holds the transcription and summarization provider settings
type ProviderConfig struct {
	APIKey          string   `yaml:"api_key" toml:"api_key"`
	BaseURL         string   `yaml:"base_url" toml:"base_url"`
	TranscribeModel string   `yaml:"transcribe_model" toml:"transcribe_model"`
	SummaryModel    string   `yaml:"summary_model" toml:"summary_model"`
	RequestTimeout  Duration `yaml:"request_timeout" toml:"request_timeout"`
	MediaRoot       string   `yaml:"media_root" toml:"media_root"`
}

// Load reads and parses the configuration file. Files ending in .toml are
// decoded as TOML, everything else as YAML. Secrets found in the environment
// override the file and unset values receive defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		err = toml.Unmarshal(data, &config)
	default:
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv()
	config.ApplyDefaults()

	return &config, nil
}

// ApplyEnv overrides secrets with their environment variables when set
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvDatabasePassword, &c.Database.Password},
		{EnvRabbitMQPassword, &c.RabbitMQ.Password},
		{EnvOpenAIAPIKey, &c.Provider.APIKey},
		{EnvAdminToken, &c.Admin.Token},
	}
	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.env); ok && value != "" {
			*o.target = value
		}
	}
}

// ApplyDefaults fills every unset value with its default
func (c *Config) ApplyDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}

	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "topic"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "note.uploaded"
	}
	if c.RabbitMQ.EventsExchange == "" {
		c.RabbitMQ.EventsExchange = "voicenote.events"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 5*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	if c.RabbitMQ.Publish.RetryAttempts == 0 {
		c.RabbitMQ.Publish.RetryAttempts = 3
	}
	setDuration(&c.RabbitMQ.Publish.RetryInterval, time.Second)
	if c.RabbitMQ.Publish.BackoffMultiplier == 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2
	}
	setDuration(&c.RabbitMQ.Publish.Timeout, 5*time.Second)
	if c.RabbitMQ.Consumer.Tag == "" {
		c.RabbitMQ.Consumer.Tag = "voicenote-intake"
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	c.Queues.Transcribe.applyDefaults(2, 5*time.Minute)
	c.Queues.Summarize.applyDefaults(4, 2*time.Minute)

	if c.Worker.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Worker.ID = host
		} else {
			c.Worker.ID = "worker"
		}
	}
	setDuration(&c.Worker.PollInterval, time.Second)
	setDuration(&c.Worker.HeartbeatInterval, 30*time.Second)
	setDuration(&c.Worker.StallTimeout, 10*time.Minute)
	setDuration(&c.Worker.MaintenanceInterval, time.Minute)
	setDuration(&c.Worker.ShutdownTimeout, 30*time.Second)

	setDuration(&c.Provider.RequestTimeout, 2*time.Minute)
}

func (q *JobQueueConfig) applyDefaults(concurrency int, jobTimeout time.Duration) {
	if q.Concurrency == 0 {
		q.Concurrency = concurrency
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = 3
	}
	setDuration(&q.JobTimeout, jobTimeout)
	setDuration(&q.Backoff.Initial, 5*time.Second)
	if q.Backoff.Multiplier == 0 {
		q.Backoff.Multiplier = 2
	}
	setDuration(&q.Backoff.Max, 5*time.Minute)
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// ValidateAPIConfig checks the settings the api service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Admin.Token == "" {
		return fmt.Errorf("admin token is required (set admin.token or %s)", EnvAdminToken)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateQueues()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateQueues(); err != nil {
		return err
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.StallTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker stall_timeout must be greater than heartbeat_interval")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api key is required (set provider.api_key or %s)", EnvOpenAIAPIKey)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q (must be postgres or sqlite)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateQueues() error {
	for _, name := range domain.QueueNames() {
		q := c.Queues.For(name)

		if q.Concurrency <= 0 {
			return fmt.Errorf("queue %s concurrency must be greater than 0", name)
		}

		if q.MaxAttempts <= 0 {
			return fmt.Errorf("queue %s max_attempts must be greater than 0", name)
		}

		if q.JobTimeout <= 0 {
			return fmt.Errorf("queue %s job_timeout must be greater than 0", name)
		}

		if q.Backoff.Multiplier < 1 {
			return fmt.Errorf("queue %s backoff multiplier must be at least 1", name)
		}

		if q.Backoff.Initial > q.Backoff.Max {
			return fmt.Errorf("queue %s backoff initial must not exceed max", name)
		}

		if q.Retention.CompletedMaxAge < 0 || q.Retention.FailedMaxAge < 0 ||
			q.Retention.CompletedMaxCount < 0 || q.Retention.FailedMaxCount < 0 {
			return fmt.Errorf("queue %s retention limits must not be negative", name)
		}
	}
	return nil
}
