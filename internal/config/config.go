package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/savegress/vitalguard/internal/dispatch"
)

// Config holds all configuration for VitalGuard
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Presenter  PresenterConfig  `yaml:"presenter"`
	Dispatch   dispatch.Config  `yaml:"dispatch"`
	Notifiers  NotifiersConfig  `yaml:"notifiers"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// MonitoringConfig holds the periodic vitals check configuration
type MonitoringConfig struct {
	Interval time.Duration `yaml:"interval"`
	Source   string        `yaml:"source"` // simulated, push
	Seed     int64         `yaml:"seed"`
}

// PresenterConfig holds alert presentation timing
type PresenterConfig struct {
	PromptCooldown time.Duration `yaml:"prompt_cooldown"`
	DialogTimeout  time.Duration `yaml:"dialog_timeout"`
}

// NotifiersConfig holds emergency notification channels
type NotifiersConfig struct {
	Console bool          `yaml:"console"`
	Webhook WebhookConfig `yaml:"webhook"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Redis   RedisConfig   `yaml:"redis"`
}

// WebhookConfig holds webhook configuration
type WebhookConfig struct {
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout"`
	RetryCount int               `yaml:"retry_count"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// RedisConfig holds Redis stream configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// Load loads configuration from a YAML file. Unset fields keep the
// environment defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := LoadFromEnv()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 3010),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  []string{getEnv("CORS_ORIGIN", "*")},
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Monitoring: MonitoringConfig{
			Interval: getEnvDuration("MONITOR_INTERVAL", 60*time.Second),
			Source:   getEnv("MONITOR_SOURCE", "simulated"),
			Seed:     int64(getEnvInt("MONITOR_SEED", 0)),
		},
		Presenter: PresenterConfig{
			PromptCooldown: getEnvDuration("PROMPT_COOLDOWN", 5*time.Minute),
			DialogTimeout:  getEnvDuration("DIALOG_TIMEOUT", 30*time.Second),
		},
		Dispatch: dispatch.Config{
			Workers:         getEnvInt("DISPATCH_WORKERS", 4),
			QueueSize:       getEnvInt("DISPATCH_QUEUE_SIZE", 256),
			TaskTimeout:     getEnvDuration("DISPATCH_TASK_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("DISPATCH_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Notifiers: NotifiersConfig{
			Console: getEnvBool("NOTIFY_CONSOLE", true),
			Webhook: WebhookConfig{
				URL:        getEnv("WEBHOOK_URL", ""),
				Timeout:    getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
				RetryCount: getEnvInt("WEBHOOK_RETRY_COUNT", 2),
			},
			MQTT: MQTTConfig{
				Broker:      getEnv("MQTT_BROKER", ""),
				ClientID:    getEnv("MQTT_CLIENT_ID", "vitalguard"),
				Username:    getEnv("MQTT_USERNAME", ""),
				Password:    getEnv("MQTT_PASSWORD", ""),
				TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "vitalguard/emergency"),
				QoS:         byte(getEnvInt("MQTT_QOS", 1)),
			},
			Redis: RedisConfig{
				Addr:     getEnv("REDIS_ADDR", ""),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				Stream:   getEnv("REDIS_STREAM", "vitalguard:emergencies"),
				MaxLen:   int64(getEnvInt("REDIS_STREAM_MAXLEN", 10000)),
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
