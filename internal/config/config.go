package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel  zapcore.Level
	APIKey    string          `mapstructure:"api_key"`
	BaseURL   string          `mapstructure:"base_url"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Port      uint            `mapstructure:"port"`
	HttpLog   bool            `mapstructure:"http_log"`
}

type StreamConfig struct {
	ConnectTimeoutMillis uint32 `mapstructure:"connect_timeout_millis"`
	ReadTimeoutSeconds   uint32 `mapstructure:"read_timeout_seconds"`
	CooldownSeconds      uint32 `mapstructure:"cooldown_seconds"`
}

type DiscoveryConfig struct {
	TimeoutSeconds uint32 `mapstructure:"timeout_seconds"`
	RetrySeconds   uint32 `mapstructure:"retry_seconds"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c StreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMillis) * time.Millisecond
}

func (c StreamConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c StreamConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DiscoveryConfig) Retry() time.Duration {
	return time.Duration(c.RetrySeconds) * time.Second
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "https://backend.energylive.e-steiermark.com/api/v1")
	v.SetDefault("stream.connect_timeout_millis", 10000)
	v.SetDefault("stream.read_timeout_seconds", 900)
	v.SetDefault("stream.cooldown_seconds", 100)
	v.SetDefault("discovery.timeout_seconds", 60)
	v.SetDefault("discovery.retry_seconds", 300)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.base_topic", "energylive")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("port", 8080)
	v.SetDefault("http_log", false)
}

// Load reads the configuration from ENERGYLIVE_* environment variables and,
// if cfgFile is set and exists, from that yaml file.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {

	SetDefaults(v)

	v.SetEnvPrefix("energylive")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.LogLevel = parseLogLevel(v.GetString("log_level"))
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	if cfg.APIKey == "" {
		return nil, errors.New("config param api_key is required")
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.Stream.ConnectTimeoutMillis < 1000 {
		return nil, errors.New("config param stream.connect_timeout_millis should be >= 1000")
	}
	if cfg.Stream.ReadTimeoutSeconds == 0 {
		return nil, errors.New("config param stream.read_timeout_seconds should be > 0")
	}
	if cfg.Stream.CooldownSeconds == 0 {
		return nil, errors.New("config param stream.cooldown_seconds should be > 0")
	}
	if cfg.Discovery.TimeoutSeconds == 0 || cfg.Discovery.RetrySeconds == 0 {
		return nil, errors.New("config params discovery.timeout_seconds and discovery.retry_seconds should be > 0")
	}

	return &cfg, nil
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	c.APIKey = "*redacted*"
	c.MQTT.Username = "*redacted*"
	c.MQTT.Password = "*redacted*"
	return c
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
