package util

import (
	"github.com/berfenger/energylive2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		APIKey:   "test-key",
		BaseURL:  "http://127.0.0.1:1",
		Stream: config.StreamConfig{
			ConnectTimeoutMillis: 1000,
			ReadTimeoutSeconds:   5,
			CooldownSeconds:      1,
		},
		Discovery: config.DiscoveryConfig{
			TimeoutSeconds: 5,
			RetrySeconds:   1,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "energylive",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Port: 8080,
	}
}
