package config

import (
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HubCfg      *HubConfig
	MqttCfg     *MqttConfig
	DatabaseCfg *DatabaseConfig
	LogLevel    string
}

// HubConfig covers both the REST API and the push event stream of the hub.
type HubConfig struct {
	URL             string        `env:"HUB_URL" envDefault:"http://127.0.0.1:2000"`
	Email           string        `env:"HUB_EMAIL"`
	Password        string        `env:"HUB_PASSWORD"`
	TokenFile       string        `env:"HUB_TOKEN_FILE" envDefault:".hub-token"`
	Ssl             bool          `env:"HUB_SSL"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"5m"`
}

// Host returns the host:port portion of the hub URL, used for the websocket
// dial target.
func (h *HubConfig) Host() string {
	u, err := url.Parse(h.URL)
	if err != nil || u.Host == "" {
		return h.URL
	}
	return u.Host
}

type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

type DatabaseConfig struct {
	URL              string `env:"DATABASE_URL"`
	MigrationsFolder string `env:"MIGRATIONS_FOLDER" envDefault:"migrations"`
}

// FromEnv builds a Config from environment variables alone. CLI flags in main
// override these values when set.
func FromEnv() (*Config, error) {
	hub := &HubConfig{}
	if err := env.Parse(hub); err != nil {
		return nil, err
	}
	mqtt := &MqttConfig{}
	if err := env.Parse(mqtt); err != nil {
		return nil, err
	}
	db := &DatabaseConfig{}
	if err := env.Parse(db); err != nil {
		return nil, err
	}
	return &Config{
		HubCfg:      hub,
		MqttCfg:     mqtt,
		DatabaseCfg: db,
		LogLevel:    "INFO",
	}, nil
}
