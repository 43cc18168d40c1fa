package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "PODIUM"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "podium.db"
	defaultLogLevel      = "info"
	defaultCookieName    = "slide_auth"
	defaultRoomName      = "main"
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultConnectionTTL = 24 * time.Hour
	defaultPollTTL       = 24 * time.Hour
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	RoomName              string
	SessionSigningSecret  string
	SessionCookieName     string
	PresenterPasswordHash string
	SessionTTL            time.Duration
	ConnectionTTL         time.Duration
	PollTTL               time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("room.name", defaultRoomName)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("connection.ttl", defaultConnectionTTL)
	configViper.SetDefault("poll.ttl", defaultPollTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		RoomName:              configViper.GetString("room.name"),
		SessionSigningSecret:  configViper.GetString("session.signing_secret"),
		SessionCookieName:     configViper.GetString("session.cookie_name"),
		PresenterPasswordHash: configViper.GetString("presenter.password_hash"),
		SessionTTL:            configViper.GetDuration("session.ttl"),
		ConnectionTTL:         configViper.GetDuration("connection.ttl"),
		PollTTL:               configViper.GetDuration("poll.ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.PresenterPasswordHash) == "" {
		return fmt.Errorf("presenter.password_hash is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.RoomName) == "" {
		return fmt.Errorf("room.name is required")
	}
	return nil
}
