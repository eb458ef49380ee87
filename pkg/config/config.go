package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Configuration struct {
	ListenAddr string
	DataDir    string
	Radio      RadioSettings
	Database   struct {
		User     string
		Password string
		Host     string
		DB       string
		// MigrationsDir holds the schema migration files.
		MigrationsDir string
	}
	Sandbox SandboxSettings
}

// RadioSettings control the advertisement medium and session timing.
type RadioSettings struct {
	// Driver selects the radio backend: "mqtt" or "loopback".
	Driver    string
	BrokerURL string
	// EmbeddedBroker starts an in-process MQTT broker on BrokerAddr so a
	// handful of devices can bridge without external infrastructure.
	EmbeddedBroker bool
	BrokerAddr     string

	AdvertiseDuration time.Duration
	RefreshInterval   time.Duration
	ScanDuration      time.Duration
}

// SandboxSettings configure the optional banking sandbox ledger.
type SandboxSettings struct {
	Enabled bool
	BaseURL string
	APIKey  string
	// AccountID is the sandbox account backing the local profile.
	AccountID string
}

// Load reads configuration from the named file (when present) and from
// FLUME_-prefixed environment variables, which take precedence.
func Load(path string) (Configuration, error) {
	v := viper.New()

	v.SetDefault("listenaddr", ":8420")
	v.SetDefault("datadir", "./data")
	v.SetDefault("radio.driver", "loopback")
	v.SetDefault("radio.brokerurl", "tcp://localhost:1883")
	v.SetDefault("radio.embeddedbroker", false)
	v.SetDefault("radio.brokeraddr", ":1883")
	v.SetDefault("radio.advertiseduration", 300*time.Second)
	v.SetDefault("radio.refreshinterval", 15*time.Second)
	v.SetDefault("radio.scanduration", 20*time.Second)
	v.SetDefault("database.migrationsdir", "./migrations")
	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.baseurl", "")

	v.SetEnvPrefix("FLUME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Configuration{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}

// DatabaseDSN assembles the Postgres connection string, or "" when no
// roster database is configured.
func (c Configuration) DatabaseDSN() string {
	if c.Database.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.DB)
}
