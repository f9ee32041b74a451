// Package config loads the service configuration from a YAML file with
// environment variable overrides for the values that differ per deployment.
package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	IsDebug bool `yaml:"is_debug"`

	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	NATS     NATS     `yaml:"nats"`
	Trading  Trading  `yaml:"trading"`
	Auth     Auth     `yaml:"auth"`
}

type Server struct {
	Port string `yaml:"port"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Redis struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Pass    string `yaml:"pass"`
}

type NATS struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Trading holds the platform economics: the spread applied to market
// orders, the taker fee charged on each matched leg, and how long a buyer
// has to pay once escrow is funded.
type Trading struct {
	SpreadPercent        string   `yaml:"spread_percent"`
	TakerFeePercent      string   `yaml:"taker_fee_percent"`
	PaymentWindowMinutes int      `yaml:"payment_window_minutes"`
	PlatformUserID       string   `yaml:"platform_user_id"`
	Assets               []string `yaml:"assets"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads the config file at path and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if os.Getenv("DEBUG") == "true" {
		cfg.IsDebug = true
	}

	return cfg, nil
}

// Default returns a config suitable for local development.
func Default() *Config {
	return &Config{
		Server:   Server{Port: "8080"},
		Database: Database{Path: "peerex.db"},
		NATS:     NATS{URL: "nats://127.0.0.1:4222"},
		Redis:    Redis{Addr: "127.0.0.1:6379"},
		Trading: Trading{
			SpreadPercent:        "1.5",
			TakerFeePercent:      "0.5",
			PaymentWindowMinutes: 30,
			PlatformUserID:       "platform",
			Assets:               []string{"BTC", "ETH", "LTC"},
		},
		Auth: Auth{JWTSecret: "peerex-dev-secret"},
	}
}
