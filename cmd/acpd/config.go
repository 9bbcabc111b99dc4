package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the acpd runtime configuration.
type Config struct {
	HTTP struct {
		Addr           string        `mapstructure:"addr"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"http"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`
	Signing struct {
		Secret  string `mapstructure:"secret"`
		Require bool   `mapstructure:"require"`
	} `mapstructure:"signing"`
	Auth struct {
		APIKeys []string `mapstructure:"api_keys"`
	} `mapstructure:"auth"`
	Webhook struct {
		URL    string `mapstructure:"url"`
		Secret string `mapstructure:"secret"`
		Header string `mapstructure:"header"`
	} `mapstructure:"webhook"`
	Merchant struct {
		BaseURL         string `mapstructure:"base_url"`
		Currency        string `mapstructure:"currency"`
		Country         string `mapstructure:"country"`
		PaymentProvider string `mapstructure:"payment_provider"`
	} `mapstructure:"merchant"`
	Collaborator struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"collaborator"`
	Idempotency struct {
		TTL   time.Duration `mapstructure:"ttl"`
		Lease time.Duration `mapstructure:"lease"`
	} `mapstructure:"idempotency"`
	RateLimit struct {
		RPS   float64 `mapstructure:"rps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"ratelimit"`
	Capture struct {
		PayPalHandler bool `mapstructure:"paypal_handler"`
	} `mapstructure:"capture"`
	Log struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("signing.secret", "")
	v.SetDefault("signing.require", false)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.header", "Merchant-Signature")
	v.SetDefault("merchant.base_url", "http://localhost:8080")
	v.SetDefault("merchant.currency", "usd")
	v.SetDefault("merchant.country", "US")
	v.SetDefault("merchant.payment_provider", "stripe")
	v.SetDefault("collaborator.timeout", 5*time.Second)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.lease", time.Minute)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("capture.paypal_handler", false)
	v.SetDefault("log.env", "production")
}

// loadConfig merges defaults, an optional YAML file, .env and ACP_*
// environment variables, later sources winning.
func loadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ACP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
