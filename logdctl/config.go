package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/docopt/docopt-go"
	"gopkg.in/yaml.v3"

	"logbased.io/client/logd"
	"logbased.io/client/logd/store"
)

// config file, then `LOGD_*` env, then flags
type Config struct {
	Domain      string        `yaml:"domain" env:"LOGD_DOMAIN"`
	Api         string        `yaml:"api" env:"LOGD_API"`
	Insecure    bool          `yaml:"insecure" env:"LOGD_INSECURE"`
	Token       string        `yaml:"token" env:"LOGD_TOKEN"`
	Store       string        `yaml:"store" env:"LOGD_STORE"`
	StorePath   string        `yaml:"store_path" env:"LOGD_STORE_PATH"`
	RedisUrl    string        `yaml:"redis_url" env:"LOGD_REDIS_URL"`
	MetricsAddr string        `yaml:"metrics_addr" env:"LOGD_METRICS_ADDR"`
	Timeout     time.Duration `yaml:"timeout" env:"LOGD_TIMEOUT"`

	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"LOGD_RECONNECT_INTERVAL"`
}

func DefaultConfig() *Config {
	return &Config{
		Api:               logd.DefaultApi,
		Store:             store.KindMemory,
		Timeout:           30 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// `path` may be empty
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (self *Config) ApplyOpts(opts docopt.Opts) error {
	if domain, err := opts.String("--domain"); err == nil {
		self.Domain = domain
	}
	if api, err := opts.String("--api"); err == nil {
		self.Api = api
	}
	if insecure, _ := opts.Bool("--insecure"); insecure {
		self.Insecure = true
	}
	if token, err := opts.String("--token"); err == nil {
		self.Token = token
	}
	if kind, err := opts.String("--store"); err == nil {
		self.Store = kind
	}
	if storePath, err := opts.String("--store_path"); err == nil {
		self.StorePath = storePath
	}
	if redisUrl, err := opts.String("--redis_url"); err == nil {
		self.RedisUrl = redisUrl
	}
	if metricsAddr, err := opts.String("--metrics_addr"); err == nil {
		self.MetricsAddr = metricsAddr
	}
	if timeoutStr, err := opts.String("--timeout"); err == nil {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		self.Timeout = timeout
	}
	return nil
}

func (self *Config) ClientSettings() *logd.ClientSettings {
	settings := logd.DefaultClientSettings()
	settings.Domain = self.Domain
	if self.Api != "" {
		settings.Api = self.Api
	}
	settings.Secure = !self.Insecure
	settings.ReconnectInterval = self.ReconnectInterval
	if self.Token != "" {
		settings.Session = &logd.Session{
			Token: self.Token,
		}
	}
	return settings
}

func (self *Config) StoreSettings() *store.StoreSettings {
	return &store.StoreSettings{
		Kind:     self.Store,
		Path:     self.StorePath,
		RedisUrl: self.RedisUrl,
		Domain:   self.Domain,
	}
}
