package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tanq16/danzo-agent/internal/event"
	"github.com/tanq16/danzo-agent/internal/httpstate"
	"github.com/tanq16/danzo-agent/internal/registry"
	"github.com/tanq16/danzo-agent/internal/storage"
	"github.com/tanq16/danzo-agent/internal/utils"
)

// Config holds the agent-wide settings. Start from DefaultConfig: non-positive
// sizes and durations fall back to their defaults, while MaxRetries and
// DiskSafetyMargin accept zero.
type Config struct {
	MaxDownloads int    `yaml:"max_downloads"`
	InstallPath  string `yaml:"install_path"`

	UserAgent     string        `yaml:"user_agent"`
	ProxyURL      string        `yaml:"proxy"`
	ProxyUsername string        `yaml:"proxy_username"`
	ProxyPassword string        `yaml:"proxy_password"`
	Timeout       time.Duration `yaml:"timeout"`
	KATimeout     time.Duration `yaml:"keep_alive_timeout"`
	TunedSockets  bool          `yaml:"tuned_sockets"`

	QueueBytes       int           `yaml:"queue_bytes"`
	StageBytes       int           `yaml:"stage_bytes"`
	RetryWait        time.Duration `yaml:"retry_wait"`
	MaxRetryWait     time.Duration `yaml:"max_retry_wait"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxRedirects     int           `yaml:"max_redirects"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	DiskSafetyMargin int64         `yaml:"disk_safety_margin"`
}

func DefaultConfig() Config {
	machine := httpstate.DefaultConfig()
	return Config{
		MaxDownloads:     registry.DefaultCapacity,
		InstallPath:      ".",
		UserAgent:        utils.DefaultUserAgent,
		Timeout:          60 * time.Second,
		KATimeout:        60 * time.Second,
		QueueBytes:       event.DefaultMaxBytes,
		StageBytes:       storage.DefaultStageSize,
		RetryWait:        machine.RetryWait,
		MaxRetryWait:     machine.MaxRetryWait,
		MaxRetries:       machine.MaxRetries,
		MaxRedirects:     machine.MaxRedirects,
		ProgressInterval: machine.ProgressInterval,
		DiskSafetyMargin: machine.DiskSafetyMargin,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %v", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxDownloads <= 0 {
		c.MaxDownloads = def.MaxDownloads
	}
	if c.InstallPath == "" {
		c.InstallPath = def.InstallPath
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.KATimeout <= 0 {
		c.KATimeout = def.KATimeout
	}
	if c.QueueBytes <= 0 {
		c.QueueBytes = def.QueueBytes
	}
	if c.StageBytes <= 0 {
		c.StageBytes = def.StageBytes
	}
	if c.RetryWait <= 0 {
		c.RetryWait = def.RetryWait
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = def.MaxRetryWait
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = def.MaxRedirects
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	if c.DiskSafetyMargin < 0 {
		c.DiskSafetyMargin = def.DiskSafetyMargin
	}
	return c
}

func (c Config) clientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:       c.Timeout,
		KATimeout:     c.KATimeout,
		ProxyURL:      c.ProxyURL,
		ProxyUsername: c.ProxyUsername,
		ProxyPassword: c.ProxyPassword,
		UserAgent:     c.UserAgent,
		TunedSockets:  c.TunedSockets,
	}
}

func (c Config) machineConfig() httpstate.Config {
	return httpstate.Config{
		UserAgent:        c.UserAgent,
		StageBytes:       c.StageBytes,
		RetryWait:        c.RetryWait,
		MaxRetryWait:     c.MaxRetryWait,
		MaxRetries:       c.MaxRetries,
		MaxRedirects:     c.MaxRedirects,
		ProgressInterval: c.ProgressInterval,
		DiskSafetyMargin: c.DiskSafetyMargin,
	}
}
