package config

import (
	"fmt"
	"os"
	"time"

	"github.com/nougatpkg/nougat/internal/content"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Storage   Storage   `yaml:"storage"`
	Search    Search    `yaml:"search"`
	Mirror    Mirror    `yaml:"mirror"`
	Packages  Packages  `yaml:"packages"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Database struct {
	Backend string `yaml:"backend"` // sqlite
	Path    string `yaml:"path"`
}

type Storage struct {
	Backend string           `yaml:"backend"` // filesystem, s3
	Path    string           `yaml:"path"`
	S3      content.S3Config `yaml:"s3"`
}

type Search struct {
	Backend string `yaml:"backend"` // null, database
}

type Mirror struct {
	Enabled     bool          `yaml:"enabled"`
	UpstreamURL string        `yaml:"upstream_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Packages struct {
	AllowOverwrite bool   `yaml:"allow_overwrite"`
	DeleteBehavior string `yaml:"delete_behavior"` // unlist, hard-delete
}

type RateLimit struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	return LoadFromFile("config/config.yaml")
}

// LoadFromFile loads the configuration from the specified file
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Storage.Backend == "filesystem" {
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	if err := os.MkdirAll(cfg.Database.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Database.Backend == "" {
		c.Database.Backend = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "filesystem"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/packages"
	}
	if c.Search.Backend == "" {
		c.Search.Backend = "database"
	}
	if c.Mirror.Timeout == 0 {
		c.Mirror.Timeout = 2 * time.Minute
	}
	if c.Packages.DeleteBehavior == "" {
		c.Packages.DeleteBehavior = "unlist"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Filename == "" {
		c.Log.Filename = "logs/nougat.log"
	}
}
