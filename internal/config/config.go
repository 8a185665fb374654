package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"bankintake/internal/domain"
	"bankintake/internal/refno"
)

const (
	FileName  = "intake.yml"
	EnvPrefix = "INTAKE"
)

// Config models intake.yml.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	RefNo   RefNoConfig   `mapstructure:"refno" yaml:"refno"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
	// JWTSecret enables bearer auth on staff operations when set.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	MongoURI      string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

type CacheConfig struct {
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

func (c CacheConfig) Enabled() bool { return c.RedisAddr != "" }

func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

type RefNoConfig struct {
	MaxAttempts int                     `mapstructure:"max_attempts" yaml:"max_attempts"`
	Schemes     map[string]refno.Scheme `mapstructure:"schemes" yaml:"schemes"`
}

// FamilySchemes converts the configured schemes to generator input.
func (c RefNoConfig) FamilySchemes() map[domain.Family]refno.Scheme {
	out := refno.DefaultSchemes()
	for name, s := range c.Schemes {
		if f, ok := domain.FamilyFromPlural(name); ok {
			out[f] = s
		}
	}
	return out
}

type AdminConfig struct {
	RecentLimit int `mapstructure:"recent_limit" yaml:"recent_limit"`
	SearchLimit int `mapstructure:"search_limit" yaml:"search_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the stock configuration: SQLite in .intake/, no cache, no auth.
func Default() *Config {
	schemes := map[string]refno.Scheme{}
	for f, s := range refno.DefaultSchemes() {
		schemes[string(f)] = s
	}
	return &Config{
		Server:  ServerConfig{Addr: "127.0.0.1:8080", BasePath: "/api"},
		Store:   StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(".intake", "intake.db"), MongoDatabase: "intake"},
		Cache:   CacheConfig{TTLSeconds: 300},
		RefNo:   RefNoConfig{MaxAttempts: 3, Schemes: schemes},
		Admin:   AdminConfig{RecentLimit: 10, SearchLimit: 5},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("config.store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("config.store.postgres_dsn is required for the postgres driver")
		}
	case "mongo":
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return errors.New("config.store.mongo_uri and mongo_database are required for the mongo driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite, postgres or mongo, got %q", c.Store.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.RefNo.MaxAttempts < 1 {
		return errors.New("config.refno.max_attempts must be at least 1")
	}
	for name, s := range c.RefNo.Schemes {
		if _, ok := domain.FamilyFromPlural(name); !ok {
			return fmt.Errorf("config.refno.schemes has unknown family %s", name)
		}
		if s.Prefix == "" {
			return fmt.Errorf("config.refno.schemes.%s.prefix is required", name)
		}
		if s.Style != refno.StyleDated && s.Style != refno.StyleEpoch {
			return fmt.Errorf("config.refno.schemes.%s.style must be dated or epoch", name)
		}
	}
	if c.Cache.Enabled() && c.Cache.TTLSeconds <= 0 {
		return errors.New("config.cache.ttl_seconds must be positive when redis is enabled")
	}
	if c.Admin.RecentLimit < 1 || c.Admin.SearchLimit < 1 {
		return errors.New("config.admin limits must be positive")
	}
	return nil
}

// Path returns the config file path for a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() (string, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Load reads path (optional) over the defaults, then INTAKE_* environment
// overrides, using a fresh viper instance.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-owned viper, so bound command flags apply.
// A .env file in the working directory is loaded first when present.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	v.SetConfigType("yaml")
	if err := v.MergeConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("invalid config yaml %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
