// Package config loads deview settings from defaults, an optional YAML
// file, an optional .env file and DEVIEW_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBbolt    = "bbolt"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	envPrefix = "DEVIEW_"

	DefaultListen      = "127.0.0.1:8080"
	DefaultDatabaseURL = "postgres://review@localhost/review"
	DefaultExpiresIn   = 3600
)

var (
	ErrInvalidExpiresIn = errors.New("jwt.expires_in must be between 1 and 4294967295 seconds")
	ErrUnknownBackend   = errors.New("unknown storage backend")
	ErrTLSIncomplete    = errors.New("tls_cert and tls_key must be set together")
)

// Config is the complete server configuration.
type Config struct {
	Listen                string        `yaml:"listen"`
	DataDir               string        `yaml:"data_dir"`
	BackupDir             string        `yaml:"backup_dir"`
	DatabaseURL           string        `yaml:"database_url"`
	CACerts               []string      `yaml:"ca_certs"`
	TLSCert               string        `yaml:"tls_cert"`
	TLSKey                string        `yaml:"tls_key"`
	TrustedProxies        []string      `yaml:"trusted_proxies"`
	UniformFailureMessage bool          `yaml:"uniform_failure_message"`
	Storage               StorageConfig `yaml:"storage"`
	JWT                   JWTConfig     `yaml:"jwt"`
	Log                   LogConfig     `yaml:"log"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// JWTConfig holds the token policy. An empty Secret means the server picks
// a random one at startup.
type JWTConfig struct {
	Secret    string `yaml:"secret"`
	ExpiresIn int64  `yaml:"expires_in"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
// Relative directories are resolved against the working directory.
func Default() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		Listen:      DefaultListen,
		DataDir:     filepath.Join(wd, "data"),
		BackupDir:   filepath.Join(wd, "backup"),
		DatabaseURL: DefaultDatabaseURL,
		Storage: StorageConfig{
			Backend: BackendBbolt,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		JWT: JWTConfig{ExpiresIn: DefaultExpiresIn},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty, in which case no YAML
// file is read. A .env file in the working directory is loaded if present;
// it never overrides variables that are already set.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = splitList(v)
		}
	}

	str("LISTEN", &c.Listen)
	str("DATA_DIR", &c.DataDir)
	str("BACKUP_DIR", &c.BackupDir)
	str("DATABASE_URL", &c.DatabaseURL)
	list("CA_CERTS", &c.CACerts)
	str("TLS_CERT", &c.TLSCert)
	str("TLS_KEY", &c.TLSKey)
	list("TRUSTED_PROXIES", &c.TrustedProxies)
	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("REDIS_ADDR", &c.Storage.Redis.Addr)
	str("REDIS_USERNAME", &c.Storage.Redis.Username)
	str("REDIS_PASSWORD", &c.Storage.Redis.Password)
	str("REDIS_PREFIX", &c.Storage.Redis.Prefix)
	str("JWT_SECRET", &c.JWT.Secret)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(envPrefix + "UNIFORM_FAILURE_MESSAGE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sUNIFORM_FAILURE_MESSAGE: %w", envPrefix, err)
		}
		c.UniformFailureMessage = b
	}
	if v, ok := lookup(envPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", envPrefix, err)
		}
		c.Storage.Redis.DB = n
	}
	if v, ok := lookup(envPrefix + "JWT_EXPIRES_IN"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sJWT_EXPIRES_IN: %w", envPrefix, err)
		}
		c.JWT.ExpiresIn = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.JWT.ExpiresIn <= 0 || c.JWT.ExpiresIn > math.MaxUint32 {
		return ErrInvalidExpiresIn
	}
	switch c.Storage.Backend {
	case BackendBbolt, BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return ErrTLSIncomplete
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ExpiresIn returns the validated token lifetime in seconds.
func (c *Config) ExpiresIn() uint32 {
	return uint32(c.JWT.ExpiresIn)
}

// NewLogger builds the process logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
