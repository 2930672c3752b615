// Package config loads siterun's application settings.
//
// Settings are layered with viper. Precedence, highest first: runtime
// overrides, SITERUN_* environment variables, the config file, defaults.
// The config file is optional; it is siterun.yaml in the working directory
// or the application data directory unless SetConfigFile names one.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/spf13/viper"
)

// AppName names the config file, env prefix and data directory.
const AppName = "siterun"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SITERUN"

// Config is the resolved application configuration.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Run         RunConfig         `mapstructure:"run"`
	Source      SourceConfig      `mapstructure:"source"`
	Consolidate ConsolidateConfig `mapstructure:"consolidate"`
	Store       StoreConfig       `mapstructure:"store"`
	Export      ExportConfig      `mapstructure:"export"`
	Server      ServerConfig      `mapstructure:"server"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// RunConfig tunes simulation dispatch and output reading.
type RunConfig struct {
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	LogDir    string        `mapstructure:"log_dir"`
	Probe     string        `mapstructure:"probe"`
}

// SourceConfig configures the ncdump array reader.
type SourceConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConsolidateConfig configures yearly-file merging.
type ConsolidateConfig struct {
	Command      string        `mapstructure:"command"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ExportConfig holds S3 connection settings for CSV export.
type ExportConfig struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Key  string
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile names an explicit config file; empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// DataDir returns the application data directory.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("logging.level", "info")

	v.SetDefault("run.workers", 1)
	v.SetDefault("run.timeout", "2h")
	v.SetDefault("run.rate_limit", 0)
	v.SetDefault("run.log_dir", filepath.Join(dataDir, "logs"))
	v.SetDefault("run.probe", "first")

	v.SetDefault("source.command", "ncdump")
	v.SetDefault("source.timeout", "2m")

	v.SetDefault("consolidate.command", "cdo")
	v.SetDefault("consolidate.timeout", "30m")
	v.SetDefault("consolidate.max_attempts", 1)
	v.SetDefault("consolidate.retry_backoff", "2s")

	v.SetDefault("store.path", filepath.Join(dataDir, "results.db"))

	v.SetDefault("export.region", "")
	v.SetDefault("export.endpoint", "")
	v.SetDefault("export.profile", "")
	v.SetDefault("export.force_path_style", false)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// getEnvSpecs lists the supported environment variables.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{EnvPrefix + "_LOG_LEVEL", "logging.level"},
		{EnvPrefix + "_WORKERS", "run.workers"},
		{EnvPrefix + "_RUN_TIMEOUT", "run.timeout"},
		{EnvPrefix + "_RATE_LIMIT", "run.rate_limit"},
		{EnvPrefix + "_LOG_DIR", "run.log_dir"},
		{EnvPrefix + "_PROBE", "run.probe"},
		{EnvPrefix + "_NCDUMP", "source.command"},
		{EnvPrefix + "_NCDUMP_TIMEOUT", "source.timeout"},
		{EnvPrefix + "_MERGE_COMMAND", "consolidate.command"},
		{EnvPrefix + "_MERGE_TIMEOUT", "consolidate.timeout"},
		{EnvPrefix + "_MERGE_ATTEMPTS", "consolidate.max_attempts"},
		{EnvPrefix + "_MERGE_BACKOFF", "consolidate.retry_backoff"},
		{EnvPrefix + "_STORE", "store.path"},
		{EnvPrefix + "_S3_REGION", "export.region"},
		{EnvPrefix + "_S3_ENDPOINT", "export.endpoint"},
		{EnvPrefix + "_S3_PROFILE", "export.profile"},
		{EnvPrefix + "_S3_PATH_STYLE", "export.force_path_style"},
		{EnvPrefix + "_SERVER_HOST", "server.host"},
		{EnvPrefix + "_SERVER_PORT", "server.port"},
		{EnvPrefix + "_READ_TIMEOUT", "server.read_timeout"},
		{EnvPrefix + "_WRITE_TIMEOUT", "server.write_timeout"},
		{EnvPrefix + "_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	}
}

// Load resolves the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	file := configFile
	configMu.RUnlock()

	v := viper.New()
	setDefaults(v)

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Key, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DataDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Run.Workers < 1 {
		problems = append(problems, "run.workers must be >= 1")
	}
	if c.Run.Timeout <= 0 {
		problems = append(problems, "run.timeout must be positive")
	}
	if c.Run.RateLimit < 0 {
		problems = append(problems, "run.rate_limit must be >= 0")
	}
	if c.Consolidate.Timeout <= 0 {
		problems = append(problems, "consolidate.timeout must be positive")
	}
	if c.Consolidate.MaxAttempts < 1 {
		problems = append(problems, "consolidate.max_attempts must be >= 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port out of range")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
