// Package config loads fleetplan configuration from defaults, user config
// files, FLEETPLAN_* environment variables and runtime overrides, in that
// order of increasing precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Plans         PlansConfig         `mapstructure:"plans"`
	InstanceStore InstanceStoreConfig `mapstructure:"instance_store"`
	Source        SourceConfig        `mapstructure:"source"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// PlansConfig locates the plan registry.
type PlansConfig struct {
	Dir string `mapstructure:"dir"`
}

// InstanceStoreConfig locates the SQLite instance store. An empty path
// plans without persisting instance state.
type InstanceStoreConfig struct {
	Path string `mapstructure:"path"`
}

// SourceConfig configures s3:// manifest fetches.
type SourceConfig struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// RateLimitConfig caps plan API requests per second. Zero disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Identity names the application for config discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity Load installs when none is set.
var DefaultIdentity = Identity{BinaryName: "fleetplan", EnvPrefix: "FLEETPLAN_", ConfigName: "fleetplan"}

// EnvSpec maps an environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// SetIdentity overrides the identity used by subsequent loads.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

func setDefaults(v *viper.Viper, id *Identity) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	dataDir := gfconfig.GetAppDataDir(id.ConfigName)
	v.SetDefault("plans.dir", filepath.Join(dataDir, "plans"))
	v.SetDefault("instance_store.path", filepath.Join(dataDir, "instances.db"))

	v.SetDefault("source.region", "")
	v.SetDefault("source.endpoint", "")
	v.SetDefault("source.profile", "")
	v.SetDefault("source.force_path_style", false)

	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 10)
}

// getEnvSpecs lists the supported environment variables for the current
// identity. It is empty before an identity is installed.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return nil
	}
	p := appIdentity.EnvPrefix
	return []EnvSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "PLANS_DIR", Path: "plans.dir"},
		{Name: p + "INSTANCE_DB", Path: "instance_store.path"},
		{Name: p + "S3_REGION", Path: "source.region"},
		{Name: p + "S3_ENDPOINT", Path: "source.endpoint"},
		{Name: p + "S3_PROFILE", Path: "source.profile"},
		{Name: p + "S3_FORCE_PATH_STYLE", Path: "source.force_path_style"},
		{Name: p + "RATE_LIMIT_RPS", Path: "rate_limit.rps"},
		{Name: p + "RATE_LIMIT_BURST", Path: "rate_limit.burst"},
	}
}

// getUserConfigPaths returns candidate config files, lowest precedence
// first. It is empty before an identity is installed.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	name := appIdentity.ConfigName
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, name, "config.yaml"))
	}
	return append(paths, filepath.Join(gfconfig.GetAppDataDir(name), "config.yaml"))
}

// Load resolves configuration and installs it as the current config.
// Later overrides win over earlier ones and over everything else.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, appIdentity)

	for _, path := range getUserConfigPaths() {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		err = v.MergeConfig(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
