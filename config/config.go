package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/appraisio/acore/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	mu     sync.Mutex
)

// Config represents the orchestration core configuration.
type Config struct {
	AppName   string
	RunMode   string
	Scheduler *Scheduler
	Tracker   *Tracker
	Cache     *Cache
	Redis     *Redis
	Logger    *logger.Config
	Viper     *viper.Viper
}

// GetConfig returns the loaded configuration, loading defaults when no file
// was ever read.
func GetConfig() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		cfg, err := LoadConfig("")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
		config = cfg
	}
	return config, nil
}

// LoadConfig loads the configuration from the file. An empty path yields a
// configuration of defaults and environment overrides only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("acore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	cfg := fromViper(v)

	mu.Lock()
	config = cfg
	mu.Unlock()

	return cfg, nil
}

// Watch reloads the configuration when the underlying file changes and
// invokes onChange with the fresh configuration.
func Watch(cfg *Config, onChange func(*Config)) {
	if cfg == nil || cfg.Viper == nil {
		return
	}
	v := cfg.Viper
	v.OnConfigChange(func(e fsnotify.Event) {
		fresh := fromViper(v)
		mu.Lock()
		config = fresh
		mu.Unlock()
		if onChange != nil {
			onChange(fresh)
		}
	})
	v.WatchConfig()
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		AppName:   v.GetString("app_name"),
		RunMode:   v.GetString("run_mode"),
		Scheduler: getSchedulerConfig(v),
		Tracker:   getTrackerConfig(v),
		Cache:     getCacheConfig(v),
		Redis:     getRedisConfig(v),
		Logger:    getLoggerConfig(v),
		Viper:     v,
	}
}
