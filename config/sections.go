package config

import (
	"time"

	"github.com/appraisio/acore/logger"
	"github.com/spf13/viper"
)

// Scheduler scheduler config struct
type Scheduler struct {
	MaxWorkers        int
	QueueSize         int
	DefaultMaxRetries int
	DefaultRetryDelay time.Duration
	DefaultTimeout    time.Duration
	CleanupMaxAge     time.Duration
}

// Tracker status tracker config struct
type Tracker struct {
	TotalSteps    int
	CleanupMaxAge time.Duration
}

// Cache result cache config struct
type Cache struct {
	MaxSize       int
	DefaultTTL    time.Duration
	NamespaceTTLs map[string]time.Duration
}

// Redis snapshot store config struct
type Redis struct {
	Addr         string
	Username     string
	Password     string
	Db           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "acore")
	v.SetDefault("run_mode", "debug")

	v.SetDefault("scheduler.max_workers", 5)
	v.SetDefault("scheduler.queue_size", 1000)
	v.SetDefault("scheduler.default_max_retries", 3)
	v.SetDefault("scheduler.default_retry_delay", time.Second)
	v.SetDefault("scheduler.default_timeout", time.Duration(0))
	v.SetDefault("scheduler.cleanup_max_age", 24*time.Hour)

	v.SetDefault("tracker.total_steps", 11)
	v.SetDefault("tracker.cleanup_max_age", 24*time.Hour)

	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.default_ttl", time.Hour)

	v.SetDefault("logger.level", 4)
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
}

func getSchedulerConfig(v *viper.Viper) *Scheduler {
	return &Scheduler{
		MaxWorkers:        v.GetInt("scheduler.max_workers"),
		QueueSize:         v.GetInt("scheduler.queue_size"),
		DefaultMaxRetries: v.GetInt("scheduler.default_max_retries"),
		DefaultRetryDelay: v.GetDuration("scheduler.default_retry_delay"),
		DefaultTimeout:    v.GetDuration("scheduler.default_timeout"),
		CleanupMaxAge:     v.GetDuration("scheduler.cleanup_max_age"),
	}
}

func getTrackerConfig(v *viper.Viper) *Tracker {
	return &Tracker{
		TotalSteps:    v.GetInt("tracker.total_steps"),
		CleanupMaxAge: v.GetDuration("tracker.cleanup_max_age"),
	}
}

func getCacheConfig(v *viper.Viper) *Cache {
	ttls := make(map[string]time.Duration)
	for ns, raw := range v.GetStringMapString("cache.namespace_ttls") {
		if d, err := time.ParseDuration(raw); err == nil {
			ttls[ns] = d
		}
	}
	return &Cache{
		MaxSize:       v.GetInt("cache.max_size"),
		DefaultTTL:    v.GetDuration("cache.default_ttl"),
		NamespaceTTLs: ttls,
	}
}

func getRedisConfig(v *viper.Viper) *Redis {
	return &Redis{
		Addr:         v.GetString("redis.addr"),
		Username:     v.GetString("redis.username"),
		Password:     v.GetString("redis.password"),
		Db:           v.GetInt("redis.db"),
		ReadTimeout:  v.GetDuration("redis.read_timeout"),
		WriteTimeout: v.GetDuration("redis.write_timeout"),
		DialTimeout:  v.GetDuration("redis.dial_timeout"),
	}
}

func getLoggerConfig(v *viper.Viper) *logger.Config {
	return &logger.Config{
		Level:      v.GetInt("logger.level"),
		Format:     v.GetString("logger.format"),
		Output:     v.GetString("logger.output"),
		OutputFile: v.GetString("logger.output_file"),
	}
}
