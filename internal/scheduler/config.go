package scheduler

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// SchedulerConfig is the tunable surface of a Scheduler, loaded the way
// internal/platform/config loads everything else in this repository: a
// base read from an optional config file via viper, then overridden by
// INFERENCE_-prefixed environment variables via envconfig. Field defaults
// below match the Python original's BaseSettings exactly.
type SchedulerConfig struct {
	// PoolWorkers is the number of OS processes in the Worker Pool.
	PoolWorkers int `mapstructure:"pool_workers" envconfig:"POOL_WORKERS" default:"1"`

	// UseGPU is passed through to the worker subprocess bootstrap; the
	// scheduler itself never inspects it (spec.md §4.1 treats model internals
	// as opaque).
	UseGPU bool `mapstructure:"use_gpu" envconfig:"USE_GPU" default:"true"`

	// Warmup, if true, causes the worker subprocess to invoke Model.Prepare
	// (if implemented) once at startup before accepting batches.
	Warmup bool `mapstructure:"warmup" envconfig:"WARMUP" default:"true"`

	// MaxBatchSize bounds how many items a single dispatched batch may carry
	// (spec.md §4.3).
	MaxBatchSize int `mapstructure:"max_batch_size" envconfig:"MAX_BATCH_SIZE" default:"32"`

	// MaxBatchWaitSeconds is how long the first item of a batch waits before
	// the batch is emitted regardless of size (spec.md §4.3). When the
	// fill-threshold extension applies, the batcher waits once more for half
	// of this, so the first item waits at most 1.5 times this value.
	MaxBatchWaitSeconds float64 `mapstructure:"max_batch_wait_time" envconfig:"MAX_BATCH_WAIT_TIME" default:"0.05"`

	// FillQueueSizeThreshold is the shared dispatch queue depth above which a
	// batcher holds off emitting an under-full batch, betting that downstream
	// is already saturated enough that a bit more fill time is a pure
	// throughput win (spec.md §4.3, §9).
	FillQueueSizeThreshold int `mapstructure:"fill_queue_size_threshold" envconfig:"FILL_QUEUE_SIZE_THRESHOLD" default:"3"`

	// ModelCacheDir is forwarded to the worker subprocess bootstrap for
	// models that cache weights on disk; the scheduler does not read it.
	ModelCacheDir string `mapstructure:"model_cache_dir" envconfig:"MODEL_CACHE_DIR" default:""`
}

// LoadSchedulerConfig mirrors config.Config.Load: an optional file layer
// first (viper, silently skipped if absent), then an env var layer
// (envconfig, INFERENCE_ prefix) that always wins. configPath may be empty to
// skip the file layer entirely.
func LoadSchedulerConfig(configPath string) (SchedulerConfig, error) {
	cfg := SchedulerConfig{}

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("scheduler: reading config file %s: %w", configPath, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("scheduler: decoding config file %s: %w", configPath, err)
		}
	}

	if err := envconfig.Process("inference", &cfg); err != nil {
		return cfg, fmt.Errorf("scheduler: applying INFERENCE_ env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c SchedulerConfig) validate() error {
	var problems []string
	if c.PoolWorkers < 1 {
		problems = append(problems, "pool_workers must be >= 1")
	}
	if c.MaxBatchSize < 1 {
		problems = append(problems, "max_batch_size must be >= 1")
	}
	if c.MaxBatchWaitSeconds <= 0 {
		problems = append(problems, "max_batch_wait_time must be > 0")
	}
	if c.FillQueueSizeThreshold < 0 {
		problems = append(problems, "fill_queue_size_threshold must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("scheduler: invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
