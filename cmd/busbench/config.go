package main

import (
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
	"os"
	"strings"
	"time"
)

const (
	envPrefix = "BUSBENCH_"
	modeSync  = "sync"
	modeAsync = "async"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Config is loaded from defaults, then an optional YAML file, then BUSBENCH_ environment variables, then flags.
// Underscores in environment variables and dashes in flags map to dots, so BUSBENCH_ASYNC_WORKERS and --async-workers both set async.workers.
type Config struct {
	Publishers  int           `koanf:"publishers" validate:"min=1"`
	Messages    int           `koanf:"messages" validate:"min=1"`
	Subscribers int           `koanf:"subscribers" validate:"min=1"`
	Mode        string        `koanf:"mode" validate:"oneof=sync async"`
	Consistency bool          `koanf:"consistency"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	Async       AsyncConfig   `koanf:"async"`
	Log         LogConfig     `koanf:"log"`
}

// AsyncConfig sets up a worker pool for async mode.
// With zero workers, each dispatch gets its own goroutine.
type AsyncConfig struct {
	Workers int `koanf:"workers" validate:"min=0"`
	Queue   int `koanf:"queue" validate:"min=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

func defaultConfigMap() map[string]any {
	return map[string]any{
		"publishers":    3,
		"messages":      1000,
		"subscribers":   3,
		"mode":          modeSync,
		"consistency":   true,
		"timeout":       30 * time.Second,
		"async.workers": 0,
		"async.queue":   0,
		"log.level":     "info",
		"log.format":    "console",
	}
}

func newFlagSet() *flag.FlagSet {
	defaults := defaultConfigMap()
	fs := flag.NewFlagSet("busbench", flag.ContinueOnError)
	fs.String("config", "", "Path to a YAML config file")
	fs.IntP("publishers", "p", defaults["publishers"].(int), "Number of concurrent publishers")
	fs.IntP("messages", "m", defaults["messages"].(int), "Number of messages sent by each publisher")
	fs.IntP("subscribers", "s", defaults["subscribers"].(int), "Number of subscribers, each of which must see every message exactly once")
	fs.String("mode", defaults["mode"].(string), "Publish mode, either 'sync' or 'async'")
	fs.Bool("consistency", defaults["consistency"].(bool), "Enforce a single payload type per event")
	fs.Duration("timeout", defaults["timeout"].(time.Duration), "Maximum duration of the run")
	fs.Int("async-workers", defaults["async.workers"].(int), "Size of the worker pool used in async mode, 0 starts a goroutine per dispatch")
	fs.Int("async-queue", defaults["async.queue"].(int), "Queue size of the worker pool")
	fs.String("log-level", defaults["log.level"].(string), "Log level, one of trace, debug, info, warn, or error")
	fs.String("log-format", defaults["log.format"].(string), "Log format, either 'console' or 'json'")
	return fs
}

// LoadConfig parses args and layers the configuration sources.
// [flag.ErrHelp] is returned if usage was requested.
func LoadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultConfigMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}
	if path, _ := fs.GetString("config"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("error checking config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(key, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}
	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *flag.Flag) (string, any) {
		if f.Name == "config" {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "."), posflag.FlagVal(fs, f)
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading command-line flags: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Async.Queue > 0 && c.Async.Workers == 0 {
		return fmt.Errorf("%w: async.queue requires async.workers", ErrInvalidConfig)
	}
	return nil
}

// Expected is the number of deliveries a run should observe.
func (c *Config) Expected() int64 {
	return int64(c.Publishers) * int64(c.Messages) * int64(c.Subscribers)
}
