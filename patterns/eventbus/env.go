package eventbus

import (
	"fmt"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"strings"
)

// DefaultEnvPrefix is used by [EnvOptions] and [NewBusFromEnv] when no prefix is given.
const DefaultEnvPrefix = "WEAKBUS_"

// Underscores after the prefix map to dots, so WEAKBUS_ASYNC_WORKERS is read as async.workers.
type envConf struct {
	Consistency *bool `koanf:"consistency"`
	Shards      *int  `koanf:"shards"`
	AutoPrune   *bool `koanf:"autoprune"`
	Async       struct {
		Workers *int `koanf:"workers"`
		Queue   *int `koanf:"queue"`
	} `koanf:"async"`
}

// EnvOptions reads bus options from environment variables with the given prefix.
// Only variables that are set produce an [Option].
//
//	WEAKBUS_CONSISTENCY=true   -> PayloadConsistency(true)
//	WEAKBUS_SHARDS=64          -> ShardCount(64)
//	WEAKBUS_AUTOPRUNE=true     -> AutoPrune(true)
//	WEAKBUS_ASYNC_WORKERS=8    -> WithWorkerPool(8, queue)
//	WEAKBUS_ASYNC_QUEUE=128    -> queue size for the worker pool, defaults to the worker count
func EnvOptions(prefix string) ([]Option, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	k := koanf.New(".")
	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(key, prefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}
	var conf envConf
	if err := k.UnmarshalWithConf("", &conf, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	var opts []Option
	if conf.Consistency != nil {
		opts = append(opts, PayloadConsistency(*conf.Consistency))
	}
	if conf.Shards != nil {
		opts = append(opts, ShardCount(*conf.Shards))
	}
	if conf.AutoPrune != nil {
		opts = append(opts, AutoPrune(*conf.AutoPrune))
	}
	if conf.Async.Workers != nil {
		queue := *conf.Async.Workers
		if conf.Async.Queue != nil {
			queue = *conf.Async.Queue
		}
		opts = append(opts, WithWorkerPool(*conf.Async.Workers, queue))
	} else if conf.Async.Queue != nil {
		return nil, fmt.Errorf("%w: %sASYNC_QUEUE requires %sASYNC_WORKERS", ErrInvalidOption, prefix, prefix)
	}
	return opts, nil
}

// NewBusFromEnv creates a [Bus] configured by [EnvOptions].
// Explicit options are applied after the environment, so they take precedence.
func NewBusFromEnv(name, prefix string, opts ...Option) (*Bus, error) {
	envOpts, err := EnvOptions(prefix)
	if err != nil {
		return nil, err
	}
	return NewBus(name, append(envOpts, opts...)...)
}
