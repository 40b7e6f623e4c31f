package eventbus

import (
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/saylorsolutions/weakbus/structures/registry"
	"github.com/saylorsolutions/weakbus/syncx"
)

type busConf struct {
	enforce   bool
	exec      syncx.Executor
	pool      *poolConf
	log       zerolog.Logger
	metrics   prometheus.Registerer
	shards    int
	autoPrune bool
}

type poolConf struct {
	workers int
	queue   int
}

func defaultConf() *busConf {
	return &busConf{
		log:    zerolog.Nop(),
		shards: registry.DefaultShards,
	}
}

func (c *busConf) validate() error {
	var errs []error
	if c.shards < 1 {
		errs = append(errs, fmt.Errorf("%w: shard count must be >= 1, got %d", ErrInvalidOption, c.shards))
	}
	if c.exec != nil && c.pool != nil {
		errs = append(errs, fmt.Errorf("%w: an executor and a worker pool cannot both be configured", ErrInvalidOption))
	}
	if c.pool != nil {
		if c.pool.workers < 1 {
			errs = append(errs, fmt.Errorf("%w: worker count must be >= 1, got %d", ErrInvalidOption, c.pool.workers))
		}
		if c.pool.queue < 0 {
			errs = append(errs, fmt.Errorf("%w: queue size must be >= 0, got %d", ErrInvalidOption, c.pool.queue))
		}
	}
	return errors.Join(errs...)
}

// Option configures a [Bus] when it's created.
type Option func(conf *busConf) error

// PayloadConsistency enables or disables enforcement of a single payload type per event.
// When enabled, subscribing a handler with a different payload type than the live handlers of the same event fails with [ErrPayloadMixture].
func PayloadConsistency(enforce bool) Option {
	return func(conf *busConf) error {
		conf.enforce = enforce
		return nil
	}
}

// WithExecutor sets the [syncx.Executor] that runs [PublishAsync] dispatches.
// The caller remains responsible for stopping the executor, if needed.
// By default, a new goroutine is started for each dispatch.
func WithExecutor(exec syncx.Executor) Option {
	return func(conf *busConf) error {
		if exec == nil {
			return fmt.Errorf("%w: nil executor", ErrInvalidOption)
		}
		conf.exec = exec
		return nil
	}
}

// WithWorkerPool makes the [Bus] run [PublishAsync] dispatches on its own [syncx.WorkerPool].
// The pool is stopped by [Bus.Close].
func WithWorkerPool(workers, queueSize int) Option {
	return func(conf *busConf) error {
		conf.pool = &poolConf{
			workers: workers,
			queue:   queueSize,
		}
		return nil
	}
}

// WithLogger sets the logger used for diagnostics.
// Nothing is logged by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(conf *busConf) error {
		conf.log = logger
		return nil
	}
}

// WithMetrics registers the bus' collectors with the given registerer.
// Multiple buses may share a registerer, since collectors are labeled by bus name.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(conf *busConf) error {
		if reg == nil {
			return fmt.Errorf("%w: nil metrics registerer", ErrInvalidOption)
		}
		conf.metrics = reg
		return nil
	}
}

// ShardCount overrides [registry.DefaultShards] for the bus' registry.
func ShardCount(shards int) Option {
	return func(conf *busConf) error {
		conf.shards = shards
		return nil
	}
}

// AutoPrune makes the bus prune an event's dead subscriptions shortly after a weakly held receiver is collected.
// Without it, dead subscriptions are only removed when the event's subscriptions are changed, or by [Bus.Prune].
func AutoPrune(enabled bool) Option {
	return func(conf *busConf) error {
		conf.autoPrune = enabled
		return nil
	}
}
