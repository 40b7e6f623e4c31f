package eventbus

import (
	"context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/saylorsolutions/weakbus/structures/registry"
	"github.com/saylorsolutions/weakbus/syncx"
)

// Bus dispatches published payloads to the handlers subscribed to an event.
// A Bus is safe for concurrent use, and needs no shutdown unless it owns a worker pool (see [WithWorkerPool]).
//
// Most operations are generic functions rather than methods, since Go methods can't have type parameters.
// The methods on Bus cover the operations that don't depend on a payload type.
type Bus struct {
	name      string
	enforce   bool
	autoPrune bool
	registry  *registry.Registry[Key]
	exec      syncx.Executor
	pool      *syncx.WorkerPool
	log       zerolog.Logger
	metrics   *metrics
}

// NewBus creates a [Bus] with the given name and options.
// If name is empty, then a unique name is generated.
func NewBus(name string, opts ...Option) (*Bus, error) {
	conf := defaultConf()
	for _, opt := range opts {
		if err := opt(conf); err != nil {
			return nil, err
		}
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = "bus-" + uuid.NewString()
	}
	b := &Bus{
		name:      name,
		enforce:   conf.enforce,
		autoPrune: conf.autoPrune,
		registry:  registry.New[Key](conf.shards),
		exec:      conf.exec,
		log:       conf.log.With().Str("bus", name).Logger(),
	}
	if conf.metrics != nil {
		m, err := newMetrics(conf.metrics)
		if err != nil {
			return nil, err
		}
		b.metrics = m
	}
	if conf.pool != nil {
		pool, err := syncx.NewWorkerPool(conf.pool.workers, conf.pool.queue, syncx.PoolLogger(b.log))
		if err != nil {
			return nil, err
		}
		b.pool = pool.Start()
		b.exec = pool
	}
	if b.exec == nil {
		b.exec = syncx.GoExecutor()
	}
	b.log.Debug().
		Bool("payloadConsistency", b.enforce).
		Bool("autoPrune", b.autoPrune).
		Int("shards", conf.shards).
		Msg("Created event bus")
	return b, nil
}

// Create is a shorthand for [NewBus] with only the payload consistency policy configured.
// It never fails.
func Create(name string, enforcePayloadConsistency bool) *Bus {
	b, err := NewBus(name, PayloadConsistency(enforcePayloadConsistency))
	if err != nil {
		panic("default bus configuration is invalid: " + err.Error())
	}
	return b
}

// Name returns the diagnostic name of the bus.
func (b *Bus) Name() string {
	return b.name
}

// PayloadConsistency reports whether the bus rejects mixed payload types for an event.
func (b *Bus) PayloadConsistency() bool {
	return b.enforce
}

// HasRegistrations reports whether the event has a subscription entry.
// An entry whose handlers have all expired still counts until it's pruned.
func (b *Bus) HasRegistrations(key Key) bool {
	return b.registry.HasKey(key)
}

// RemoveRegistrations removes every subscription for the event, live or expired.
func (b *Bus) RemoveRegistrations(key Key) {
	removed := b.registry.RemoveAll(key)
	if removed > 0 {
		b.metrics.addUnsubscribed(b.name, key, removed)
		b.log.Debug().Stringer("event", key).Int("removed", removed).Msg("Removed all registrations")
	}
}

// Keys returns the events that currently have a subscription entry, in no particular order.
func (b *Bus) Keys() []Key {
	return b.registry.Keys()
}

// Prune removes expired subscriptions for all events, and returns how many were removed.
func (b *Bus) Prune() int {
	var total int
	for _, key := range b.registry.Keys() {
		removed := b.registry.PruneKey(key)
		if removed > 0 {
			total += removed
			b.metrics.addUnsubscribed(b.name, key, removed)
		}
	}
	if total > 0 {
		b.log.Debug().Int("removed", total).Msg("Pruned expired registrations")
	}
	return total
}

// Close stops the worker pool owned by the bus, waiting for queued dispatches to finish or the context to be done.
// Dispatches published after Close are refused with [syncx.ErrExecutorStopped].
// Close does nothing if the bus doesn't own a worker pool.
func (b *Bus) Close(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.AwaitStop(ctx)
}
