package eventbus

import (
	"fmt"
	"github.com/saylorsolutions/weakbus/syncx"
	"github.com/saylorsolutions/weakbus/weakref"
)

// Publish synchronously delivers the payload to every live handler of the event E that accepts payloads of type P,
// in the order they were subscribed.
//
// Handlers are read from a snapshot taken when Publish is called, so a handler may still be called after it's concurrently unsubscribed.
// Handlers with an expired receiver, or a different payload type, are skipped.
// Publishing an event with no subscriptions does nothing.
//
// A panic in a handler propagates to the caller, and the remaining handlers aren't called.
func Publish[E, P any](b *Bus, payload P) {
	dispatch(b, KeyOf[E](), payload)
}

// PublishAsync schedules [Publish] on the bus' executor and returns without waiting for handlers to run.
// The returned future resolves once dispatch has finished with:
//   - nil if all handlers were called.
//   - [ErrHandlerPanic] if a handler panicked. The panic is logged and the remaining handlers aren't called.
//   - The executor's error if the dispatch couldn't be scheduled, e.g. [syncx.ErrExecutorStopped].
//
// There is no ordering between concurrent asynchronous dispatches, but handlers within a dispatch are called in subscription order.
func PublishAsync[E, P any](b *Bus, payload P) syncx.Future[error] {
	key := KeyOf[E]()
	future := syncx.NewFuture[error]()
	err := b.exec.Submit(func() {
		future.Resolve(b.recoverDispatch(key, func() {
			dispatch(b, key, payload)
		}))
	})
	if err != nil {
		b.metrics.incAsyncFailure(b.name, key, reasonRefused)
		b.log.Warn().Err(err).Stringer("event", key).Msg("Failed to schedule asynchronous dispatch")
		future.Resolve(err)
	}
	return future
}

func dispatch[P any](b *Bus, key Key, payload P) {
	refs := b.registry.Snapshot(key)
	b.metrics.incPublished(b.name, key)
	if len(refs) == 0 {
		return
	}
	var delivered, expired int
	defer func() {
		// Recorded even when a handler panics.
		b.metrics.addDelivered(b.name, key, delivered)
		b.metrics.addExpired(b.name, key, expired)
	}()
	for _, ref := range refs {
		typed, ok := ref.(weakref.Resolver[P])
		if !ok {
			continue
		}
		handler, ok := typed.Resolve()
		if !ok {
			expired++
			b.log.Trace().Stringer("event", key).Str("handler", ref.Name()).Msg("Skipped expired handler")
			continue
		}
		delivered++
		handler(payload)
	}
}

func (b *Bus) recoverDispatch(key Key, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.incAsyncFailure(b.name, key, reasonPanic)
			b.log.Error().
				Stringer("event", key).
				Interface("panic", r).
				Msg("Recovered panic from asynchronous dispatch")
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	fn()
	return nil
}
