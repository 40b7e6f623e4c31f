/*
Package eventbus provides an in-process, typed publish/subscribe bus that doesn't keep its subscribers alive.

# Design Priorities

Here are the design priorities of the implementation:

  - Subscribers shouldn't need to unsubscribe to be collected. Method handlers hold their receiver weakly, and expire when it's collected.
  - Registration and dispatch are type checked at compile time, using type parameters for the event and payload types.
  - Any goroutine may subscribe, unsubscribe, and publish concurrently, without a single lock serializing unrelated events.
  - Subscribing is the only fallible operation. Publishing, unsubscribing, and queries never fail, so they're safe to use in hot loops.

# Events and Payloads

An event is identified by a marker type that is never instantiated, and is used only to create a [Key].
A payload may be any type, and a handler is subscribed for exactly one payload type.

	type UserCreated struct{}

	type User struct {
		Name string
	}

Note that a payload is only delivered to handlers subscribed with the exact same payload type.
Publishing a payload with an interface type won't reach handlers subscribed for a concrete type.

# Bus Initialization

Use [NewBus] to create a [Bus] with options, [Create] for the common case of only configuring the payload consistency policy,
or [NewBusFromEnv] to read options from environment variables.

When the bus is created with [PayloadConsistency], all live handlers of an event must accept the same payload type.
Subscribing a handler with a different payload type fails with a [PayloadMixtureError].

# Subscribing

There are a few ways to subscribe a handler, depending on how long it should live:
  - [Subscribe] adds a static function, which never expires.
  - [SubscribeMethod] adds a method expression bound to a weakly held receiver.
  - [SubscribeHandler] adds a weakly held receiver that implements [weakref.Handler].
  - [SubscribeRef] adds a reference created with the weakref package, e.g. to keep the receiver alive.

Subscribing the same handler twice has no effect.
Expired handlers are skipped when publishing and omitted from queries, but they're only removed from the bus when the event's subscriptions change,
when [Bus.Prune] is called, or shortly after collection with [AutoPrune] enabled.
This means that [HasRegistrations] may report true for an event whose handlers have all expired.

# Publishing

[Publish] calls every live handler of the event on the calling goroutine, in subscription order.
[PublishAsync] runs the same dispatch on the bus' [syncx.Executor], and returns a [syncx.Future] that resolves once dispatch has finished.

Neither has a timeout or cancellation, so a handler that blocks will stall its dispatch.
Liveness is checked when a handler is resolved from the dispatch snapshot, not atomically with the call,
so handlers should be safe to call concurrently with their own unsubscription.

[syncx.Executor]: github.com/saylorsolutions/weakbus/syncx
[syncx.Future]: github.com/saylorsolutions/weakbus/syncx
*/
package eventbus
