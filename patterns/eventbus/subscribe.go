package eventbus

import (
	"fmt"
	"github.com/saylorsolutions/weakbus/structures/registry"
	"github.com/saylorsolutions/weakbus/weakref"
	"reflect"
	"runtime"
	"weak"
)

// Subscribe adds a static function handler for payloads of type P published to the event E.
// Static handlers never expire, so they must be removed with [Unsubscribe] or [RemoveTypeRegistrations].
//
// Subscribing the same function value again has no effect.
// Each evaluation of a method value (recv.Method) or a capturing closure is a distinct handler,
// so keep the subscribed value to pass it to [Unsubscribe], or use [SubscribeMethod] to match by receiver and method.
func Subscribe[E, P any](b *Bus, fn func(P)) error {
	ref, err := weakref.Static(fn)
	if err != nil {
		return err
	}
	_, err = add[E, P](b, ref)
	return err
}

// SubscribeMethod adds a handler that calls method on recv, where method is a method expression like (*Counter).Increment.
// The receiver is held weakly, and the subscription expires once the receiver is collected.
//
// Note that passing a method value (recv.Increment) to [Subscribe] instead keeps the receiver alive.
func SubscribeMethod[E, P, R any](b *Bus, recv *R, method func(*R, P)) error {
	ref, err := weakref.Bind(recv, method, false)
	if err != nil {
		return err
	}
	added, err := add[E, P](b, ref)
	if added {
		watch(b, KeyOf[E](), recv)
	}
	return err
}

// SubscribeHandler adds a receiver implementing [weakref.Handler] for the payload type P.
// The receiver is held weakly, the same as [SubscribeMethod].
func SubscribeHandler[E, P, R any, H interface {
	*R
	weakref.Handler[P]
}](b *Bus, recv H) error {
	ref, err := weakref.BindHandler[R, P, H](recv, false)
	if err != nil {
		return err
	}
	added, err := add[E, P](b, ref)
	if added {
		watch(b, KeyOf[E](), (*R)(recv))
	}
	return err
}

// SubscribeRef adds a reference that was already created, e.g. with [weakref.Bind] and keepAlive set.
func SubscribeRef[E, P any](b *Bus, ref weakref.Resolver[P]) error {
	if isNil(ref) {
		return fmt.Errorf("%w: nil reference", ErrInvalidHandler)
	}
	_, err := add[E, P](b, ref)
	return err
}

func add[E, P any](b *Bus, ref weakref.Resolver[P]) (bool, error) {
	key := KeyOf[E]()
	var guard registry.Guard
	if b.enforce {
		guard = mixtureGuard(key, ref.PayloadType())
	}
	added, err := b.registry.AddFunc(key, ref, guard)
	if err != nil {
		b.log.Warn().Err(err).
			Stringer("event", key).
			Str("handler", ref.Name()).
			Msg("Rejected subscription")
		return false, err
	}
	if !added {
		b.log.Debug().Stringer("event", key).Str("handler", ref.Name()).Msg("Handler is already subscribed")
		return false, nil
	}
	b.metrics.incSubscribed(b.name, key)
	b.log.Debug().
		Stringer("event", key).
		Str("handler", ref.Name()).
		Stringer("payload", ref.PayloadType()).
		Msg("Subscribed handler")
	return true, nil
}

func mixtureGuard(key Key, payload reflect.Type) registry.Guard {
	return func(live []weakref.Reference) error {
		for _, existing := range live {
			if existing.PayloadType() != payload {
				return &PayloadMixtureError{
					Key:      key,
					Existing: existing.PayloadType(),
					Rejected: payload,
				}
			}
		}
		return nil
	}
}

// Schedules a prune of the key once recv is collected, if auto prune is enabled.
// The cleanup only holds the registry weakly, so it doesn't keep the bus alive.
func watch[R any](b *Bus, key Key, recv *R) {
	if !b.autoPrune || reflect.TypeFor[R]().Size() == 0 {
		return
	}
	reg := weak.Make(b.registry)
	runtime.AddCleanup(recv, func(key Key) {
		if r := reg.Value(); r != nil {
			r.PruneKey(key)
		}
	}, key)
}

func isNil(ref any) bool {
	if ref == nil {
		return true
	}
	val := reflect.ValueOf(ref)
	switch val.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return val.IsNil()
	default:
		return false
	}
}

// Unsubscribe removes a static function handler from the event E.
// Nothing happens if the function isn't subscribed.
func Unsubscribe[E, P any](b *Bus, fn func(P)) {
	if fn == nil {
		return
	}
	b.remove(KeyOf[E](), weakref.FuncIdentity(fn))
}

// UnsubscribeMethod removes a handler added with [SubscribeMethod].
// Nothing happens if the handler isn't subscribed.
func UnsubscribeMethod[E, P, R any](b *Bus, recv *R, method func(*R, P)) {
	if recv == nil || method == nil {
		return
	}
	b.remove(KeyOf[E](), weakref.MethodIdentity(recv, method))
}

// UnsubscribeHandler removes a handler added with [SubscribeHandler].
// Nothing happens if the handler isn't subscribed.
func UnsubscribeHandler[E, P, R any, H interface {
	*R
	weakref.Handler[P]
}](b *Bus, recv H) {
	if recv == nil {
		return
	}
	b.remove(KeyOf[E](), weakref.HandlerIdentity[R, P, H](recv))
}

func (b *Bus) remove(key Key, id weakref.Identity) {
	removed := b.registry.RemoveMatching(key, id)
	if removed > 0 {
		b.metrics.addUnsubscribed(b.name, key, removed)
		b.log.Debug().Stringer("event", key).Int("removed", removed).Msg("Unsubscribed handler")
	}
}

// RemoveTypeRegistrations removes every subscription for the event E, live or expired.
func RemoveTypeRegistrations[E any](b *Bus) {
	b.RemoveRegistrations(KeyOf[E]())
}

// HasRegistrations reports whether the event E has a subscription entry.
// See [Bus.HasRegistrations].
func HasRegistrations[E any](b *Bus) bool {
	return b.HasRegistrations(KeyOf[E]())
}
