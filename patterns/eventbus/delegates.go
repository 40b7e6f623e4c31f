package eventbus

import (
	"github.com/saylorsolutions/weakbus/weakref"
	"iter"
	"reflect"
)

// Delegate is a live handler resolved from a subscription.
// Holding a Delegate keeps the handler's receiver alive.
type Delegate struct {
	fn  any
	ref weakref.Reference
}

// Func returns the handler as a func(P) for the delegate's payload type.
func (d Delegate) Func() any {
	return d.fn
}

// Name is a human-readable name of the handler.
func (d Delegate) Name() string {
	return d.ref.Name()
}

// PayloadType is the type of payload accepted by the handler.
func (d Delegate) PayloadType() reflect.Type {
	return d.ref.PayloadType()
}

// Identity can be used to tell handlers apart.
func (d Delegate) Identity() weakref.Identity {
	return d.ref.Identity()
}

// Delegates is a lazy sequence of the live handlers of an event.
// Subscriptions are read again each time the sequence is iterated, so it always reflects the current state of the bus.
type Delegates iter.Seq[Delegate]

// Delegates returns the live handlers of the event, in subscription order.
// Expired handlers are omitted.
func (b *Bus) Delegates(key Key) Delegates {
	return func(yield func(Delegate) bool) {
		for _, ref := range b.registry.Snapshot(key) {
			fn, ok := ref.ResolveAny()
			if !ok {
				continue
			}
			if !yield(Delegate{fn: fn, ref: ref}) {
				return
			}
		}
	}
}

// RegisteredDelegates returns the live handlers of the event E.
// See [Bus.Delegates].
func RegisteredDelegates[E any](b *Bus) Delegates {
	return b.Delegates(KeyOf[E]())
}

// RegisteredHandlers returns the live handlers of the event E that accept payloads of type P.
// Like [Delegates], the sequence is recomputed each time it's iterated.
func RegisteredHandlers[E, P any](b *Bus) iter.Seq[func(P)] {
	key := KeyOf[E]()
	return func(yield func(func(P)) bool) {
		for _, ref := range b.registry.Snapshot(key) {
			typed, ok := ref.(weakref.Resolver[P])
			if !ok {
				continue
			}
			fn, ok := typed.Resolve()
			if !ok {
				continue
			}
			if !yield(fn) {
				return
			}
		}
	}
}

// Slice collects the delegates into a slice.
// A nil Delegates produces a nil slice.
func (d Delegates) Slice() []Delegate {
	if d == nil {
		return nil
	}
	var delegates []Delegate
	d(func(delegate Delegate) bool {
		delegates = append(delegates, delegate)
		return true
	})
	return delegates
}

// Count iterates the delegates and returns how many are live.
func (d Delegates) Count() int {
	if d == nil {
		return 0
	}
	var count int
	d(func(_ Delegate) bool {
		count++
		return true
	})
	return count
}
