package eventbus

import (
	"reflect"
)

// Key identifies an event category.
// Keys are derived from a marker type that is never instantiated, so two keys are equal only if they were created from the same type.
//
//	type UserCreated struct{}
//	key := KeyOf[UserCreated]()
type Key struct {
	typ reflect.Type
}

// KeyOf returns the [Key] for the event marker type E.
func KeyOf[E any]() Key {
	return Key{typ: reflect.TypeFor[E]()}
}

// Type returns the marker type of the key, or nil for the zero Key.
func (k Key) Type() reflect.Type {
	return k.typ
}

// IsZero reports whether the key was created without a marker type.
func (k Key) IsZero() bool {
	return k.typ == nil
}

func (k Key) String() string {
	if k.typ == nil {
		return "<none>"
	}
	if k.typ.PkgPath() == "" {
		return k.typ.String()
	}
	return k.typ.PkgPath() + "." + k.typ.Name()
}
