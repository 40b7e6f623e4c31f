package weakref

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"unsafe"
	"weak"
)

var (
	ErrInvalidHandler = errors.New("invalid handler")
)

// Identity distinguishes one subscribed handler from another.
// References with equal identities resolve to the same handler, even if one of them has expired.
type Identity struct {
	target  any            // weak.Pointer[R] for bound methods, nil for static functions.
	closure unsafe.Pointer // Function value of a static function, nil for bound methods.
	code    uintptr
	payload reflect.Type
}

// Reference is the payload-independent view of a subscription record.
// A [Registry] stores references without knowing their payload type.
//
// [Registry]: github.com/saylorsolutions/weakbus/structures/registry
type Reference interface {
	// Alive reports whether the reference could be resolved at the time of the call.
	Alive() bool
	// Identity returns the comparable identity used for duplicate suppression and removal.
	Identity() Identity
	// PayloadType is the type of the single argument accepted by the handler.
	PayloadType() reflect.Type
	// Name is a human-readable name for the handler, used in diagnostics.
	Name() string
	// ResolveAny is the untyped form of [Resolver.Resolve].
	// The returned value is a func(P) for the reference's payload type.
	ResolveAny() (any, bool)
}

// Resolver is a [Reference] that can produce an invocable handler for payloads of type P.
type Resolver[P any] interface {
	Reference
	// Resolve returns the live handler, or false if the receiver has been collected.
	//
	// Resolution is not atomic with invocation.
	// A receiver that is alive when Resolve returns is kept alive by the returned function until it is dropped,
	// but a concurrent caller may observe the receiver as collected at any point after its last strong reference is gone.
	Resolve() (func(P), bool)
}

// Handler may be implemented by receivers that handle a single payload type.
type Handler[P any] interface {
	Handle(payload P)
}

var _ Resolver[int] = (*Method[struct{}, int])(nil)

// Method references a method bound to a receiver.
// Unless it was created with keepAlive, the receiver is only weakly held, and the reference expires once the receiver is collected.
// Exactly one of the strong or weak hold is set.
type Method[R, P any] struct {
	strong *R
	target weak.Pointer[R]
	method func(*R, P)
	id     Identity
}

// Bind creates a [Method] reference for the given receiver and method expression, e.g. (*Counter).Increment.
// If keepAlive is true then the receiver is strongly held and the reference never expires.
//
// Note that a method value or closure that captures the receiver will keep the receiver alive, defeating the weak reference.
func Bind[R, P any](recv *R, method func(*R, P), keepAlive bool) (*Method[R, P], error) {
	if recv == nil {
		return nil, fmt.Errorf("%w: nil receiver", ErrInvalidHandler)
	}
	if method == nil {
		return nil, fmt.Errorf("%w: nil method", ErrInvalidHandler)
	}
	ref := &Method[R, P]{
		method: method,
		id:     MethodIdentity(recv, method),
	}
	if keepAlive {
		ref.strong = recv
	} else {
		ref.target = ref.id.target.(weak.Pointer[R])
	}
	return ref, nil
}

// BindHandler creates a [Method] reference for a receiver implementing [Handler].
func BindHandler[R, P any, H interface {
	*R
	Handler[P]
}](recv H, keepAlive bool) (*Method[R, P], error) {
	if recv == nil {
		return nil, fmt.Errorf("%w: nil receiver", ErrInvalidHandler)
	}
	return Bind[R, P]((*R)(recv), handle[R, P, H], keepAlive)
}

func handle[R, P any, H interface {
	*R
	Handler[P]
}](recv *R, payload P) {
	H(recv).Handle(payload)
}

func (m *Method[R, P]) Resolve() (func(P), bool) {
	recv := m.strong
	if recv == nil {
		recv = m.target.Value()
		if recv == nil {
			return nil, false
		}
	}
	return func(payload P) {
		m.method(recv, payload)
	}, true
}

func (m *Method[R, P]) ResolveAny() (any, bool) {
	fn, ok := m.Resolve()
	if !ok {
		return nil, false
	}
	return fn, true
}

func (m *Method[R, P]) Alive() bool {
	return m.strong != nil || m.target.Value() != nil
}

// KeepAlive reports whether the receiver is strongly held.
func (m *Method[R, P]) KeepAlive() bool {
	return m.strong != nil
}

func (m *Method[R, P]) Identity() Identity {
	return m.id
}

func (m *Method[R, P]) PayloadType() reflect.Type {
	return m.id.payload
}

func (m *Method[R, P]) Name() string {
	return funcName(m.id.code)
}

var _ Resolver[int] = (*Func[int])(nil)

// Func references a function with no receiver.
// A static function never expires, so a [Func] is effectively a strong reference.
//
// Functions are identified by their function value.
// A top level function is the same value wherever it's referenced, but each evaluation of a method value (recv.Method) or a capturing closure creates a new one.
// Keep the value that was subscribed to match it later, or use [Bind] to identify a handler by its receiver and method.
type Func[P any] struct {
	fn func(P)
	id Identity
}

// Static creates a [Func] reference.
func Static[P any](fn func(P)) (*Func[P], error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil function", ErrInvalidHandler)
	}
	return &Func[P]{
		fn: fn,
		id: FuncIdentity(fn),
	}, nil
}

// FuncIdentity returns the [Identity] a [Func] created from fn would have.
// This allows matching a function without allocating a reference.
func FuncIdentity[P any](fn func(P)) Identity {
	if fn == nil {
		return Identity{payload: reflect.TypeFor[P]()}
	}
	return Identity{
		closure: *(*unsafe.Pointer)(unsafe.Pointer(&fn)),
		code:    codePointer(fn),
		payload: reflect.TypeFor[P](),
	}
}

// MethodIdentity returns the [Identity] a [Method] bound to recv and method would have.
// The receiver is only held weakly by the identity, whether or not the [Method] keeps it alive.
func MethodIdentity[R, P any](recv *R, method func(*R, P)) Identity {
	return Identity{
		target:  weak.Make(recv),
		code:    codePointer(method),
		payload: reflect.TypeFor[P](),
	}
}

// HandlerIdentity returns the [Identity] a [Method] created with [BindHandler] would have.
func HandlerIdentity[R, P any, H interface {
	*R
	Handler[P]
}](recv H) Identity {
	return MethodIdentity[R, P]((*R)(recv), handle[R, P, H])
}

func (f *Func[P]) Resolve() (func(P), bool) {
	return f.fn, true
}

func (f *Func[P]) ResolveAny() (any, bool) {
	return f.fn, true
}

func (f *Func[P]) Alive() bool {
	return true
}

func (f *Func[P]) Identity() Identity {
	return f.id
}

func (f *Func[P]) PayloadType() reflect.Type {
	return f.id.payload
}

func (f *Func[P]) Name() string {
	return funcName(f.id.code)
}

func codePointer(fn any) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}

func funcName(pc uintptr) string {
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return "unknown"
}
