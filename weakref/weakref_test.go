package weakref

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

type testPayload struct {
	Content string
}

// Contains pointers so it's never placed in a tiny allocator block, which would delay collection.
type testReceiver struct {
	name  string
	calls *atomic.Int64
	last  *string
}

func newTestReceiver(name string) *testReceiver {
	return &testReceiver{
		name:  name,
		calls: new(atomic.Int64),
		last:  new(string),
	}
}

func (r *testReceiver) OnPayload(p testPayload) {
	r.calls.Add(1)
	*r.last = p.Content
}

func (r *testReceiver) Handle(p testPayload) {
	r.OnPayload(p)
}

func testStaticHandler(testPayload) {}

func awaitCollected(t *testing.T, ref Reference) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return !ref.Alive()
	}, 2*time.Second, 10*time.Millisecond, "Receiver should have been collected")
}

func TestBind_Invalid(t *testing.T) {
	_, err := Bind[testReceiver, testPayload](nil, (*testReceiver).OnPayload, false)
	assert.ErrorIs(t, err, ErrInvalidHandler)

	_, err = Bind[testReceiver, testPayload](newTestReceiver("a"), nil, false)
	assert.ErrorIs(t, err, ErrInvalidHandler)

	_, err = BindHandler[testReceiver, testPayload, *testReceiver](nil, false)
	assert.ErrorIs(t, err, ErrInvalidHandler)

	_, err = Static[testPayload](nil)
	assert.ErrorIs(t, err, ErrInvalidHandler)
}

func TestMethod_Resolve(t *testing.T) {
	recv := newTestReceiver("a")
	ref, err := Bind(recv, (*testReceiver).OnPayload, false)
	require.NoError(t, err)
	assert.False(t, ref.KeepAlive())
	assert.True(t, ref.Alive())

	fn, ok := ref.Resolve()
	require.True(t, ok)
	fn(testPayload{Content: "Marc"})
	assert.Equal(t, int64(1), recv.calls.Load())
	assert.Equal(t, "Marc", *recv.last)
	assert.Contains(t, ref.Name(), "OnPayload")
	runtime.KeepAlive(recv)
}

func TestMethod_Expired(t *testing.T) {
	calls := new(atomic.Int64)
	ref := func() *Method[testReceiver, testPayload] {
		recv := newTestReceiver("short-lived")
		recv.calls = calls
		ref, err := Bind(recv, (*testReceiver).OnPayload, false)
		require.NoError(t, err)
		return ref
	}()
	awaitCollected(t, ref)

	fn, ok := ref.Resolve()
	assert.False(t, ok)
	assert.Nil(t, fn)
	assert.Equal(t, int64(0), calls.Load())
}

func TestMethod_KeepAlive(t *testing.T) {
	calls := new(atomic.Int64)
	ref := func() *Method[testReceiver, testPayload] {
		recv := newTestReceiver("kept")
		recv.calls = calls
		ref, err := Bind(recv, (*testReceiver).OnPayload, true)
		require.NoError(t, err)
		return ref
	}()
	assert.True(t, ref.KeepAlive())
	for i := 0; i < 3; i++ {
		runtime.GC()
	}
	fn, ok := ref.Resolve()
	require.True(t, ok, "Kept alive references never expire")
	fn(testPayload{})
	assert.Equal(t, int64(1), calls.Load())
}

func TestBindHandler(t *testing.T) {
	recv := newTestReceiver("handler")
	ref, err := BindHandler[testReceiver, testPayload](recv, false)
	require.NoError(t, err)

	fn, ok := ref.Resolve()
	require.True(t, ok)
	fn(testPayload{Content: "via Handle"})
	assert.Equal(t, "via Handle", *recv.last)
	assert.Equal(t, HandlerIdentity[testReceiver, testPayload](recv), ref.Identity())
	runtime.KeepAlive(recv)
}

func TestIdentity(t *testing.T) {
	a, b := newTestReceiver("a"), newTestReceiver("b")
	refA1, err := Bind(a, (*testReceiver).OnPayload, false)
	require.NoError(t, err)
	refA2, err := Bind(a, (*testReceiver).OnPayload, true)
	require.NoError(t, err)
	refAHandle, err := Bind(a, (*testReceiver).Handle, false)
	require.NoError(t, err)
	refB, err := Bind(b, (*testReceiver).OnPayload, false)
	require.NoError(t, err)

	assert.Equal(t, refA1.Identity(), refA2.Identity(), "Keep-alive doesn't change identity")
	assert.Equal(t, MethodIdentity(a, (*testReceiver).OnPayload), refA1.Identity())
	assert.NotEqual(t, refA1.Identity(), refAHandle.Identity(), "Different methods on the same receiver")
	assert.NotEqual(t, refA1.Identity(), refB.Identity(), "Same method on different receivers")

	static, err := Static(testStaticHandler)
	require.NoError(t, err)
	assert.Equal(t, FuncIdentity(testStaticHandler), static.Identity())
	assert.NotEqual(t, static.Identity(), refA1.Identity())
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestIdentity_StableAfterCollection(t *testing.T) {
	var (
		id  Identity
		ref *Method[testReceiver, testPayload]
	)
	func() {
		recv := newTestReceiver("gone")
		var err error
		ref, err = Bind(recv, (*testReceiver).OnPayload, false)
		require.NoError(t, err)
		id = MethodIdentity(recv, (*testReceiver).OnPayload)
	}()
	awaitCollected(t, ref)
	assert.Equal(t, id, ref.Identity())
}

func TestFunc(t *testing.T) {
	var received []string
	fn := func(p testPayload) {
		received = append(received, p.Content)
	}
	ref, err := Static(fn)
	require.NoError(t, err)
	assert.True(t, ref.Alive())
	resolved, ok := ref.Resolve()
	require.True(t, ok)
	resolved(testPayload{Content: "A"})
	assert.Equal(t, []string{"A"}, received)

	runtime.GC()
	assert.True(t, ref.Alive(), "Static functions never expire")
}

func TestPayloadType(t *testing.T) {
	ref, err := Static(func(string) {})
	require.NoError(t, err)
	assert.Equal(t, "string", ref.PayloadType().String())

	other, err := Static(func(int) {})
	require.NoError(t, err)
	assert.NotEqual(t, ref.Identity(), other.Identity())
}

func TestResolveAny(t *testing.T) {
	recv := newTestReceiver("any")
	ref, err := Bind(recv, (*testReceiver).OnPayload, false)
	require.NoError(t, err)

	resolved, ok := ref.ResolveAny()
	require.True(t, ok)
	fn, ok := resolved.(func(testPayload))
	require.True(t, ok, "Untyped handler should be a func of the payload type")
	fn(testPayload{Content: "untyped"})
	assert.Equal(t, "untyped", *recv.last)
	runtime.KeepAlive(recv)

	static, err := Static(testStaticHandler)
	require.NoError(t, err)
	resolved, ok = static.ResolveAny()
	require.True(t, ok)
	assert.IsType(t, func(testPayload) {}, resolved)
}

func TestFuncIdentity_FunctionValues(t *testing.T) {
	a, b := newTestReceiver("a"), newTestReceiver("b")
	onA := a.OnPayload
	assert.NotEqual(t, FuncIdentity(onA), FuncIdentity(b.OnPayload), "Method values on different receivers should be distinct")
	assert.Equal(t, FuncIdentity(onA), FuncIdentity(onA), "The same function value should have a stable identity")
	assert.Equal(t, FuncIdentity(testStaticHandler), FuncIdentity(testStaticHandler))

	counts := make([]int, 3)
	var ids []Identity
	for i := range counts {
		ids = append(ids, FuncIdentity(func(testPayload) {
			counts[i]++
		}))
	}
	assert.NotEqual(t, ids[0], ids[1], "Closures from one literal should be distinct")
	assert.NotEqual(t, ids[1], ids[2])
	assert.NotEqual(t, ids[0], ids[2])

	static, err := Static(onA)
	require.NoError(t, err)
	assert.Equal(t, FuncIdentity(onA), static.Identity())
	assert.Contains(t, static.Name(), "OnPayload")
}

func TestBind_KeepAliveHoldsStrongly(t *testing.T) {
	recv := newTestReceiver("kept")
	ref, err := Bind(recv, (*testReceiver).OnPayload, true)
	require.NoError(t, err)
	assert.True(t, ref.KeepAlive())
	assert.Nil(t, ref.target.Value(), "Only the strong hold should be set")
	assert.Equal(t, MethodIdentity(recv, (*testReceiver).OnPayload), ref.Identity())

	weakRef, err := Bind(recv, (*testReceiver).OnPayload, false)
	require.NoError(t, err)
	assert.Nil(t, weakRef.strong, "Only the weak hold should be set")
	assert.Same(t, recv, weakRef.target.Value())
}

var globalReceiver = testReceiver{name: "global", calls: new(atomic.Int64), last: new(string)}

func TestBind_GlobalReceiver(t *testing.T) {
	ref, err := Bind(&globalReceiver, (*testReceiver).OnPayload, false)
	require.NoError(t, err)
	runtime.GC()
	resolved, ok := ref.Resolve()
	require.True(t, ok, "Package level receivers are never collected")
	resolved(testPayload{Content: "global"})
	assert.Equal(t, "global", *globalReceiver.last)
	assert.Equal(t, MethodIdentity(&globalReceiver, (*testReceiver).OnPayload), ref.Identity())
}
