/*
Package weakref provides subscription records that don't keep their handler's receiver alive.

A [Method] holds a [weak.Pointer] to its receiver along with a method expression, and rebuilds an invocable handler on demand with [Method.Resolve].
Once the receiver has been collected, resolution reports the reference as expired.
Creating a [Method] with keepAlive set holds the receiver strongly instead, and it never expires.

A [Func] holds a function that has no receiver. It can't expire.

Every reference has an [Identity] that is comparable, and stays stable after the receiver is collected.
This is what registries use to suppress duplicate subscriptions and to find references to remove.
*/
package weakref
