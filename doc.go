/*
Package weakbus is an in-process, typed event bus whose subscriptions don't keep their subscribers alive.

The bus itself lives in [github.com/saylorsolutions/weakbus/patterns/eventbus].
The supporting packages may be used on their own:
  - weakref holds weak subscription records and their identities.
  - structures/registry is a sharded, copy-on-write map of event keys to subscription records.
  - syncx provides the executors and futures used for asynchronous dispatch.

The busbench command under cmd stress tests a bus with concurrent publishers, and is a good place to see the API in use.
*/
package weakbus
