// Package node implements meshkv's RESP2-speaking server: one
// accept loop, one goroutine per connection, and a command dispatcher that
// translates parsed RESP commands into internal/store.Engine calls and
// encodes the result back onto the wire.
//
// Accept-loop-plus-per-connection-goroutine mirrors the usual net/http
// listener-and-graceful-shutdown shape, adapted here to a raw RESP
// listener instead of HTTP.
//
// Per-connection response ordering falls out of the
// implementation for free: a connection's goroutine reads one command,
// dispatches it to completion, writes and flushes the reply, and only
// then reads the next command — there is never more than one in-flight
// reply per connection to reorder.
package node
