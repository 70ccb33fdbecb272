// Package transport owns the client side of a daemon connection: writing
// correlated requests, matching responses out of the shared inbound stream,
// and handing unsolicited events to a single subscriber.
//
// One background goroutine per connection reads frames and routes them; the
// response registry is the only structure mutated from both sides and is
// guarded by a lock never held across I/O. Connection loss is terminal by
// design — callers re-dial rather than rely on transparent reconnection.
package transport
