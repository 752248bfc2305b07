// Package proxy implements meshkv's stateless routing layer:
// it parses a client's RESP frame, extracts the key, consults the
// consistent hash ring (internal/hashring) and the health cache
// (internal/health.Cache) to pick exactly one backend node, forwards the
// command over a long-lived connection from that node's Backend pool, and
// relays the reply back unchanged.
//
// The retry-with-backoff shape for backend (re)connection differs from a
// bounded startup handshake: a backend connection is a long-lived
// resource that must keep trying to reconnect for the node's entire
// lifetime, using a capped exponential backoff rather than a fixed
// number of bounded attempts.
//
// Routing itself is simple: look up the owning node for a key, then
// forward over a persistent RESP connection. The health gate sits
// between lookup and forward with no fallback to a different node.
package proxy
