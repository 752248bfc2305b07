// Package cluster holds the small set of types and HTTP helpers shared by
// every meshkv process. Nodes, proxies, and the health registry all agree on
// the same NodeInfo/HealthRecord shapes and the same JSON-over-HTTP request
// helpers, so that shape lives here once instead of being duplicated three
// times across cmd/node, cmd/proxy, and cmd/healthd.
//
// # Overview
//
// meshkv has no coordinator. Routing authority lives entirely in the health
// registry (internal/health) and the consistent-hash ring (internal/hashring);
// this package only carries the data both of those, and the three process
// entrypoints, need to agree on:
//
//	┌───────────────┐        ┌──────────────┐        ┌───────────────┐
//	│   proxy(es)   │──poll─▶│ health regis.│        │   node(s)     │
//	│ ring + pool   │        │   (healthd)  │──probe▶│ RESP + WAL    │
//	└───────┬───────┘        └──────────────┘        └───────┬───────┘
//	        │                                                 │
//	        └───────────────── RESP commands ─────────────────┘
//
// # Core types
//
// NodeInfo identifies one storage node (id, host, port) — the unit both the
// ring and the registry key off of. Config is the shared flag/YAML
// configuration shape loaded by every cmd/ entrypoint, merged with explicit
// flags taking precedence over a YAML file.
//
// # Communication
//
// GetJSON/PostJSON are the thin HTTP/JSON helpers used by a proxy's registry
// poller and by the health REST surface's own tests; they intentionally stay
// generic (any request/response shape) rather than hard-coding the health
// record schema.
package cluster
