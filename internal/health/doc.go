// Package health implements the cluster's health registry and checker: a
// single process that periodically probes every storage node over its
// RESP listener and keeps a thread-safe record of each node's status, plus
// the REST surface proxies poll to build their own local snapshot.
//
// The Checker runs a ticker-driven loop with a consecutive-failure counter
// that gates the HEALTHY→UNHEALTHY transition (preventing flap on a single
// dropped probe) and an immediate recovery on one success. Each probe dials
// the node's RESP port directly and sends the literal PING frame the
// protocol requires (`*1\r\n$4\r\nPING\r\n`).
//
// The Checker is the single writer of the health map (Registry.Seed/
// ReportSuccess/ReportFailure); Get/Summarize/ListHealthy/ListUnhealthy
// are the many concurrent readers, both guarded
// by the same sync.RWMutex pattern.
//
// The REST handlers (handlers.go) use a plain net/http.ServeMux,
// json.NewEncoder(w).Encode for bodies, http.Error for failures.
package health
