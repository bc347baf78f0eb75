// Package metrics exposes Prometheus collectors for the adapter runtime:
// live instances, running workers, communication steps by status, master
// wait latency, and event counts from the self-integrating path.
package metrics
