// Package recorder persists per-step simulation results to BoltDB so a
// finished run can be inspected offline: one nested bucket per adapter
// instance, keyed by communication point in numeric order.
package recorder
