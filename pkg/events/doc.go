// Package events provides a lightweight publish/subscribe broker for
// simulation lifecycle events: instance creation and termination, worker
// starts and exits, completed and discarded steps, and detected state or
// time events. Slow subscribers are skipped rather than blocking the
// publisher.
package events
