/*
Package rendezvous wraps the shared-segment manager with the two-party
turn-taking protocol between the co-simulation master and the worker.

The master side creates the segment and owns its removal; the slave side
attaches by name, recovering from the startup race by retrying with a
bounded sleep until the segment and both semaphores appear.

Protocol contract, per side: a side may read or write any shared slot
only while it holds the turn, and immediately after signaling it must
wait before touching shared data again. There is no read-after-signal
window.
*/
package rendezvous
