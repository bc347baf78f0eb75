/*
Package shm implements the shared-segment manager underneath the
master/worker rendezvous: a named shared-memory region with a typed
object allocator and the two turn-taking semaphores.

# Segment

A segment is a file in a tmpfs directory, mapped read-write by both
parties. The front end creates it, sizes it once, and owns its removal;
the back end opens it by name. Inside the mapping a bump allocator hands
out 8-byte-aligned named blocks: typed control slots (real, integer,
boolean), vectors of scalar records, and anonymous raw blocks that back
string values. Blocks are never freed or resized, matching the protocol
rule that the variable directory is fixed after instantiation.

String values are relocatable: the record holds offset, length and
capacity of a buffer allocated from segment free space, and growing a
value allocates a larger buffer inside the segment rather than on either
party's heap.

# Synchronization

Two named counting semaphores, <segment>_sem_master (initial count 1)
and <segment>_sem_slave (initial count 0), serialize the two parties.
Each semaphore is a FIFO next to the segment file; a post writes one
byte and a wait blocks reading one. The initial counts guarantee the
master takes the first turn once the worker attaches.

Whichever party just signaled must not touch shared data until its own
wait returns; the package does not enforce this, the rendezvous layer's
callers do.
*/
package shm
