/*
Package backend implements the client runtime loaded into the worker
process: the slave side of the shared-memory rendezvous.

StartInitialization computes the segment name from a configured
identifier or the worker's (or parent's) process ID, attaches with a
bounded retry loop, waits for the master's first signal and resolves all
control slots. The worker then declares its variables by name
(InitializeRealInputs and friends), the back end locates each record in
the shared vectors and verifies its causality, and EndInitialization
returns the turn to the master.

Each step the worker blocks in WaitForMaster, copies inputs and
parameters out of the shared records, computes, writes outputs back and
calls SignalToMaster. EnforceTimeStep and RejectStep set the
corresponding control flags while the worker holds the turn.

Terminate sets the slave_has_terminated flag and posts one final signal
so a master blocked in doStep observes the termination instead of
hanging.
*/
package backend
