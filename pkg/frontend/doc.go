/*
Package frontend implements the master-facing slave adapter: the
component a co-simulation master drives through instantiate, initialize,
set/get value, doStep and terminate.

# Lifecycle

Instantiate parses the model description, verifies the GUID, copies
additional input files, launches the external worker through the
supervisor, creates the shared segment named after the worker's PID (or
a configured identifier), constructs the control slots and the four
scalar-record vectors, and populates the variable directory. No
simulation time passes.

InitializeSlave writes the start and stop times into the control slots
and hands the worker its initialization turn. DoStep validates the
communication point and step size, hands the worker one computation
turn, and on success advances the internal communication point by
exactly the step size. Terminate kills the worker if and only if it has
not reported its own termination through the slave_has_terminated slot.

# Error model

Contract violations by the master (wrong communication point, wrong
step size under an enforced step, writing an output) return Discard or
Warning and never change state. Resource and configuration failures are
Fatal and poison the adapter: every subsequent call short-circuits to
Fatal. Every error path emits one logger line tagged ABORT, DISCARD
STEP, WARNING or DEBUG, routed both through zerolog and through the
logger callback supplied at construction.
*/
package frontend
