/*
Package wrapper implements the incremental self-integrating adapter
path: a communication-step interface over an in-process black-box ODE
model, with no IPC involved.

Between communication points the wrapper integrates the model
speculatively from the current point to a configured look-ahead
horizon, storing one prediction (time, continuous state, outputs) per
look-ahead step. Sync moves the internal state to the new communication
point by interpolating within the stored predictions, optionally writes
fresh inputs, then recomputes the look-ahead.

After each accepted integrator step the model's event indicators are
compared against the signs at the start of the interval; a sign change
marks a state event. The event interval is then bisected down to the
configured search precision. With StopBeforeEvent disabled, one
explicit-Euler sub-step crosses the boundary so the model observes the
event exactly once and handles it; with StopBeforeEvent enabled, the
look-ahead stops at the last event-free time and the deferred crossing
is taken when integration next resumes from that point. Declared time
events are treated the same way once integration reaches them.
*/
package wrapper
