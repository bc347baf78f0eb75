/*
Package app hosts a worker's main loop around the back-end client
runtime: variable declaration, the initialization handshake, the
per-step exchange (read parameters and inputs, run the model hook,
write outputs, reset inputs, hand the turn back) and clean termination
when the configured stop time is reached.

It also implements the dry-run modes --only-write-variable-names and
--only-write-variable-names-json, which emit the declared variable
names and exit without running the model; build tooling uses them to
extract a worker's interface.
*/
package app
