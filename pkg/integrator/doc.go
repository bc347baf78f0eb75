/*
Package integrator provides the pluggable ODE stepper family behind the
self-integrating adapter path: fixed-step forward Euler and classical
Runge-Kutta, and adaptive Dormand-Prince 5(4), Runge-Kutta-Fehlberg
7(8), Bulirsch-Stoer extrapolation and an Adams-Bashforth-Moulton
predictor-corrector.

A stepper drives a System: Evaluate is the right-hand side (set model
time, set continuous state, read derivatives) and StepCompleted is the
observer invoked after every accepted step (commit the state, report
whether an event stops the run). Trial states inside an adaptive step
never reach the observer.

Each stepper publishes Properties (name, type, order, abstol, reltol);
configuration equality compares all five fields.
*/
package integrator
