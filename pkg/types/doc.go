/*
Package types defines the core data types shared across the co-simulation
adapter: the status set of the slave contract, scalar-variable attributes
(causality, variability, value kind), value references, and the stable
names of the control slots and record vectors inside the shared segment.

Causality and variability use typed string constants with Parse helpers
that fall back to the FMI 2.0 defaults, plus compact numeric codes for the
copies that live inside shared-memory scalar records. The status set,
value kinds and FMI version tags are integer enumerations.
*/
package types
