/*
Package modeldesc parses the subset of modelDescription.xml the adapter
consumes: the model GUID, the scalar variable list (name, value
reference, causality, variability, optional start value, type), the
FMI 1.0 tool-coupling implementation block (entry point, MIME type,
additional input files) and vendor annotations naming the worker
executable and its command line arguments.

The full model-description schema is out of scope; anything this package
does not surface, the adapter does not consume.
*/
package modeldesc
