// Package directory builds and indexes the typed scalar records the
// front end places in shared memory: handle-keyed maps per value kind
// plus the name-to-handle and name-to-kind maps behind the front end's
// name-based setters and getters.
package directory
