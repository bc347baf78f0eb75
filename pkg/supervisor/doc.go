/*
Package supervisor launches and tears down the external worker process
wrapped by the front-end adapter.

The launch plan is assembled by a single argument-list builder from the
model description's vendor annotations: executable URI (or, for FMI 1.0
tool coupling, the application named by the MIME type), optional pre and
post argument strings, and a main argument defaulting to the resolved
entry-point path. fmu:// URIs are rewritten relative to the FMU
location. The working directory falls back from the entry point's
directory to the executable's directory to the current directory.

The child runs in its own process group (setpgid) so that Terminate can
reach helper processes the simulator spawned. Teardown sends SIGTERM to
the group and escalates to SIGKILL when it is ignored; the front end
invokes it only when the worker has not already reported termination
through the shared segment.
*/
package supervisor
