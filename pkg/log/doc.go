/*
Package log provides structured logging for fmigate using zerolog.

The package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns.

Error paths in the adapter core log exactly one line per failure, tagged
with a category field that mirrors the categories surfaced through the
master's logger callback: ABORT, DISCARD STEP, WARNING and DEBUG.

Usage:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	frontendLog := log.WithComponent("frontend")
	frontendLog.Info().Str("category", "DEBUG").Msg("initialization done")

Worker processes keep their own file-backed logger so that output is not
interleaved with the master's:

	lg, err := log.FileLogger("fmibackend_pid1234.log")
*/
package log
