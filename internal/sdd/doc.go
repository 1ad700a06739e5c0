// Package sdd executes Agent-SDD workflow commands.
//
// A request names one of a fixed set of commands plus a task identifier. The
// Runner validates the command and the project layout, resolves the command to a
// script under <project>/.agent-sdd/scripts, and runs it under a wall-clock bound.
// When no script exists the FallbackExecutor produces a deterministic result.
//
// Every outcome (clean exit, failing exit, spawn error, timeout, fallback) is
// reported as a Result. Requests that fail validation never produce a Result; they
// return a *RequestError wrapping one of the Err* sentinels instead.
package sdd
