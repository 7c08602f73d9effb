// Package sandbox runs untrusted plugin executables as child processes.
//
// Each invocation spawns a fresh process with its own process group, a scrubbed
// environment, and the plugin directory as its working directory. The request is
// written to stdin followed by EOF; exactly one JSON response is read from stdout.
//
// Timeout handling:
//   - The deadline covers spawn through stdout being fully read
//   - On expiry the process group receives SIGTERM, then SIGKILL after the kill grace
//   - The child is always reaped before Invoke returns
//
// Failure kinds:
//   - Timeout: the deadline expired
//   - Crashed: non-zero exit or death by signal, even if stdout looked valid
//   - SpawnError: pipe, start, or stdin write failure
//   - MalformedOutput: stdout is not exactly one response object, or exceeds the cap
package sandbox
