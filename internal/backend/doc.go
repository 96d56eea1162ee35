// Package backend supervises one backend process per user.
//
// The Orchestrator owns the username to process map. Starts and stops for the
// same username are serialized; different usernames never wait on each other.
// A process is Starting until it survives the configured start delay, then Ready.
// Any exit removes its record, and a stop kills the process through the configured
// kill command before dropping the record.
//
// Output lines from each process flow through a bounded event channel into a
// supervisor goroutine that fills the user's LogBuffer and optional log file.
package backend
