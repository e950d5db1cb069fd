// Package simdaemon is an in-memory compute daemon that speaks the same RPC
// surface as the real one through ipc.Server. Request/poll operations report
// in-progress for a configurable number of polls, and tests can script poll
// codes or make reads fail to exercise retry and reconnect paths.
package simdaemon
