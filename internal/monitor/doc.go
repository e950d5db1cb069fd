// Package monitor runs the long-lived gridlink service: the refresh loop,
// published status, write tasks, the attachment saga, and the history
// journal, plus the optional metrics endpoint, NATS status fan-out, auth
// file watcher, and periodic account manager sync.
//
// Every write is a task whose completion forces an immediate refresh, so
// callers that wait on a task see the daemon's new state shortly after.
// Only one Service may run per state directory.
package monitor
