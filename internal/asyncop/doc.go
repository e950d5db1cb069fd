// Package asyncop runs the daemon's request/poll operations: submit once, then
// poll at a fixed interval and let the retry classification decide when to
// stop. Every poll is preceded by a context-aware sleep, so cancelling the
// context stops an operation within one interval.
package asyncop
