// Package statusbus publishes status changes as JSON events on a NATS
// subject.
package statusbus
