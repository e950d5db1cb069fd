// Package metrics defines the Recorder hooks the sync engine reports through
// and a Prometheus implementation served over HTTP by the monitor.
package metrics
