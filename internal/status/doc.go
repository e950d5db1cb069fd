// Package status turns raw daemon snapshots into the discrete setup,
// computing, and network statuses the rest of the application reads.
//
// Derive is pure. Holder is the single owner of the published value: it is
// constructed by the caller and injected wherever status is read, and it
// fans changes out to subscribers over channels.
//
// Both the Auto and Always run modes are interpreted the same way: a non-zero
// suspend reason means Suspended, otherwise activity is derived from the
// snapshot.
package status
