// Package journal keeps a local SQLite history of what the monitor observed
// and did: status transitions, attach and account manager outcomes, and
// finished write tasks. The schema is embedded and versioned; a journal
// written by a different version is rejected with ErrSchemaMismatch.
package journal
