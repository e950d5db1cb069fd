// Package tasks runs write operations as independent, cancellable background
// tasks with typed results.
package tasks
