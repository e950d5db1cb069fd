package retry

import (
	"fmt"
	"time"

	"gridlink/internal/ipc"
)

// Decision is the outcome of classifying one poll reply.
type Decision int

const (
	// Success means the operation finished with code 0.
	Success Decision = iota
	// PermanentFailure means the daemon returned a terminal error code.
	PermanentFailure
	// RetryNow means poll again after the configured interval.
	RetryNow
	// GiveUp means the bounded attempt budget is exhausted.
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Success:
		return "success"
	case PermanentFailure:
		return "permanent_failure"
	case RetryNow:
		return "retry_now"
	case GiveUp:
		return "give_up"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Class groups result codes by how they are retried.
type Class int

const (
	// Terminal codes are returned to the caller unchanged.
	Terminal Class = iota
	// Done marks the success code.
	Done
	// Unbounded codes (in progress, busy) retry without consuming attempts.
	Unbounded
	// Bounded codes (transient connectivity) retry while attempts remain.
	Bounded
)

// Table maps result codes to classes. Codes absent from the table are Terminal.
type Table map[int]Class

// DefaultTable is the classification used by every operation kind.
func DefaultTable() Table {
	return Table{
		ipc.CodeOK:           Done,
		ipc.ErrInProgress:    Unbounded,
		ipc.ErrRetry:         Unbounded,
		ipc.ErrGetHostByName: Bounded,
		ipc.ErrConnect:       Bounded,
		ipc.ErrHTTPTransient: Bounded,
	}
}

// Lookup returns the class of code.
func (t Table) Lookup(code int) Class {
	if c, ok := t[code]; ok {
		return c
	}
	return Terminal
}

// Settings is the immutable retry budget of one operation kind.
type Settings struct {
	MaxAttempts int
	Interval    time.Duration
	Table       Table
}

// NewSettings builds settings with the default classification table.
func NewSettings(maxAttempts int, interval time.Duration) Settings {
	return Settings{MaxAttempts: maxAttempts, Interval: interval, Table: DefaultTable()}
}

// Validate rejects budgets that could never make progress.
func (s Settings) Validate() error {
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be >0, got %d", s.MaxAttempts)
	}
	if s.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	return nil
}

// Context is the per-call retry state.
type Context struct {
	Settings
	Attempts int
}

// NewContext starts a fresh attempt counter.
func NewContext(s Settings) *Context {
	if s.Table == nil {
		s.Table = DefaultTable()
	}
	return &Context{Settings: s}
}

// Classify decides what to do with a poll outcome. received is false when the
// poll itself failed in transport; code is ignored in that case.
//
// In-progress and busy replies never consume attempts, so an operation the
// daemon keeps reporting as in progress is polled until the caller cancels.
func (c *Context) Classify(code int, received bool) Decision {
	class := Bounded
	if received {
		class = c.Table.Lookup(code)
	}
	switch class {
	case Done:
		return Success
	case Unbounded:
		return RetryNow
	case Bounded:
		if c.Attempts >= c.MaxAttempts {
			return GiveUp
		}
		c.Attempts++
		return RetryNow
	default:
		return PermanentFailure
	}
}
