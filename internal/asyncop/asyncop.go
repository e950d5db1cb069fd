package asyncop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/metrics"
	"gridlink/internal/retry"
)

// Kind names an operation for configuration, logging, and metrics.
type Kind string

const (
	KindAttach        Kind = "attach"
	KindLookupAccount Kind = "lookup_account"
	KindCreateAccount Kind = "create_account"
	KindAcctMgr       Kind = "acct_mgr"
	KindProjectConfig Kind = "project_config"
)

// ErrSubmitFailed is returned when the daemon rejected or never received the
// initial request. No polling happened.
var ErrSubmitFailed = errors.New("asyncop: submit failed")

// GiveUpError is returned when the attempt budget ran out. LastCode is the
// last code seen, or 0 when every poll failed in transport.
type GiveUpError struct {
	Kind     Kind
	Attempts int
	LastCode int
	Received bool
	Err      error
}

func (e *GiveUpError) Error() string {
	if e.Received {
		return fmt.Sprintf("%s: gave up after %d attempts, last code %d (%s)", e.Kind, e.Attempts, e.LastCode, ipc.CodeName(e.LastCode))
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *GiveUpError) Unwrap() error { return e.Err }

// Operation is one request/poll pair. Poll must return a non-nil result when
// its error is nil.
type Operation[R ipc.Coded] struct {
	Kind   Kind
	Submit func(ctx context.Context) error
	Poll   func(ctx context.Context) (R, error)
}

// Runner executes operations with shared logging and metrics.
type Runner struct {
	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewRunner builds a Runner. Nil arguments fall back to no-ops.
func NewRunner(logger *slog.Logger, recorder metrics.Recorder) *Runner {
	return &Runner{
		logger:   logging.NewComponentLogger(logger, "asyncop"),
		recorder: metrics.OrNoop(recorder),
	}
}

// Run submits op once and polls until a final decision.
//
// Success and PermanentFailure both return the final result with a nil error;
// callers inspect Code() to tell them apart. GiveUp returns the last result
// seen (possibly the zero value) with a *GiveUpError.
func Run[R ipc.Coded](ctx context.Context, r *Runner, op Operation[R], settings retry.Settings) (R, error) {
	if r == nil {
		r = NewRunner(nil, nil)
	}
	var last R
	start := time.Now()
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldOperation, string(op.Kind)))

	if err := op.Submit(ctx); err != nil {
		r.recorder.ObserveOperation(string(op.Kind), time.Since(start), "submit_failed")
		logger.Debug("submit failed", logging.Error(err))
		return last, fmt.Errorf("%w: %s: %w", ErrSubmitFailed, op.Kind, err)
	}

	rc := retry.NewContext(settings)
	var (
		lastErr  error
		received bool
	)
	for {
		if err := sleep(ctx, settings.Interval); err != nil {
			r.recorder.ObserveOperation(string(op.Kind), time.Since(start), "canceled")
			return last, err
		}

		res, err := op.Poll(ctx)
		if err != nil && ctx.Err() != nil {
			r.recorder.ObserveOperation(string(op.Kind), time.Since(start), "canceled")
			return last, ctx.Err()
		}
		code := 0
		if err == nil {
			last = res
			received = true
			code = res.Code()
		} else {
			lastErr = err
		}

		decision := rc.Classify(code, err == nil)
		r.recorder.IncRetryDecision(string(op.Kind), decision.String())

		switch decision {
		case retry.Success, retry.PermanentFailure:
			r.recorder.ObserveOperation(string(op.Kind), time.Since(start), decision.String())
			if decision == retry.PermanentFailure {
				logger.Debug("operation failed", logging.Int(logging.FieldCode, code))
			}
			return last, nil
		case retry.GiveUp:
			r.recorder.ObserveOperation(string(op.Kind), time.Since(start), decision.String())
			giveUp := &GiveUpError{Kind: op.Kind, Attempts: rc.Attempts, Received: received, Err: lastErr}
			if received {
				giveUp.LastCode = last.Code()
			}
			logging.WarnWithContext(logger, "operation gave up", "rpc_gave_up",
				logging.Int("attempts", rc.Attempts),
				logging.String(logging.FieldImpact, "the requested change was not applied"),
				logging.String(logging.FieldErrorHint, "check the daemon's network connectivity and retry"))
			return last, giveUp
		default:
			if err != nil {
				logger.Debug("poll failed, retrying", logging.Error(err), logging.Int("attempt", rc.Attempts))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
