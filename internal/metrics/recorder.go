package metrics

import "time"

// CycleResult labels the outcome of one refresh cycle.
type CycleResult string

const (
	CyclePublished    CycleResult = "published"
	CycleSkipped      CycleResult = "skipped"
	CycleDisconnected CycleResult = "disconnected"
	CycleDeriveFailed CycleResult = "derive_failed"
)

// Recorder defines observability hooks for the sync engine. NoopRecorder is
// the default when metrics are not configured.
type Recorder interface {
	IncRetryDecision(kind, decision string)
	ObserveOperation(kind string, d time.Duration, outcome string)
	IncRefreshCycle(result CycleResult)
	IncReconnect(success bool)
	SetStatus(setup, computing, network string)
	IncAttachOutcome(outcome string)
	IncTask(kind, result string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncRetryDecision(string, string) {}
func (NoopRecorder) ObserveOperation(string, time.Duration, string) {}
func (NoopRecorder) IncRefreshCycle(CycleResult) {}
func (NoopRecorder) IncReconnect(bool) {}
func (NoopRecorder) SetStatus(string, string, string) {}
func (NoopRecorder) IncAttachOutcome(string) {}
func (NoopRecorder) IncTask(string, string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
