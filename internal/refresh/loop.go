package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/metrics"
	"gridlink/internal/status"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is running.
	ErrAlreadyRunning = errors.New("refresh loop already running")
	// ErrNotConnected is returned by Channel when no live channel exists.
	ErrNotConnected = errors.New("not connected to daemon")
)

// State is the loop's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthorizing
	StatePolling
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnectFunc opens and authorizes a channel.
type ConnectFunc func(ctx context.Context) (*ipc.Client, error)

// LaunchFunc starts the daemon process.
type LaunchFunc func(ctx context.Context) error

// Options tunes the loop.
type Options struct {
	Interval        time.Duration
	ConnectAttempts int
	ConnectInterval time.Duration
	FetchMessages   bool
	MessageTail     int
	// Launch, when set, runs before reconnecting to a daemon that is not
	// running. It runs at most once per disconnection.
	Launch LaunchFunc
	// NotRunning reports whether a connect error means no daemon is
	// listening. Launch is skipped for any other error, and entirely when
	// NotRunning is nil.
	NotRunning func(error) bool
}

// Loop keeps the published status fresh. It owns the only live channel.
type Loop struct {
	opts     Options
	connect  ConnectFunc
	holder   *status.Holder
	logger   *slog.Logger
	recorder metrics.Recorder

	running  atomic.Bool
	state    atomic.Int32
	kick     chan struct{}
	launched atomic.Bool

	mu      sync.Mutex
	channel *ipc.Client
	cancel  context.CancelFunc
	done    chan struct{}

	// cycleMu serializes cycles and connection attempts between the
	// background goroutine and one-shot Cycle callers. It guards the
	// message tail.
	cycleMu   sync.Mutex
	lastSeqno int
	tail      []ipc.Message
}

// NewLoop builds a loop that publishes into holder.
func NewLoop(opts Options, connect ConnectFunc, holder *status.Holder, logger *slog.Logger, recorder metrics.Recorder) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	if opts.MessageTail <= 0 {
		opts.MessageTail = 100
	}
	return &Loop{
		opts:     opts,
		connect:  connect,
		holder:   holder,
		logger:   logging.NewComponentLogger(logger, "refresh"),
		recorder: metrics.OrNoop(recorder),
		kick:     make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.logger.Debug("refresh state changed", logging.String("state", s.String()))
	}
}

// Start runs the loop in a goroutine until Stop or ctx cancellation.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.run(loopCtx)
	}()
	return nil
}

// Stop ends the loop, waits for the goroutine, and closes the channel.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.Invalidate()
	l.running.Store(false)
}

// ForceRefresh wakes the loop for an immediate cycle. Calls made while a
// wake-up is pending coalesce.
func (l *Loop) ForceRefresh() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Channel returns the live channel.
func (l *Loop) Channel() (*ipc.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.channel == nil || !l.channel.Valid() {
		return nil, ErrNotConnected
	}
	return l.channel, nil
}

// Invalidate closes the live channel; the next cycle reconnects.
func (l *Loop) Invalidate() {
	l.mu.Lock()
	ch := l.channel
	l.channel = nil
	l.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	l.setState(StateDisconnected)
}

func (l *Loop) install(ch *ipc.Client) {
	l.mu.Lock()
	prev := l.channel
	l.channel = ch
	l.mu.Unlock()
	if prev != nil && prev != ch {
		_ = prev.Close()
	}
}

func (l *Loop) run(ctx context.Context) {
	err := l.connectStartup(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.holder.SetSetup(status.SetupError)
		logging.WarnWithContext(l.logger, "daemon unreachable at startup", "startup_connect_failed",
			logging.Error(err),
			logging.Int("attempts", l.opts.ConnectAttempts),
			logging.String(logging.FieldImpact, "status shows error until the daemon becomes reachable"),
			logging.String(logging.FieldErrorHint, "start the daemon or check daemon.address and daemon.auth_file"))
	}

	timer := time.NewTimer(l.opts.Interval)
	defer timer.Stop()
	for {
		_ = l.Cycle(ctx)
		// The wait always runs from the end of a cycle.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.opts.Interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.kick:
		}
	}
}

// connectStartup makes the first connection, retrying ConnectAttempts times.
func (l *Loop) connectStartup(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < l.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			l.setState(StateBackoff)
			if err := sleep(ctx, l.opts.ConnectInterval); err != nil {
				return err
			}
		}
		l.cycleMu.Lock()
		_, err := l.ensureChannel(ctx)
		l.cycleMu.Unlock()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// ensureChannel returns the live channel, connecting if there is none. The
// daemon is launched first when the connect error says it is not running and
// no launch has happened since the last successful connection. Callers hold
// cycleMu.
func (l *Loop) ensureChannel(ctx context.Context) (*ipc.Client, error) {
	if ch, err := l.Channel(); err == nil {
		return ch, nil
	}
	l.setState(StateConnecting)
	ch, err := l.connect(ctx)
	if err != nil && l.shouldLaunch(err) && ctx.Err() == nil {
		l.launched.Store(true)
		l.logger.Info("launching daemon", logging.String(logging.FieldEventType, "daemon_launch"))
		if launchErr := l.opts.Launch(ctx); launchErr != nil {
			err = errors.Join(err, launchErr)
		} else {
			ch, err = l.connect(ctx)
		}
	}
	l.recorder.IncReconnect(err == nil)
	if err != nil {
		l.setState(StateDisconnected)
		return nil, err
	}
	l.setState(StateAuthorizing)
	l.install(ch)
	l.launched.Store(false)
	// Sequence numbers restart with the daemon, so the tail is rebuilt
	// from the new channel.
	l.tail, l.lastSeqno = nil, 0
	l.logger.Info("connected to daemon", logging.String(logging.FieldEventType, "daemon_connected"))
	return ch, nil
}

func (l *Loop) shouldLaunch(err error) bool {
	if l.opts.Launch == nil || l.opts.NotRunning == nil || l.launched.Load() {
		return false
	}
	return l.opts.NotRunning(err)
}

// Cycle runs one health check, reconnect, and polling batch. It publishes
// only when every read succeeded.
func (l *Loop) Cycle(ctx context.Context) error {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	ch, err := l.ensureChannel(ctx)
	if err != nil {
		l.recorder.IncRefreshCycle(metrics.CycleDisconnected)
		l.logger.Debug("refresh cycle skipped, not connected", logging.Error(err))
		if ctx.Err() == nil {
			l.holder.SetSetup(status.SetupError)
		}
		return err
	}
	l.setState(StatePolling)

	snap, newTail, newSeqno, err := l.fetch(ctx, ch)
	if err != nil {
		if ipc.IsTransport(err) {
			l.Invalidate()
			l.recorder.IncRefreshCycle(metrics.CycleDisconnected)
			logging.WarnWithContext(l.logger, "lost connection to daemon", "daemon_disconnected",
				logging.Error(err),
				logging.String(logging.FieldImpact, "status is stale until reconnect"),
				logging.String(logging.FieldErrorHint, "the next cycle reconnects automatically"))
			return err
		}
		l.recorder.IncRefreshCycle(metrics.CycleSkipped)
		l.logger.Debug("refresh batch failed, keeping previous status", logging.Error(err))
		return err
	}

	if _, err := l.holder.Publish(snap); err != nil {
		l.recorder.IncRefreshCycle(metrics.CycleDeriveFailed)
		return err
	}
	l.tail, l.lastSeqno = newTail, newSeqno
	l.recorder.IncRefreshCycle(metrics.CyclePublished)
	return nil
}

// fetch runs the read batch in order. Message state is returned rather than
// stored so a failed batch leaves it untouched.
func (l *Loop) fetch(ctx context.Context, ch *ipc.Client) (*status.Snapshot, []ipc.Message, int, error) {
	snap := &status.Snapshot{}
	var err error
	if snap.Status, err = ch.GetStatus(ctx); err != nil {
		return nil, nil, 0, err
	}
	if snap.Results, err = ch.GetResults(ctx, false); err != nil {
		return nil, nil, 0, err
	}
	if snap.Projects, err = ch.GetProjects(ctx); err != nil {
		return nil, nil, 0, err
	}
	if snap.Transfers, err = ch.GetTransfers(ctx); err != nil {
		return nil, nil, 0, err
	}
	if snap.Prefs, err = ch.GetGlobalPrefsWorking(ctx); err != nil {
		return nil, nil, 0, err
	}

	tail, seqno := l.tail, l.lastSeqno
	if l.opts.FetchMessages {
		msgs, err := ch.GetMessages(ctx, seqno)
		if err != nil {
			return nil, nil, 0, err
		}
		tail = appendTail(tail, msgs, l.opts.MessageTail)
		if len(tail) > 0 {
			seqno = tail[len(tail)-1].Seqno
		}
	}
	snap.Messages = tail
	snap.FetchedAt = time.Now()
	return snap, tail, seqno, nil
}

// appendTail returns a new slice holding the last limit messages of
// tail+msgs. The input slice is never modified.
func appendTail(tail, msgs []ipc.Message, limit int) []ipc.Message {
	combined := make([]ipc.Message, 0, len(tail)+len(msgs))
	combined = append(combined, tail...)
	combined = append(combined, msgs...)
	if len(combined) > limit {
		combined = combined[len(combined)-limit:]
	}
	return combined
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
