package status

import (
	"log/slog"
	"sync"

	"gridlink/internal/logging"
	"gridlink/internal/metrics"
)

// Holder owns the published status. Readers never observe a partially
// updated value; observers are notified after the write lock is released, in
// publication order.
type Holder struct {
	mu      sync.RWMutex
	current Published

	notifyMu sync.Mutex
	subs     map[int]chan Published
	nextID   int

	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewHolder returns a holder whose setup status is Launching.
func NewHolder(logger *slog.Logger, recorder metrics.Recorder) *Holder {
	return &Holder{
		current:  Published{Derived: Derived{Setup: SetupLaunching}},
		subs:     make(map[int]chan Published),
		logger:   logging.NewComponentLogger(logger, "status"),
		recorder: metrics.OrNoop(recorder),
	}
}

// Current returns the last published value.
func (h *Holder) Current() Published {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Publish derives statuses from snap and swaps them in. On a derive error the
// previous value stays and no observer is notified.
func (h *Holder) Publish(snap *Snapshot) (Published, error) {
	derived, err := Derive(snap)
	if err != nil {
		logging.WarnWithContext(h.logger, "dropping unparseable daemon snapshot", "derive_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previous status kept"),
			logging.String(logging.FieldErrorHint, "daemon may be a newer or older protocol version"))
		return h.Current(), err
	}

	h.mu.Lock()
	if h.current.Setup.terminal() {
		derived.Setup = h.current.Setup
	}
	next := Published{Derived: derived, Snapshot: snap, Version: h.current.Version + 1}
	h.current = next
	h.notifyMu.Lock()
	h.mu.Unlock()
	h.deliver(next)
	h.notifyMu.Unlock()

	h.recorder.SetStatus(next.Setup.String(), next.Computing.String(), next.Network.String())
	return next, nil
}

// SetSetup records an exogenous setup status (launching, error, closing,
// closed). Closing and Closed are only replaced by each other.
func (h *Holder) SetSetup(s SetupStatus) {
	h.mu.Lock()
	if h.current.Setup == s || (h.current.Setup == SetupClosed && s != SetupClosed) ||
		(h.current.Setup == SetupClosing && !s.terminal()) {
		h.mu.Unlock()
		return
	}
	h.current.Setup = s
	h.current.Version++
	next := h.current
	h.notifyMu.Lock()
	h.mu.Unlock()
	h.deliver(next)
	h.notifyMu.Unlock()

	h.logger.Debug("setup status changed", logging.String("setup", s.String()))
	h.recorder.SetStatus(next.Setup.String(), next.Computing.String(), next.Network.String())
}

// Subscribe returns a channel receiving every subsequent publication. A slow
// subscriber loses its oldest pending value rather than blocking the
// publisher. Call the returned function to unsubscribe.
func (h *Holder) Subscribe(buffer int) (<-chan Published, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Published, buffer)
	h.notifyMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.notifyMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.notifyMu.Lock()
			delete(h.subs, id)
			close(ch)
			h.notifyMu.Unlock()
		})
	}
}

// deliver must be called with notifyMu held.
func (h *Holder) deliver(p Published) {
	for _, ch := range h.subs {
		select {
		case ch <- p:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}
