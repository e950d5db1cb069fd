package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	prom "github.com/prometheus/client_golang/prometheus"

	"gridlink/internal/attach"
	"gridlink/internal/config"
	"gridlink/internal/daemonctl"
	"gridlink/internal/ipc"
	"gridlink/internal/journal"
	"gridlink/internal/logging"
	"gridlink/internal/metrics"
	"gridlink/internal/refresh"
	"gridlink/internal/status"
	"gridlink/internal/statusbus"
	"gridlink/internal/tasks"
)

var (
	// ErrAlreadyRunning is returned by Start on a running service.
	ErrAlreadyRunning = errors.New("monitor already running")
	// ErrLocked is returned when another monitor holds the state directory.
	ErrLocked = errors.New("another gridlink monitor is already running")
)

// journalTimeout bounds every journal write made from a hook.
const journalTimeout = 5 * time.Second

// Service owns the published status, the refresh loop, and everything that
// writes to the daemon. It enforces single-instance execution per state
// directory.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prom.Registry
	recorder *metrics.PrometheusRecorder

	holder  *status.Holder
	loop    *refresh.Loop
	runner  *tasks.Runner
	saga    *attach.Saga
	journal *journal.Journal

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsubs  []func()

	metricsSrv *metricsServer
	publisher  *statusbus.Publisher
	watcher    *authWatcher
	scheduler  *syncScheduler
}

// New builds a service from configuration. The journal is opened here; the
// rest starts in Start.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("monitor requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	j, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	holder := status.NewHolder(logger, recorder)

	opts := refresh.Options{
		Interval:        cfg.RefreshInterval(),
		ConnectAttempts: cfg.Daemon.ConnectAttempts,
		ConnectInterval: cfg.ConnectInterval(),
		FetchMessages:   cfg.Refresh.FetchMessages,
		MessageTail:     cfg.Refresh.MessageTail,
	}
	if cfg.Daemon.AutoLaunch {
		opts.Launch = func(context.Context) error { return daemonctl.Launch(cfg) }
		opts.NotRunning = func(err error) bool { return errors.Is(err, daemonctl.ErrDaemonNotRunning) }
	}
	loop := refresh.NewLoop(opts, daemonctl.NewConnector(cfg).Connect, holder, logger, recorder)

	s := &Service{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "monitor"),
		registry: registry,
		recorder: recorder,
		holder:   holder,
		loop:     loop,
		runner:   tasks.NewRunner(logger, recorder),
		saga:     attach.NewSaga(loop.Channel, attach.BudgetsFromConfig(cfg), logger, recorder),
		journal:  j,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	s.runner.OnComplete(s.taskFinished)
	s.saga.OnResolved(s.attachResolved)
	return s, nil
}

// Holder returns the published status holder.
func (s *Service) Holder() *status.Holder { return s.holder }

// Current returns the last published status.
func (s *Service) Current() status.Published { return s.holder.Current() }

// Subscribe forwards to the status holder.
func (s *Service) Subscribe(buffer int) (<-chan status.Published, func()) {
	return s.holder.Subscribe(buffer)
}

// Journal returns the history journal.
func (s *Service) Journal() *journal.Journal { return s.journal }

// Saga returns the attachment saga.
func (s *Service) Saga() *attach.Saga { return s.saga }

// Tasks returns the write task runner.
func (s *Service) Tasks() *tasks.Runner { return s.runner }

// LoopState reports the refresh loop's connection state.
func (s *Service) LoopState() refresh.State { return s.loop.State() }

// ForceRefresh wakes the refresh loop.
func (s *Service) ForceRefresh() { s.loop.ForceRefresh() }

// Registry returns the Prometheus registry the service records into.
func (s *Service) Registry() *prom.Registry { return s.registry }

// MetricsAddr returns the metrics endpoint address, or "" when disabled.
func (s *Service) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsSrv == nil {
		return ""
	}
	return s.metricsSrv.Addr().String()
}

// Start acquires the instance lock and starts the refresh loop and the
// optional metrics, NATS, watcher, and scheduler components. Failures of the
// optional components are logged and do not fail Start.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		s.running.Store(false)
		return ErrLocked
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	updates, unsub := s.holder.Subscribe(16)
	s.addUnsub(unsub)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recordTransitions(runCtx, updates)
	}()

	s.startMetrics()
	s.startPublisher(runCtx)

	if err := s.loop.Start(runCtx); err != nil {
		s.Stop()
		return fmt.Errorf("start refresh loop: %w", err)
	}

	s.startWatcher()
	s.startScheduler()

	s.logger.Info("gridlink monitor started",
		logging.String("lock", s.lockPath),
		logging.String("daemon", s.cfg.Daemon.Address))
	return nil
}

func (s *Service) addUnsub(fn func()) {
	s.mu.Lock()
	s.unsubs = append(s.unsubs, fn)
	s.mu.Unlock()
}

func (s *Service) startMetrics() {
	bind := strings.TrimSpace(s.cfg.Metrics.Bind)
	if bind == "" {
		return
	}
	srv, err := startMetricsServer(bind, s.registry, s.logger)
	if err != nil {
		logging.WarnWithContext(s.logger, "metrics endpoint unavailable", "metrics_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "metrics are not exported"),
			logging.String(logging.FieldErrorHint, "choose a free metrics.bind address"))
		return
	}
	s.mu.Lock()
	s.metricsSrv = srv
	s.mu.Unlock()
}

func (s *Service) startPublisher(ctx context.Context) {
	pub, err := statusbus.Connect(s.cfg.NATS, s.logger)
	if errors.Is(err, statusbus.ErrDisabled) {
		return
	}
	if err != nil {
		logging.WarnWithContext(s.logger, "status bus unavailable", "nats_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status changes are not published"),
			logging.String(logging.FieldErrorHint, "check nats.url"))
		return
	}
	updates, unsub := s.holder.Subscribe(16)
	s.addUnsub(unsub)
	s.mu.Lock()
	s.publisher = pub
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pub.Run(ctx, updates)
	}()
}

func (s *Service) startWatcher() {
	if strings.TrimSpace(s.cfg.Daemon.AuthFile) == "" {
		return
	}
	w, err := newAuthWatcher(s.cfg.Daemon.AuthFile, s.authChanged, s.logger)
	if err != nil {
		logging.WarnWithContext(s.logger, "auth file watcher unavailable", "auth_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a rotated secret is picked up only after a disconnect"))
		return
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

func (s *Service) startScheduler() {
	interval := s.cfg.AcctMgrSyncInterval()
	if interval <= 0 {
		return
	}
	sched, err := newSyncScheduler(interval, s.scheduledSync)
	if err != nil {
		logging.WarnWithContext(s.logger, "account manager sync not scheduled", "acct_mgr_schedule_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "account manager changes apply only on manual sync"))
		return
	}
	s.mu.Lock()
	s.scheduler = sched
	s.mu.Unlock()
	s.logger.Info("account manager sync scheduled", logging.Duration("interval", interval))
}

// authChanged drops the channel so the next cycle authorizes with the new
// secret.
func (s *Service) authChanged() {
	s.logger.Info("auth file changed, reconnecting", logging.String(logging.FieldEventType, "auth_rotated"))
	s.loop.Invalidate()
	s.loop.ForceRefresh()
}

func (s *Service) scheduledSync() {
	_, err := s.SyncAccountManager().Wait(s.context())
	switch {
	case err == nil:
	case errors.Is(err, attach.ErrNoAccountManager), errors.Is(err, refresh.ErrNotConnected):
		s.logger.Debug("scheduled account manager sync skipped", logging.Error(err))
	default:
		logging.WarnWithContext(s.logger, "scheduled account manager sync failed", "acct_mgr_sync_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "project list may be out of date"))
	}
}

// Stop cancels running tasks, stops every component, and releases the lock.
func (s *Service) Stop() {
	if !s.running.Load() {
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	sched, watcher, pub, msrv := s.scheduler, s.watcher, s.publisher, s.metricsSrv
	unsubs := s.unsubs
	s.cancel, s.scheduler, s.watcher, s.publisher, s.metricsSrv, s.unsubs = nil, nil, nil, nil, nil, nil
	s.mu.Unlock()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			s.logger.Warn("failed to stop scheduler", logging.Error(err))
		}
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	s.runner.Shutdown()
	s.loop.Stop()
	if cancel != nil {
		cancel()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	s.wg.Wait()
	pub.Close()
	if msrv != nil {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		if err := msrv.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to stop metrics endpoint", logging.Error(err))
		}
		done()
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release monitor lock", logging.Error(err))
	}
	s.running.Store(false)
	s.logger.Info("gridlink monitor stopped")
}

// Close stops the service and closes the journal.
func (s *Service) Close() error {
	s.Stop()
	return s.journal.Close()
}

// context returns the run context, or Background before Start.
func (s *Service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Service) recordTransitions(ctx context.Context, updates <-chan status.Published) {
	var last status.Derived
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case pub, ok := <-updates:
			if !ok {
				return
			}
			if !first && pub.Derived == last {
				continue
			}
			first = false
			last = pub.Derived
			entry := journal.StatusEntry{
				Setup:     pub.Setup.String(),
				Computing: pub.Computing.String(),
				Network:   pub.Network.String(),
			}
			if pub.ComputingReason != ipc.SuspendNone {
				entry.ComputingReason = pub.ComputingReason.String()
			}
			if pub.NetworkReason != ipc.SuspendNone {
				entry.NetworkReason = pub.NetworkReason.String()
			}
			if err := s.journal.RecordStatus(ctx, entry); err != nil && ctx.Err() == nil {
				s.logger.Warn("failed to journal status change", logging.Error(err))
			}
		}
	}
}

func (s *Service) taskFinished(info tasks.Info) {
	s.loop.ForceRefresh()
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := s.journal.RecordTask(ctx, journal.TaskEntry{
		ID:         info.ID,
		Kind:       info.Kind,
		Target:     info.Target,
		Result:     string(info.State),
		Error:      info.Error,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	})
	if err != nil {
		s.logger.Warn("failed to journal task", logging.Error(err), logging.String(logging.FieldTaskID, info.ID))
	}
}

func (s *Service) attachResolved(ev attach.Event) {
	target := ev.Target.URL
	if target == "" {
		target = "none"
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := s.journal.RecordAttach(ctx, journal.AttachEntry{
		Kind:    ev.Kind,
		Target:  target,
		Outcome: ev.Outcome.String(),
		Code:    ev.Target.Code,
		Detail:  ev.Target.Detail,
	})
	if err != nil {
		s.logger.Warn("failed to journal attach outcome", logging.Error(err), logging.String(logging.FieldTarget, target))
	}
}
