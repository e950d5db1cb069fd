package monitor

import (
	"context"
	"errors"
	"time"

	"gridlink/internal/attach"
	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/status"
	"gridlink/internal/tasks"
)

// Task kinds recorded in the journal and in metrics.
const (
	KindRunMode      = "run_mode"
	KindNetworkMode  = "network_mode"
	KindPreferences  = "preferences"
	KindProjectOp    = "project_op"
	KindTransferOp   = "transfer_op"
	KindAttach       = "attach"
	KindAttachBatch  = "attach_batch"
	KindResolve      = "resolve"
	KindAcctMgr      = "acct_mgr_attach"
	KindAcctMgrSync  = "acct_mgr_sync"
	KindAcctMgrLeave = "acct_mgr_detach"
)

// Done is the value of write tasks that return nothing.
type Done struct{}

// write runs fn on the live channel as a task.
func write[T any](s *Service, kind, target string, fn func(ctx context.Context, ch *ipc.Client) (T, error)) *tasks.Future[T] {
	return tasks.Submit(s.runner, s.context(), kind, target, func(ctx context.Context) (T, error) {
		ch, err := s.loop.Channel()
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, ch)
	})
}

// SetRunMode sets the compute mode. A positive d makes the change temporary.
func (s *Service) SetRunMode(mode ipc.RunMode, d time.Duration) *tasks.Future[Done] {
	return write(s, KindRunMode, mode.String(), func(ctx context.Context, ch *ipc.Client) (Done, error) {
		return Done{}, ch.SetRunMode(ctx, mode, d)
	})
}

// SetNetworkMode sets the network mode. A positive d makes the change
// temporary.
func (s *Service) SetNetworkMode(mode ipc.RunMode, d time.Duration) *tasks.Future[Done] {
	return write(s, KindNetworkMode, mode.String(), func(ctx context.Context, ch *ipc.Client) (Done, error) {
		return Done{}, ch.SetNetworkMode(ctx, mode, d)
	})
}

// SetPreferences writes the override file and tells the daemon to reload
// it. The new working preferences are returned.
func (s *Service) SetPreferences(prefs ipc.GlobalPrefs) *tasks.Future[*ipc.GlobalPrefs] {
	return write(s, KindPreferences, "", func(ctx context.Context, ch *ipc.Client) (*ipc.GlobalPrefs, error) {
		if err := ch.SetGlobalPrefsOverride(ctx, prefs); err != nil {
			return nil, err
		}
		if err := ch.ReadGlobalPrefsOverride(ctx); err != nil {
			return nil, err
		}
		return ch.GetGlobalPrefsWorking(ctx)
	})
}

// ProjectOp runs op on the project at url.
func (s *Service) ProjectOp(op ipc.ProjectOp, url string) *tasks.Future[Done] {
	url = attach.CanonicalURL(url)
	return write(s, KindProjectOp, url, func(ctx context.Context, ch *ipc.Client) (Done, error) {
		return Done{}, ch.ProjectOp(ctx, op, url)
	})
}

// TransferOp runs op on the named file transfer of the project at url.
func (s *Service) TransferOp(op ipc.TransferOp, url, name string) *tasks.Future[Done] {
	url = attach.CanonicalURL(url)
	return write(s, KindTransferOp, name, func(ctx context.Context, ch *ipc.Client) (Done, error) {
		return Done{}, ch.TransferOp(ctx, op, url, name)
	})
}

// Attach selects url, fetches its configuration, and attaches to it.
func (s *Service) Attach(url string, creds attach.Credentials, opts attach.Options) *tasks.Future[attach.Target] {
	url = attach.CanonicalURL(url)
	return tasks.Submit(s.runner, s.context(), KindAttach, url, func(ctx context.Context) (attach.Target, error) {
		return s.saga.AttachProject(ctx, url, creds, opts)
	})
}

// AttachBatch selects every target, fetches their configurations, and
// attaches each Ready one with the same credentials. Failed targets remain
// available through Resolve.
func (s *Service) AttachBatch(targets []attach.Target, creds attach.Credentials, opts attach.Options) *tasks.Future[[]attach.Target] {
	return tasks.Submit(s.runner, s.context(), KindAttachBatch, "", func(ctx context.Context) ([]attach.Target, error) {
		s.saga.Select(targets...)
		if err := s.saga.StartConfigFetch(ctx); err != nil && !errors.Is(err, attach.ErrFetchRunning) {
			return nil, err
		}
		if err := s.saga.WaitConfigFetch(ctx); err != nil {
			return nil, err
		}
		return s.saga.AttachBatch(ctx, creds, opts)
	})
}

// Resolve retries one failed target with corrected credentials.
func (s *Service) Resolve(url string, creds attach.Credentials, opts attach.Options) *tasks.Future[attach.Target] {
	url = attach.CanonicalURL(url)
	return tasks.Submit(s.runner, s.context(), KindResolve, url, func(ctx context.Context) (attach.Target, error) {
		return s.saga.Resolve(ctx, url, creds, opts)
	})
}

// AttachAccountManager attaches the daemon to the account manager at url.
func (s *Service) AttachAccountManager(url, name, password string) *tasks.Future[attach.Target] {
	url = attach.CanonicalURL(url)
	return tasks.Submit(s.runner, s.context(), KindAcctMgr, url, func(ctx context.Context) (attach.Target, error) {
		return s.saga.AttachAccountManager(ctx, url, name, password)
	})
}

// SyncAccountManager re-syncs with the attached account manager.
func (s *Service) SyncAccountManager() *tasks.Future[attach.Target] {
	return tasks.Submit(s.runner, s.context(), KindAcctMgrSync, "", func(ctx context.Context) (attach.Target, error) {
		return s.saga.SyncAccountManager(ctx)
	})
}

// DetachAccountManager removes the account manager association.
func (s *Service) DetachAccountManager() *tasks.Future[attach.Target] {
	return tasks.Submit(s.runner, s.context(), KindAcctMgrLeave, "", func(ctx context.Context) (attach.Target, error) {
		return s.saga.DetachAccountManager(ctx)
	})
}

// AccountManager reads the current account manager association.
func (s *Service) AccountManager(ctx context.Context) (*ipc.AcctMgrInfo, error) {
	return s.saga.AccountManager(ctx)
}

// Quit asks the daemon to exit. The setup status moves to Closing before
// the request and to Closed after it, and the refresh loop stops.
func (s *Service) Quit(ctx context.Context) error {
	ch, err := s.loop.Channel()
	if err != nil {
		return err
	}
	s.holder.SetSetup(status.SetupClosing)
	err = ch.Quit(ctx)
	s.loop.Stop()
	s.holder.SetSetup(status.SetupClosed)
	if err != nil {
		logging.WarnWithContext(s.logger, "daemon quit request failed", "quit_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the daemon may still be running"))
		return err
	}
	s.logger.Info("daemon asked to quit", logging.String(logging.FieldEventType, "daemon_quit"))
	return nil
}
