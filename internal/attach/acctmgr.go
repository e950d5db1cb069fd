package attach

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gridlink/internal/asyncop"
	"gridlink/internal/ipc"
	"gridlink/internal/logging"
)

var (
	// ErrNoAccountManager is returned by SyncAccountManager when the daemon
	// is not attached to an account manager.
	ErrNoAccountManager = errors.New("no account manager attached")
	// ErrVerifyFailed is returned when the manager association read after a
	// successful RPC does not match the request.
	ErrVerifyFailed = errors.New("account manager verification failed")
)

// AttachAccountManager attaches the daemon to the account manager at url.
// The returned target carries the manager name from the verification read.
func (s *Saga) AttachAccountManager(ctx context.Context, url, name, password string) (Target, error) {
	url = CanonicalURL(url)
	hash := ""
	if name != "" || password != "" {
		hash = ipc.HashPassword(password, name)
	}
	return s.acctMgr(ctx, url, strings.TrimSpace(name), hash)
}

// SyncAccountManager re-syncs with the currently attached account manager
// using the credentials the daemon already holds.
func (s *Saga) SyncAccountManager(ctx context.Context) (Target, error) {
	info, err := s.acctMgrInfo(ctx)
	if err != nil {
		return Target{}, err
	}
	if !info.Attached() {
		return Target{}, ErrNoAccountManager
	}
	return s.acctMgr(ctx, info.URL, "", "")
}

// DetachAccountManager removes the account manager association.
func (s *Saga) DetachAccountManager(ctx context.Context) (Target, error) {
	return s.acctMgr(ctx, "", "", "")
}

// AccountManager reads the daemon's current account manager association.
func (s *Saga) AccountManager(ctx context.Context) (*ipc.AcctMgrInfo, error) {
	return s.acctMgrInfo(ctx)
}

func (s *Saga) acctMgrInfo(ctx context.Context) (*ipc.AcctMgrInfo, error) {
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}
	return ch.GetAcctMgrInfo(ctx)
}

func (s *Saga) acctMgr(ctx context.Context, url, name, hash string) (Target, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	logger := s.logger.With(logging.String(logging.FieldTarget, url))
	target := Target{URL: url, Outcome: OutcomeInProgress}
	op := asyncop.Operation[*ipc.AcctMgrRPCReply]{
		Kind: asyncop.KindAcctMgr,
		Submit: func(ctx context.Context) error {
			ch, err := s.channel()
			if err != nil {
				return err
			}
			return ch.AcctMgrRPC(ctx, url, name, hash)
		},
		Poll: func(ctx context.Context) (*ipc.AcctMgrRPCReply, error) {
			ch, err := s.channel()
			if err != nil {
				return nil, err
			}
			return ch.AcctMgrRPCPoll(ctx)
		},
	}
	reply, err := asyncop.Run(ctx, s.runner, op, s.budgets.AcctMgr)
	switch {
	case err != nil && ctx.Err() != nil:
		return Target{URL: url}, ctx.Err()
	case err != nil:
		target.Outcome, target.Code, target.Detail = OutcomeUndefined, codeOf(reply), err.Error()
	case reply.Code() != ipc.CodeOK:
		target.Outcome, target.Code, target.Detail = OutcomeForCode(reply.Code()), reply.Code(), ipc.CodeName(reply.Code())
	default:
		target.Detail = strings.Join(reply.Messages, "; ")
		info, verr := s.acctMgrInfo(ctx)
		switch {
		case verr != nil:
			err = fmt.Errorf("read account manager info: %w", verr)
			target.Outcome, target.Detail = OutcomeUndefined, err.Error()
		case info.URL != url:
			err = fmt.Errorf("%w: daemon reports %q", ErrVerifyFailed, info.URL)
			target.Outcome, target.Detail = OutcomeUndefined, err.Error()
		default:
			target.Outcome, target.Name = OutcomeSuccess, info.Name
		}
	}

	s.recorder.IncAttachOutcome(target.Outcome.String())
	s.mu.Lock()
	s.emitLocked("acct_mgr", &target)
	s.mu.Unlock()

	if target.Outcome == OutcomeSuccess {
		logger.Info("account manager synchronized",
			logging.String(logging.FieldEventType, "acct_mgr_synced"),
			logging.String("manager", target.Name))
		return target, nil
	}
	logging.WarnWithContext(logger, "account manager operation failed", "acct_mgr_failed",
		logging.String("outcome", target.Outcome.String()),
		logging.Int(logging.FieldCode, target.Code),
		logging.String(logging.FieldImpact, "account manager projects were not synchronized"),
		logging.String(logging.FieldErrorHint, attachHint(target.Outcome)))
	return target, err
}
