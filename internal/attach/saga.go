package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gridlink/internal/asyncop"
	"gridlink/internal/config"
	"gridlink/internal/ipc"
	"gridlink/internal/logging"
	"gridlink/internal/metrics"
	"gridlink/internal/retry"
)

var (
	// ErrUnknownTarget is returned for a URL that was never selected.
	ErrUnknownTarget = errors.New("attach target not selected")
	// ErrNotReady is returned when a target's configuration is missing.
	ErrNotReady = errors.New("attach target is not ready")
	// ErrBusy is returned while another operation holds the target.
	ErrBusy = errors.New("attach target is in progress")
	// ErrNoConflict is returned by Resolve for a target without a failed outcome.
	ErrNoConflict = errors.New("attach target has no conflict to resolve")
	// ErrFetchRunning is returned when a configuration batch is already running.
	ErrFetchRunning = errors.New("configuration fetch already running")
)

// ChannelFunc returns the live daemon channel.
type ChannelFunc func() (*ipc.Client, error)

// Target is one project or account manager the caller wants attached. Values
// returned by the saga are copies.
type Target struct {
	URL     string
	Name    string
	Config  *ipc.ProjectConfig
	Outcome Outcome
	Code    int
	Detail  string
}

// Credentials identify the volunteer account.
type Credentials struct {
	Email          string
	UserName       string
	Password       string
	TeamName       string
	ConsentToTerms bool
}

// Options alter a single attach.
type Options struct {
	// ForceLogin looks up an existing account instead of registering one.
	ForceLogin bool
}

// Event describes a resolved target, for journaling.
type Event struct {
	Kind    string
	Target  Target
	Outcome Outcome
}

// Budgets holds the retry settings of each operation the saga issues.
type Budgets struct {
	ProjectConfig retry.Settings
	LookupAccount retry.Settings
	CreateAccount retry.Settings
	Attach        retry.Settings
	AcctMgr       retry.Settings
}

// BudgetsFromConfig reads the per-kind operation settings.
func BudgetsFromConfig(cfg *config.Config) Budgets {
	ops := cfg.Operations
	settings := func(op config.Operation) retry.Settings {
		return retry.NewSettings(op.MaxAttempts, op.PollInterval())
	}
	return Budgets{
		ProjectConfig: settings(ops.ProjectConfig),
		LookupAccount: settings(ops.LookupAccount),
		CreateAccount: settings(ops.CreateAccount),
		Attach:        settings(ops.Attach),
		AcctMgr:       settings(ops.AcctMgr),
	}
}

// Saga drives targets from selection through configuration fetch,
// credential retrieval, and attach.
type Saga struct {
	channel  ChannelFunc
	budgets  Budgets
	runner   *asyncop.Runner
	logger   *slog.Logger
	recorder metrics.Recorder

	// opMu keeps request/poll pairs from different targets from
	// interleaving on the daemon.
	opMu sync.Mutex

	mu       sync.Mutex
	targets  map[string]*Target
	order    []string
	fetching bool
	fetched  chan struct{}
	observer func(Event)
}

// NewSaga builds a saga that issues requests on the channel returned by
// channel.
func NewSaga(channel ChannelFunc, budgets Budgets, logger *slog.Logger, recorder metrics.Recorder) *Saga {
	return &Saga{
		channel:  channel,
		budgets:  budgets,
		runner:   asyncop.NewRunner(logger, recorder),
		logger:   logging.NewComponentLogger(logger, "attach"),
		recorder: metrics.OrNoop(recorder),
		targets:  make(map[string]*Target),
	}
}

// OnResolved registers fn to receive every final outcome. fn runs with the
// saga's lock held and must not call back into the saga.
func (s *Saga) OnResolved(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// CanonicalURL trims the URL, defaults the scheme to http, and ensures a
// trailing slash.
func CanonicalURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// Select adds targets or resets re-selected ones to Uninitialized. Existing
// targets that are not named stay as they are.
func (s *Saga) Select(targets ...Target) []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		url := CanonicalURL(t.URL)
		if url == "" {
			continue
		}
		existing, ok := s.targets[url]
		if ok && existing.Outcome == OutcomeInProgress {
			out = append(out, *existing)
			continue
		}
		fresh := &Target{URL: url, Name: t.Name}
		if !ok {
			s.order = append(s.order, url)
		}
		s.targets[url] = fresh
		out = append(out, *fresh)
	}
	return out
}

// Targets returns every selected target in selection order.
func (s *Saga) Targets() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Target, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, *s.targets[url])
	}
	return out
}

// Target returns the current state of the target at url.
func (s *Saga) Target(url string) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[CanonicalURL(url)]
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// StartConfigFetch downloads the configuration of every Uninitialized target
// in one background job.
func (s *Saga) StartConfigFetch(ctx context.Context) error {
	s.mu.Lock()
	if s.fetching {
		s.mu.Unlock()
		return ErrFetchRunning
	}
	var pending []string
	for _, url := range s.order {
		if s.targets[url].Outcome == OutcomeUninitialized {
			pending = append(pending, url)
		}
	}
	s.fetching = true
	done := make(chan struct{})
	s.fetched = done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.fetching = false
			s.mu.Unlock()
			close(done)
		}()
		for _, url := range pending {
			if ctx.Err() != nil {
				return
			}
			s.fetchConfig(ctx, url)
		}
	}()
	return nil
}

// ConfigFetchFinished reports whether every target has left Uninitialized
// and no fetch job is running.
func (s *Saga) ConfigFetchFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetching {
		return false
	}
	for _, url := range s.order {
		if !s.targets[url].Outcome.ConfigDone() {
			return false
		}
	}
	return true
}

// WaitConfigFetch blocks until the running fetch job ends.
func (s *Saga) WaitConfigFetch(ctx context.Context) error {
	s.mu.Lock()
	done := s.fetched
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Saga) fetchConfig(ctx context.Context, url string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	logger := s.logger.With(logging.String(logging.FieldTarget, url))
	op := asyncop.Operation[*ipc.ProjectConfig]{
		Kind: asyncop.KindProjectConfig,
		Submit: func(ctx context.Context) error {
			ch, err := s.channel()
			if err != nil {
				return err
			}
			return ch.GetProjectConfig(ctx, url)
		},
		Poll: func(ctx context.Context) (*ipc.ProjectConfig, error) {
			ch, err := s.channel()
			if err != nil {
				return nil, err
			}
			return ch.GetProjectConfigPoll(ctx)
		},
	}
	cfg, err := asyncop.Run(ctx, s.runner, op, s.budgets.ProjectConfig)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[url]
	if !ok || t.Outcome != OutcomeUninitialized {
		return
	}
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case err != nil:
		t.Outcome, t.Detail = OutcomeConfigFailed, err.Error()
		if cfg != nil {
			t.Code = cfg.Code()
		}
	case cfg.Code() != ipc.CodeOK:
		t.Outcome, t.Code, t.Detail = OutcomeConfigFailed, cfg.Code(), ipc.CodeName(cfg.Code())
	default:
		t.Outcome, t.Code, t.Detail = OutcomeReady, ipc.CodeOK, ""
		t.Config = cfg
		if t.Name == "" {
			t.Name = cfg.Name
		}
	}
	if t.Outcome == OutcomeConfigFailed {
		logging.WarnWithContext(logger, "project configuration unavailable", "config_fetch_failed",
			logging.Int(logging.FieldCode, t.Code),
			logging.String("detail", t.Detail),
			logging.String(logging.FieldImpact, "the target cannot be attached"),
			logging.String(logging.FieldErrorHint, "check the project URL and the daemon's network access"))
		s.emitLocked("project", t)
		return
	}
	logger.Debug("project configuration fetched", logging.String("project", t.Name))
}

// Attach obtains credentials for a Ready target and attaches it.
func (s *Saga) Attach(ctx context.Context, url string, creds Credentials, opts Options) (Target, error) {
	return s.attach(ctx, url, creds, opts, func(o Outcome) error {
		switch {
		case o == OutcomeReady:
			return nil
		case o == OutcomeInProgress:
			return ErrBusy
		case o == OutcomeUninitialized || o == OutcomeConfigFailed:
			return ErrNotReady
		default:
			return fmt.Errorf("%w: outcome is %s", ErrNotReady, o)
		}
	})
}

// Resolve retries one conflicting target, typically with corrected
// credentials, without touching the rest of the batch.
func (s *Saga) Resolve(ctx context.Context, url string, creds Credentials, opts Options) (Target, error) {
	return s.attach(ctx, url, creds, opts, func(o Outcome) error {
		switch {
		case o.Conflict():
			return nil
		case o == OutcomeInProgress:
			return ErrBusy
		default:
			return ErrNoConflict
		}
	})
}

// AttachBatch attaches every Ready target with the same credentials and
// returns the processed targets. Resolved targets are skipped.
func (s *Saga) AttachBatch(ctx context.Context, creds Credentials, opts Options) ([]Target, error) {
	s.mu.Lock()
	var ready []string
	for _, url := range s.order {
		if s.targets[url].Outcome == OutcomeReady {
			ready = append(ready, url)
		}
	}
	s.mu.Unlock()

	results := make([]Target, 0, len(ready))
	for _, url := range ready {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		t, err := s.Attach(ctx, url, creds, opts)
		if err != nil && ctx.Err() != nil {
			return results, ctx.Err()
		}
		if errors.Is(err, ErrBusy) || errors.Is(err, ErrNotReady) {
			continue
		}
		results = append(results, t)
	}
	return results, nil
}

// Conflicts lists the targets whose attach failed.
func (s *Saga) Conflicts() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Target
	for _, url := range s.order {
		if t := s.targets[url]; t.Outcome.Conflict() {
			out = append(out, *t)
		}
	}
	return out
}

// AttachProject selects url, fetches its configuration, and attaches it in
// one call.
func (s *Saga) AttachProject(ctx context.Context, url string, creds Credentials, opts Options) (Target, error) {
	s.Select(Target{URL: url})
	if err := s.WaitConfigFetch(ctx); err != nil {
		return Target{}, err
	}
	canonical := CanonicalURL(url)
	s.fetchConfig(ctx, canonical)
	if err := ctx.Err(); err != nil {
		return Target{}, err
	}
	t, _ := s.Target(canonical)
	if t.Outcome == OutcomeConfigFailed {
		return t, nil
	}
	return s.Attach(ctx, canonical, creds, opts)
}

func (s *Saga) attach(ctx context.Context, url string, creds Credentials, opts Options, allowed func(Outcome) error) (Target, error) {
	url = CanonicalURL(url)
	s.mu.Lock()
	t, ok := s.targets[url]
	if !ok {
		s.mu.Unlock()
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownTarget, url)
	}
	err := allowed(t.Outcome)
	if err == nil && t.Config == nil {
		err = ErrNotReady
	}
	if err != nil {
		snapshot := *t
		s.mu.Unlock()
		return snapshot, err
	}
	previous := t.Outcome
	t.Outcome = OutcomeInProgress
	cfg := *t.Config
	name := t.Name
	s.mu.Unlock()

	s.opMu.Lock()
	outcome, code, detail, err := s.runAttach(ctx, url, name, cfg, creds, opts)
	s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && ctx.Err() != nil {
		t.Outcome = previous
		return *t, ctx.Err()
	}
	t.Outcome, t.Code, t.Detail = outcome, code, detail
	s.recorder.IncAttachOutcome(outcome.String())
	s.emitLocked("project", t)

	logger := s.logger.With(logging.String(logging.FieldTarget, url))
	if outcome == OutcomeSuccess {
		logger.Info("project attached",
			logging.String(logging.FieldEventType, "project_attached"),
			logging.String("project", name))
	} else {
		logging.WarnWithContext(logger, "project attach failed", "project_attach_failed",
			logging.String("outcome", outcome.String()),
			logging.Int(logging.FieldCode, code),
			logging.String(logging.FieldImpact, "the project was not attached"),
			logging.String(logging.FieldErrorHint, attachHint(outcome)))
	}
	return *t, err
}

// runAttach performs credential retrieval and attach. A non-nil error means
// the operation could not complete; the outcome is then Undefined.
func (s *Saga) runAttach(ctx context.Context, url, name string, cfg ipc.ProjectConfig, creds Credentials, opts Options) (Outcome, int, string, error) {
	in := ipc.AccountIn{
		URL:              url,
		EmailAddr:        strings.TrimSpace(creds.Email),
		UserName:         strings.TrimSpace(creds.UserName),
		UsesUsername:     cfg.UsesUsername,
		TeamName:         creds.TeamName,
		ConsentedToTerms: creds.ConsentToTerms,
	}
	in.PasswdHash = ipc.HashPassword(creds.Password, in.Identity())

	lookup := opts.ForceLogin || cfg.RegistrationDisabled()
	account, err := s.credentials(ctx, in, lookup)
	if err != nil {
		return OutcomeUndefined, codeOf(account), err.Error(), err
	}
	if code := account.Code(); code != ipc.CodeOK {
		detail := strings.TrimSpace(account.ErrorMsg)
		if detail == "" {
			detail = ipc.CodeName(code)
		}
		return OutcomeForCode(code), code, detail, nil
	}

	op := asyncop.Operation[*ipc.ProjectAttachReply]{
		Kind: asyncop.KindAttach,
		Submit: func(ctx context.Context) error {
			ch, err := s.channel()
			if err != nil {
				return err
			}
			return ch.ProjectAttach(ctx, url, account.Authenticator, name)
		},
		Poll: func(ctx context.Context) (*ipc.ProjectAttachReply, error) {
			ch, err := s.channel()
			if err != nil {
				return nil, err
			}
			return ch.ProjectAttachPoll(ctx)
		},
	}
	reply, err := asyncop.Run(ctx, s.runner, op, s.budgets.Attach)
	if err != nil {
		return OutcomeUndefined, codeOf(reply), err.Error(), err
	}
	if code := reply.Code(); code != ipc.CodeOK {
		return OutcomeUndefined, code, ipc.CodeName(code), nil
	}
	return OutcomeSuccess, ipc.CodeOK, strings.Join(reply.Messages, "; "), nil
}

func (s *Saga) credentials(ctx context.Context, in ipc.AccountIn, lookup bool) (*ipc.AccountOut, error) {
	if lookup {
		return asyncop.Run(ctx, s.runner, asyncop.Operation[*ipc.AccountOut]{
			Kind: asyncop.KindLookupAccount,
			Submit: func(ctx context.Context) error {
				ch, err := s.channel()
				if err != nil {
					return err
				}
				return ch.LookupAccount(ctx, in)
			},
			Poll: func(ctx context.Context) (*ipc.AccountOut, error) {
				ch, err := s.channel()
				if err != nil {
					return nil, err
				}
				return ch.LookupAccountPoll(ctx)
			},
		}, s.budgets.LookupAccount)
	}
	return asyncop.Run(ctx, s.runner, asyncop.Operation[*ipc.AccountOut]{
		Kind: asyncop.KindCreateAccount,
		Submit: func(ctx context.Context) error {
			ch, err := s.channel()
			if err != nil {
				return err
			}
			return ch.CreateAccount(ctx, in)
		},
		Poll: func(ctx context.Context) (*ipc.AccountOut, error) {
			ch, err := s.channel()
			if err != nil {
				return nil, err
			}
			return ch.CreateAccountPoll(ctx)
		},
	}, s.budgets.CreateAccount)
}

func (s *Saga) emitLocked(kind string, t *Target) {
	if s.observer == nil {
		return
	}
	s.observer(Event{Kind: kind, Target: *t, Outcome: t.Outcome})
}

func codeOf[R ipc.Coded](r R) int {
	var zero R
	if any(r) == any(zero) {
		return 0
	}
	return r.Code()
}

func attachHint(o Outcome) string {
	switch o {
	case OutcomeNameNotUnique:
		return "the account already exists; retry with login"
	case OutcomeBadPassword:
		return "check the password and resolve the target"
	case OutcomeUnknownUser:
		return "no such account; register instead of logging in"
	case OutcomeTosRequired:
		return "accept the project's terms of use and resolve the target"
	default:
		return "see the daemon's event log for details"
	}
}
