package simdaemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"gridlink/internal/ipc"
	"gridlink/internal/logging"
)

// Operation names used to script poll replies.
const (
	OpProjectConfig = "project_config"
	OpLookupAccount = "lookup_account"
	OpCreateAccount = "create_account"
	OpAttach        = "attach"
	OpAcctMgr       = "acct_mgr"
)

// Options configures a simulated daemon.
type Options struct {
	// PollsUntilDone is how many polls report in-progress before the final
	// reply of a request/poll operation is returned.
	PollsUntilDone int
	Logger         *slog.Logger
}

type account struct {
	passwdHash    string
	authenticator string
}

type acctMgr struct {
	name     string
	accounts map[string]string
	projects []string
}

// Daemon is an in-memory implementation of ipc.Backend.
type Daemon struct {
	mu sync.Mutex

	status        ipc.CCStatus
	taskReason    ipc.SuspendReason
	networkReason ipc.SuspendReason
	readErr       error

	results   []ipc.Result
	projects  []ipc.Project
	transfers []ipc.Transfer
	working   ipc.GlobalPrefs
	override  ipc.GlobalPrefs
	messages  []ipc.Message
	seqno     int

	catalog  map[string]ipc.ProjectConfig
	accounts map[string]map[string]account
	managers map[string]*acctMgr
	mgrInfo  ipc.AcctMgrInfo

	pollsUntilDone int
	pending        map[string]*pendingOp
	scripted       map[string][]int

	quit     chan struct{}
	quitOnce sync.Once

	lock     *flock.Flock
	lockPath string
	logger   *slog.Logger
}

// New returns an empty daemon with Auto run modes.
func New(opts Options) *Daemon {
	polls := opts.PollsUntilDone
	if polls < 0 {
		polls = 0
	}
	return &Daemon{
		status: ipc.CCStatus{
			TaskMode:        ipc.RunModeAuto,
			TaskModePerm:    ipc.RunModeAuto,
			NetworkMode:     ipc.RunModeAuto,
			NetworkModePerm: ipc.RunModeAuto,
		},
		working: ipc.GlobalPrefs{
			RunOnBatteries:  true,
			RunIfUserActive: true,
			MaxNCPUsPct:     100,
			CPUUsageLimit:   100,
			DiskMaxUsedPct:  90,
			WorkBufMinDays:  0.1,
		},
		catalog:        make(map[string]ipc.ProjectConfig),
		accounts:       make(map[string]map[string]account),
		managers:       make(map[string]*acctMgr),
		pollsUntilDone: polls,
		pending:        make(map[string]*pendingOp),
		scripted:       make(map[string][]int),
		quit:           make(chan struct{}),
		logger:         logging.NewComponentLogger(opts.Logger, "simdaemon"),
	}
}

// Lock takes an exclusive lock in stateDir so two simulators cannot share it.
func (d *Daemon) Lock(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	d.lockPath = filepath.Join(stateDir, "simdaemon.lock")
	d.lock = flock.New(d.lockPath)
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another simulated daemon is already using " + stateDir)
	}
	d.logger.Debug("state dir locked", logging.String("lock", d.lockPath))
	return nil
}

// Close releases the state dir lock.
func (d *Daemon) Close() error {
	if d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}

// Done is closed once a client asked the daemon to quit.
func (d *Daemon) Done() <-chan struct{} {
	return d.quit
}

// AddProjectConfig makes a project known for configuration fetch and attach.
func (d *Daemon) AddProjectConfig(cfg ipc.ProjectConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg.ErrorNum = ipc.CodeOK
	d.catalog[cfg.MasterURL] = cfg
}

// AddAccount registers an existing account and returns its authenticator.
func (d *Daemon) AddAccount(url, identity, password string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addAccountLocked(url, identity, ipc.HashPassword(password, identity))
}

func (d *Daemon) addAccountLocked(url, identity, hash string) string {
	byID, ok := d.accounts[url]
	if !ok {
		byID = make(map[string]account)
		d.accounts[url] = byID
	}
	key := ipc.NormalizeIdentity(identity)
	auth := authenticatorFor(url, key)
	byID[key] = account{passwdHash: hash, authenticator: auth}
	return auth
}

// AddAccountManager registers an account manager that attaches the given
// project URLs on a successful sync.
func (d *Daemon) AddAccountManager(url, name, user, password string, projects ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mgr, ok := d.managers[url]
	if !ok {
		mgr = &acctMgr{name: name, accounts: make(map[string]string)}
		d.managers[url] = mgr
	}
	mgr.accounts[ipc.NormalizeIdentity(user)] = ipc.HashPassword(password, user)
	mgr.projects = append(mgr.projects, projects...)
}

// AddProject attaches a project directly.
func (d *Daemon) AddProject(p ipc.Project) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects = append(d.projects, p)
}

// AddResult adds a work item.
func (d *Daemon) AddResult(r ipc.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}

// AddTransfer adds a file transfer.
func (d *Daemon) AddTransfer(t ipc.Transfer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transfers = append(d.transfers, t)
}

// SetStatus replaces the raw run mode block, bypassing validation.
func (d *Daemon) SetStatus(st ipc.CCStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = st
	d.taskReason = st.TaskSuspendReason
	d.networkReason = st.NetworkSuspendReason
}

// SetSuspendReasons sets the reasons reported while a mode is not Never.
func (d *Daemon) SetSuspendReasons(task, network ipc.SuspendReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taskReason = task
	d.networkReason = network
	d.refreshReasonsLocked()
}

// FailReads makes every read return err until called again with nil.
func (d *Daemon) FailReads(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

// ScriptPolls queues codes returned by the next polls of op, ahead of the
// regular reply.
func (d *Daemon) ScriptPolls(op string, codes ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripted[op] = append(d.scripted[op], codes...)
}

// AddMessage appends an event log entry.
func (d *Daemon) AddMessage(project, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addMessageLocked(project, body)
}

func (d *Daemon) addMessageLocked(project, body string) {
	d.seqno++
	d.messages = append(d.messages, ipc.Message{
		Seqno:     d.seqno,
		Project:   project,
		Priority:  1,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
}

func (d *Daemon) refreshReasonsLocked() {
	if d.status.TaskMode == ipc.RunModeNever {
		d.status.TaskSuspendReason = ipc.SuspendUserRequest
	} else {
		d.status.TaskSuspendReason = d.taskReason
	}
	if d.status.NetworkMode == ipc.RunModeNever {
		d.status.NetworkSuspendReason = ipc.SuspendUserRequest
	} else {
		d.status.NetworkSuspendReason = d.networkReason
	}
}

func (d *Daemon) projectIndexLocked(url string) int {
	for i := range d.projects {
		if d.projects[i].MasterURL == url {
			return i
		}
	}
	return -1
}

func (d *Daemon) projectNameLocked(url string) string {
	if i := d.projectIndexLocked(url); i >= 0 {
		return d.projects[i].Name
	}
	if cfg, ok := d.catalog[url]; ok {
		return cfg.Name
	}
	return url
}

func authenticatorFor(url, identity string) string {
	return ipc.HashPassword(url, "auth:"+identity)
}
