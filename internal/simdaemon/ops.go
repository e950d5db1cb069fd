package simdaemon

import (
	"net/url"
	"strings"

	"gridlink/internal/ipc"
)

// pendingOp is a submitted request whose reply becomes visible after a
// number of in-progress polls.
type pendingOp struct {
	remaining int
	code      int
	config    ipc.ProjectConfig
	account   ipc.AccountOut
	messages  []string
}

func (d *Daemon) submitLocked(op string, p *pendingOp) {
	p.remaining = d.pollsUntilDone
	d.pending[op] = p
}

// pollLocked returns the code to report for op, plus the pending operation
// once it is complete.
func (d *Daemon) pollLocked(op string) (int, *pendingOp) {
	if codes := d.scripted[op]; len(codes) > 0 {
		d.scripted[op] = codes[1:]
		return codes[0], nil
	}
	p, ok := d.pending[op]
	if !ok {
		return ipc.ErrGeneric, nil
	}
	if p.remaining > 0 {
		p.remaining--
		return ipc.ErrInProgress, nil
	}
	delete(d.pending, op)
	return p.code, p
}

func validURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (d *Daemon) StartProjectConfig(rawURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pendingOp{}
	switch cfg, ok := d.catalog[rawURL]; {
	case !validURL(rawURL):
		p.code = ipc.ErrInvalidURL
	case !ok:
		p.code = ipc.ErrNotFound
	default:
		p.config = cfg
	}
	p.config.ErrorNum = p.code
	d.submitLocked(OpProjectConfig, p)
	return nil
}

func (d *Daemon) PollProjectConfig() ipc.ProjectConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, p := d.pollLocked(OpProjectConfig)
	if p == nil {
		return ipc.ProjectConfig{ErrorNum: code}
	}
	return p.config
}

func (d *Daemon) StartLookupAccount(in ipc.AccountIn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pendingOp{}
	identity := ipc.NormalizeIdentity(in.Identity())
	acct, ok := d.accounts[in.URL][identity]
	switch {
	case identity == "":
		p.code = ipc.ErrBadUserName
	case !ok:
		p.code = ipc.ErrNotFound
	case acct.passwdHash != in.PasswdHash:
		p.code = ipc.ErrBadPasswd
	default:
		p.account.Authenticator = acct.authenticator
	}
	p.account.ErrorNum = p.code
	d.submitLocked(OpLookupAccount, p)
	return nil
}

func (d *Daemon) PollLookupAccount() ipc.AccountOut {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, p := d.pollLocked(OpLookupAccount)
	if p == nil {
		return ipc.AccountOut{ErrorNum: code}
	}
	return p.account
}

func (d *Daemon) StartCreateAccount(in ipc.AccountIn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pendingOp{}
	cfg, known := d.catalog[in.URL]
	identity := ipc.NormalizeIdentity(in.Identity())
	_, exists := d.accounts[in.URL][identity]
	switch {
	case !known:
		p.code = ipc.ErrNotFound
	case cfg.RegistrationDisabled():
		p.code = ipc.ErrAcctCreationDisabled
	case cfg.TermsOfUse != "" && !in.ConsentedToTerms:
		p.code = ipc.ErrAcctRequireConsent
	case in.UsesUsername && identity == "":
		p.code = ipc.ErrBadUserName
	case !in.UsesUsername && !strings.Contains(identity, "@"):
		p.code = ipc.ErrBadEmailAddr
	case exists:
		p.code = ipc.ErrDBNotUnique
	default:
		p.account.Authenticator = d.addAccountLocked(in.URL, identity, in.PasswdHash)
	}
	p.account.ErrorNum = p.code
	d.submitLocked(OpCreateAccount, p)
	return nil
}

func (d *Daemon) PollCreateAccount() ipc.AccountOut {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, p := d.pollLocked(OpCreateAccount)
	if p == nil {
		return ipc.AccountOut{ErrorNum: code}
	}
	return p.account
}

func (d *Daemon) StartProjectAttach(rawURL, authenticator, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pendingOp{}
	switch {
	case !validURL(rawURL):
		p.code = ipc.ErrInvalidURL
	case d.projectIndexLocked(rawURL) >= 0:
		p.code = ipc.ErrAlreadyAttached
	case !d.knownAuthenticatorLocked(rawURL, authenticator):
		p.code = ipc.ErrUnauthorized
	default:
		if name == "" {
			name = d.projectNameLocked(rawURL)
		}
		d.projects = append(d.projects, ipc.Project{MasterURL: rawURL, Name: name, UserName: d.userForLocked(rawURL, authenticator)})
		d.addMessageLocked(name, "Attached to project")
		p.messages = []string{"attached to " + name}
	}
	d.submitLocked(OpAttach, p)
	return nil
}

func (d *Daemon) PollProjectAttach() ipc.ProjectAttachReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, p := d.pollLocked(OpAttach)
	if p == nil {
		return ipc.ProjectAttachReply{ErrorNum: code}
	}
	return ipc.ProjectAttachReply{ErrorNum: p.code, Messages: p.messages}
}

func (d *Daemon) knownAuthenticatorLocked(url, authenticator string) bool {
	for _, acct := range d.accounts[url] {
		if acct.authenticator == authenticator {
			return true
		}
	}
	return false
}

func (d *Daemon) userForLocked(url, authenticator string) string {
	for identity, acct := range d.accounts[url] {
		if acct.authenticator == authenticator {
			return identity
		}
	}
	return ""
}

// StartAcctMgrRPC attaches to, syncs with, or (with an empty URL) detaches
// from an account manager. Empty credentials with the current URL re-sync.
func (d *Daemon) StartAcctMgrRPC(rawURL, name, passwdHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pendingOp{}
	d.submitLocked(OpAcctMgr, p)

	if rawURL == "" {
		d.mgrInfo = ipc.AcctMgrInfo{}
		for i := range d.projects {
			d.projects[i].AttachedViaAcctMgr = false
		}
		p.messages = []string{"detached from account manager"}
		return nil
	}
	mgr, ok := d.managers[rawURL]
	if !ok {
		if validURL(rawURL) {
			p.code = ipc.ErrNotFound
		} else {
			p.code = ipc.ErrInvalidURL
		}
		return nil
	}
	resync := name == "" && passwdHash == "" && d.mgrInfo.URL == rawURL && d.mgrInfo.HaveCredentials
	if !resync {
		hash, known := mgr.accounts[ipc.NormalizeIdentity(name)]
		switch {
		case !known:
			p.code = ipc.ErrNotFound
			return nil
		case hash != passwdHash:
			p.code = ipc.ErrBadPasswd
			return nil
		}
	}

	d.mgrInfo = ipc.AcctMgrInfo{URL: rawURL, Name: mgr.name, HaveCredentials: true}
	for _, projectURL := range mgr.projects {
		if i := d.projectIndexLocked(projectURL); i >= 0 {
			d.projects[i].AttachedViaAcctMgr = true
			continue
		}
		d.projects = append(d.projects, ipc.Project{
			MasterURL:          projectURL,
			Name:               d.projectNameLocked(projectURL),
			AttachedViaAcctMgr: true,
		})
	}
	d.addMessageLocked("", "Account manager sync complete: "+mgr.name)
	p.messages = []string{"synchronized with " + mgr.name}
	return nil
}

func (d *Daemon) PollAcctMgrRPC() ipc.AcctMgrRPCReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, p := d.pollLocked(OpAcctMgr)
	if p == nil {
		return ipc.AcctMgrRPCReply{ErrorNum: code}
	}
	return ipc.AcctMgrRPCReply{ErrorNum: p.code, Messages: p.messages}
}
