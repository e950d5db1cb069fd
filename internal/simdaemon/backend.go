package simdaemon

import (
	"slices"
	"time"

	"gridlink/internal/ipc"
)

var _ ipc.Backend = (*Daemon)(nil)

func notFound(op, what string) error {
	return &ipc.CodeError{Op: op, Code: ipc.ErrNotFound, Message: what}
}

func (d *Daemon) Status() (ipc.CCStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return ipc.CCStatus{}, d.readErr
	}
	return d.status, nil
}

func (d *Daemon) Results(activeOnly bool) ([]ipc.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, d.readErr
	}
	out := make([]ipc.Result, 0, len(d.results))
	for _, r := range d.results {
		if activeOnly && !r.ActiveTask {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *Daemon) Projects() ([]ipc.Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, d.readErr
	}
	return slices.Clone(d.projects), nil
}

func (d *Daemon) Transfers() ([]ipc.Transfer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, d.readErr
	}
	return slices.Clone(d.transfers), nil
}

func (d *Daemon) GlobalPrefsWorking() (ipc.GlobalPrefs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return ipc.GlobalPrefs{}, d.readErr
	}
	return d.working, nil
}

func (d *Daemon) Messages(sinceSeqno int) ([]ipc.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, d.readErr
	}
	var out []ipc.Message
	for _, m := range d.messages {
		if m.Seqno > sinceSeqno {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *Daemon) AcctMgrInfo() (ipc.AcctMgrInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return ipc.AcctMgrInfo{}, d.readErr
	}
	return d.mgrInfo, nil
}

func (d *Daemon) SetRunMode(mode ipc.RunMode, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := applyMode(&d.status.TaskMode, &d.status.TaskModePerm, &d.status.TaskModeDelay, mode, dur); err != nil {
		return err
	}
	d.refreshReasonsLocked()
	d.addMessageLocked("", "Computing mode set to "+d.status.TaskMode.String())
	return nil
}

func (d *Daemon) SetNetworkMode(mode ipc.RunMode, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := applyMode(&d.status.NetworkMode, &d.status.NetworkModePerm, &d.status.NetworkModeDelay, mode, dur); err != nil {
		return err
	}
	d.refreshReasonsLocked()
	d.addMessageLocked("", "Network mode set to "+d.status.NetworkMode.String())
	return nil
}

// applyMode sets a mode permanently, temporarily for dur, or restores the
// permanent one.
func applyMode(current, perm *ipc.RunMode, delay *float64, mode ipc.RunMode, dur time.Duration) error {
	switch mode {
	case ipc.RunModeRestore:
		*current = *perm
		*delay = 0
	case ipc.RunModeAlways, ipc.RunModeAuto, ipc.RunModeNever:
		*current = mode
		if dur > 0 {
			*delay = dur.Seconds()
		} else {
			*perm = mode
			*delay = 0
		}
	default:
		return &ipc.CodeError{Op: "SetRunMode", Code: ipc.ErrGeneric, Message: "unknown mode " + mode.String()}
	}
	return nil
}

func (d *Daemon) SetGlobalPrefsOverride(prefs ipc.GlobalPrefs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.override = prefs
	return nil
}

func (d *Daemon) ReadGlobalPrefsOverride() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.working = d.override
	d.addMessageLocked("", "Reading preferences override file")
	return nil
}

func (d *Daemon) ProjectOp(op ipc.ProjectOp, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.projectIndexLocked(url)
	if i < 0 {
		return notFound("ProjectOp", "project "+url+" not attached")
	}
	p := &d.projects[i]
	switch op {
	case ipc.ProjectUpdate:
		p.SchedRPCPending = 1
	case ipc.ProjectSuspend:
		p.SuspendedViaClient = true
	case ipc.ProjectResume:
		p.SuspendedViaClient = false
	case ipc.ProjectNoMoreWork:
		p.DontRequestMoreWork = true
	case ipc.ProjectAllowMoreWork:
		p.DontRequestMoreWork = false
	case ipc.ProjectDetachWhenDone:
		p.DetachWhenDone = true
	case ipc.ProjectDontDetachWhenDone:
		p.DetachWhenDone = false
	case ipc.ProjectReset:
		d.dropResultsLocked(url)
	case ipc.ProjectDetach:
		name := p.Name
		d.dropResultsLocked(url)
		d.projects = slices.Delete(d.projects, i, i+1)
		d.addMessageLocked(name, "Detached from project")
		return nil
	default:
		return &ipc.CodeError{Op: "ProjectOp", Code: ipc.ErrGeneric, Message: "unknown operation " + string(op)}
	}
	d.addMessageLocked(p.Name, "Project operation "+string(op))
	return nil
}

func (d *Daemon) dropResultsLocked(url string) {
	d.results = slices.DeleteFunc(d.results, func(r ipc.Result) bool { return r.ProjectURL == url })
	d.transfers = slices.DeleteFunc(d.transfers, func(t ipc.Transfer) bool { return t.ProjectURL == url })
}

func (d *Daemon) TransferOp(op ipc.TransferOp, projectURL, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.IndexFunc(d.transfers, func(t ipc.Transfer) bool {
		return t.ProjectURL == projectURL && t.Name == name
	})
	if i < 0 {
		return notFound("TransferOp", "transfer "+name+" not found")
	}
	switch op {
	case ipc.TransferRetry:
		d.transfers[i].Retries = 0
		d.transfers[i].NextRequestTime = time.Time{}
		d.transfers[i].Active = true
	case ipc.TransferAbort:
		d.transfers = slices.Delete(d.transfers, i, i+1)
	default:
		return &ipc.CodeError{Op: "TransferOp", Code: ipc.ErrGeneric, Message: "unknown operation " + string(op)}
	}
	d.addMessageLocked(d.projectNameLocked(projectURL), "Transfer "+name+": "+string(op))
	return nil
}

func (d *Daemon) Quit() error {
	d.quitOnce.Do(func() { close(d.quit) })
	return nil
}
