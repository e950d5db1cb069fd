package simdaemon

import (
	"fmt"
	"time"

	"gridlink/internal/ipc"
)

// Demo account credentials seeded by NewDemo.
const (
	DemoEmail    = "volunteer@example.org"
	DemoPassword = "correct horse"
	DemoManager  = "https://manager.example.org/"
)

// NewDemo returns a daemon seeded with a few projects, accounts, and work
// items for interactive use.
func NewDemo(opts Options) *Daemon {
	d := New(opts)
	projects := []ipc.ProjectConfig{
		{Name: "Protein Folding Grid", MasterURL: "https://folding.example.org/", MinPasswdLength: 6},
		{Name: "Pulsar Search", MasterURL: "https://pulsar.example.org/", UsesUsername: true, TermsOfUse: "Be nice."},
		{Name: "Climate Ensemble", MasterURL: "https://climate.example.org/", ClientAccountCreationDisabled: true},
	}
	for _, cfg := range projects {
		d.AddProjectConfig(cfg)
	}
	d.AddAccount(projects[0].MasterURL, DemoEmail, DemoPassword)
	d.AddAccount(projects[2].MasterURL, DemoEmail, DemoPassword)
	d.AddAccountManager(DemoManager, "Example Manager", DemoEmail, DemoPassword, projects[1].MasterURL)

	d.AddProject(ipc.Project{MasterURL: projects[0].MasterURL, Name: projects[0].Name, UserName: DemoEmail})
	for i := 0; i < 4; i++ {
		d.AddResult(ipc.Result{
			Name:             fmt.Sprintf("fold_%04d_0", i),
			WUName:           fmt.Sprintf("fold_%04d", i),
			ProjectURL:       projects[0].MasterURL,
			ReportDeadline:   time.Now().Add(72 * time.Hour).UTC(),
			ActiveTask:       i < 2,
			ActiveTaskState:  executingIf(i < 2),
			RemainingSeconds: 3600,
		})
	}
	d.AddTransfer(ipc.Transfer{
		Name:       "fold_0004_in",
		ProjectURL: projects[0].MasterURL,
		Bytes:      4 << 20,
	})
	return d
}

func executingIf(ok bool) ipc.ProcessState {
	if ok {
		return ipc.ProcessExecuting
	}
	return ipc.ProcessUninitialized
}

// Step advances running work items by frac of their work. Finished items
// become ready to report and the next waiting item starts.
func (d *Daemon) Step(frac float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status.TaskMode == ipc.RunModeNever || d.status.TaskSuspendReason != ipc.SuspendNone {
		return
	}
	finished := 0
	for i := range d.results {
		r := &d.results[i]
		if !r.Executing() {
			continue
		}
		r.FractionDone += frac
		r.ElapsedSeconds += frac * 3600
		r.RemainingSeconds = max(0, (1-r.FractionDone)*3600)
		if r.FractionDone >= 1 {
			r.FractionDone = 1
			r.ActiveTask = false
			r.ActiveTaskState = ipc.ProcessUninitialized
			r.ReadyToReport = true
			finished++
			d.addMessageLocked(d.projectNameLocked(r.ProjectURL), "Computation for task "+r.Name+" finished")
		}
	}
	for i := range d.results {
		if finished == 0 {
			break
		}
		r := &d.results[i]
		if r.ActiveTask || r.ReadyToReport {
			continue
		}
		r.ActiveTask = true
		r.ActiveTaskState = ipc.ProcessExecuting
		finished--
		d.addMessageLocked(d.projectNameLocked(r.ProjectURL), "Starting task "+r.Name)
	}
}
