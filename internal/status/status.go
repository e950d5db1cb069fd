package status

import (
	"fmt"
	"time"

	"gridlink/internal/ipc"
)

// SetupStatus describes whether the daemon is usable at all.
type SetupStatus int

const (
	SetupLaunching SetupStatus = iota
	SetupAvailable
	SetupError
	SetupNoProject
	SetupClosing
	SetupClosed
)

func (s SetupStatus) String() string {
	switch s {
	case SetupLaunching:
		return "launching"
	case SetupAvailable:
		return "available"
	case SetupError:
		return "error"
	case SetupNoProject:
		return "no_project"
	case SetupClosing:
		return "closing"
	case SetupClosed:
		return "closed"
	default:
		return fmt.Sprintf("setup(%d)", int(s))
	}
}

// terminal setup values are set by shutdown and are never replaced by a
// derived value.
func (s SetupStatus) terminal() bool {
	return s == SetupClosing || s == SetupClosed
}

// ComputingStatus describes compute activity.
type ComputingStatus int

const (
	ComputingNever ComputingStatus = iota
	ComputingSuspended
	ComputingIdle
	ComputingComputing
)

func (s ComputingStatus) String() string {
	switch s {
	case ComputingNever:
		return "never"
	case ComputingSuspended:
		return "suspended"
	case ComputingIdle:
		return "idle"
	case ComputingComputing:
		return "computing"
	default:
		return fmt.Sprintf("computing(%d)", int(s))
	}
}

// NetworkStatus describes network activity.
type NetworkStatus int

const (
	NetworkNever NetworkStatus = iota
	NetworkSuspended
	NetworkAvailable
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkNever:
		return "never"
	case NetworkSuspended:
		return "suspended"
	case NetworkAvailable:
		return "available"
	default:
		return fmt.Sprintf("network(%d)", int(s))
	}
}

// Snapshot is the raw daemon state read in one refresh cycle. It is never
// modified after construction.
type Snapshot struct {
	Status    *ipc.CCStatus
	Results   []ipc.Result
	Projects  []ipc.Project
	Transfers []ipc.Transfer
	Prefs     *ipc.GlobalPrefs
	Messages  []ipc.Message
	FetchedAt time.Time
}

// Derived holds the discrete statuses computed from a Snapshot.
type Derived struct {
	Setup           SetupStatus
	Computing       ComputingStatus
	ComputingReason ipc.SuspendReason
	Network         NetworkStatus
	NetworkReason   ipc.SuspendReason
}

// Published is what consumers read: the derived statuses plus the snapshot
// they came from. Version increases with every change.
type Published struct {
	Derived
	Snapshot *Snapshot
	Version  uint64
}

// DeriveError reports a snapshot that cannot be interpreted.
type DeriveError struct {
	Field  string
	Reason string
}

func (e *DeriveError) Error() string {
	return fmt.Sprintf("derive status: %s: %s", e.Field, e.Reason)
}

// Derive maps a snapshot to statuses. It has no side effects and returns the
// same value for the same input.
func Derive(snap *Snapshot) (Derived, error) {
	if snap == nil {
		return Derived{}, &DeriveError{Field: "snapshot", Reason: "missing"}
	}
	st := snap.Status
	if st == nil {
		return Derived{}, &DeriveError{Field: "cc_status", Reason: "missing"}
	}
	if st.TaskSuspendReason < 0 {
		return Derived{}, &DeriveError{Field: "task_suspend_reason", Reason: fmt.Sprintf("negative value %d", st.TaskSuspendReason)}
	}
	if st.NetworkSuspendReason < 0 {
		return Derived{}, &DeriveError{Field: "network_suspend_reason", Reason: fmt.Sprintf("negative value %d", st.NetworkSuspendReason)}
	}
	for i := range snap.Results {
		if r := &snap.Results[i]; r.ActiveTaskState < 0 {
			return Derived{}, &DeriveError{Field: "results." + r.Name, Reason: fmt.Sprintf("negative task state %d", r.ActiveTaskState)}
		}
	}

	var d Derived

	d.Setup = SetupAvailable
	if len(snap.Projects) == 0 {
		d.Setup = SetupNoProject
	}

	switch st.TaskMode {
	case ipc.RunModeNever:
		d.Computing = ComputingNever
		d.ComputingReason = st.TaskSuspendReason
	case ipc.RunModeAuto, ipc.RunModeAlways:
		if st.TaskSuspendReason != ipc.SuspendNone {
			d.Computing = ComputingSuspended
			d.ComputingReason = st.TaskSuspendReason
			break
		}
		d.Computing = ComputingIdle
		for i := range snap.Results {
			if snap.Results[i].Executing() {
				d.Computing = ComputingComputing
			}
		}
	default:
		return Derived{}, &DeriveError{Field: "task_mode", Reason: fmt.Sprintf("unknown run mode %d", int(st.TaskMode))}
	}

	switch st.NetworkMode {
	case ipc.RunModeNever:
		d.Network = NetworkNever
		d.NetworkReason = st.NetworkSuspendReason
	case ipc.RunModeAuto, ipc.RunModeAlways:
		if st.NetworkSuspendReason != ipc.SuspendNone {
			d.Network = NetworkSuspended
			d.NetworkReason = st.NetworkSuspendReason
		} else {
			d.Network = NetworkAvailable
		}
	default:
		return Derived{}, &DeriveError{Field: "network_mode", Reason: fmt.Sprintf("unknown run mode %d", int(st.NetworkMode))}
	}

	return d, nil
}
