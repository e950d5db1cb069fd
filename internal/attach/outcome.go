package attach

import (
	"fmt"

	"gridlink/internal/ipc"
)

// Outcome is the lifecycle position of one attach target.
type Outcome int

const (
	OutcomeUninitialized Outcome = iota
	OutcomeConfigFailed
	OutcomeReady
	OutcomeInProgress
	OutcomeSuccess
	OutcomeNameNotUnique
	OutcomeBadPassword
	OutcomeUnknownUser
	OutcomeTosRequired
	OutcomeUndefined
)

var outcomeNames = map[Outcome]string{
	OutcomeUninitialized: "uninitialized",
	OutcomeConfigFailed:  "config_failed",
	OutcomeReady:         "ready",
	OutcomeInProgress:    "in_progress",
	OutcomeSuccess:       "success",
	OutcomeNameNotUnique: "name_not_unique",
	OutcomeBadPassword:   "bad_password",
	OutcomeUnknownUser:   "unknown_user",
	OutcomeTosRequired:   "tos_required",
	OutcomeUndefined:     "undefined",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Conflict reports whether the outcome is a failed attach that can be
// resolved individually.
func (o Outcome) Conflict() bool {
	switch o {
	case OutcomeNameNotUnique, OutcomeBadPassword, OutcomeUnknownUser, OutcomeTosRequired, OutcomeUndefined:
		return true
	default:
		return false
	}
}

// ConfigDone reports whether the configuration stage is over for a target in
// this outcome.
func (o Outcome) ConfigDone() bool {
	return o != OutcomeUninitialized
}

// OutcomeForCode maps a credential or attach failure code to an outcome.
func OutcomeForCode(code int) Outcome {
	switch code {
	case ipc.CodeOK:
		return OutcomeSuccess
	case ipc.ErrDBNotUnique:
		return OutcomeNameNotUnique
	case ipc.ErrBadPasswd:
		return OutcomeBadPassword
	case ipc.ErrNotFound:
		return OutcomeUnknownUser
	case ipc.ErrAcctRequireConsent:
		return OutcomeTosRequired
	default:
		return OutcomeUndefined
	}
}
