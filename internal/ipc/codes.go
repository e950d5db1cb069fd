package ipc

import (
	"errors"
	"fmt"
)

// Result codes reported by the daemon, in-band or in reply envelopes.
const (
	CodeOK                  = 0
	ErrGeneric              = -1
	ErrConnect              = -107
	ErrGetHostByName        = -113
	ErrAlreadyAttached      = -130
	ErrNotFound             = -136
	ErrDBNotUnique          = -137
	ErrUnauthorized         = -155
	ErrHTTPTransient        = -184
	ErrBadUserName          = -188
	ErrInvalidURL           = -189
	ErrRetry                = -199
	ErrInProgress           = -204
	ErrBadEmailAddr         = -205
	ErrBadPasswd            = -206
	ErrAcctCreationDisabled = -208
	ErrAcctRequireConsent   = -242
)

var codeNames = map[int]string{
	CodeOK:                  "ok",
	ErrGeneric:              "generic error",
	ErrConnect:              "connect failed",
	ErrGetHostByName:        "host lookup failed",
	ErrAlreadyAttached:      "already attached",
	ErrNotFound:             "not found",
	ErrDBNotUnique:          "name not unique",
	ErrUnauthorized:         "unauthorized",
	ErrHTTPTransient:        "transient http error",
	ErrBadUserName:          "bad user name",
	ErrInvalidURL:           "invalid url",
	ErrRetry:                "busy, retry",
	ErrInProgress:           "in progress",
	ErrBadEmailAddr:         "bad email address",
	ErrBadPasswd:            "bad password",
	ErrAcctCreationDisabled: "account creation disabled",
	ErrAcctRequireConsent:   "terms of use consent required",
}

// CodeName returns a short human-readable label for a result code.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("error %d", code)
}

// CodeError is a daemon-reported failure of a single-shot request. The channel
// stays usable after a CodeError.
type CodeError struct {
	Op      string
	Code    int
	Message string
}

func (e *CodeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%d): %s", e.Op, CodeName(e.Code), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, CodeName(e.Code), e.Code)
}

// CodeOf extracts the daemon result code carried by err.
func CodeOf(err error) (int, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// Coded is implemented by poll replies that carry their result code in-band.
type Coded interface {
	Code() int
}

func (c *ProjectConfig) Code() int      { return c.ErrorNum }
func (a *AccountOut) Code() int         { return a.ErrorNum }
func (r *ProjectAttachReply) Code() int { return r.ErrorNum }
func (r *AcctMgrRPCReply) Code() int    { return r.ErrorNum }
