package ipc

import (
	"fmt"
	"strings"
	"time"
)

// RunMode is the daemon's compute or network activity mode.
type RunMode int

const (
	RunModeAlways  RunMode = 1
	RunModeAuto    RunMode = 2
	RunModeNever   RunMode = 3
	RunModeRestore RunMode = 4
)

func (m RunMode) String() string {
	switch m {
	case RunModeAlways:
		return "always"
	case RunModeAuto:
		return "auto"
	case RunModeNever:
		return "never"
	case RunModeRestore:
		return "restore"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseRunMode accepts always, auto, never, or restore.
func ParseRunMode(value string) (RunMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "always":
		return RunModeAlways, nil
	case "auto":
		return RunModeAuto, nil
	case "never":
		return RunModeNever, nil
	case "restore":
		return RunModeRestore, nil
	default:
		return 0, fmt.Errorf("unknown run mode %q (want always, auto, never, restore)", value)
	}
}

// SuspendReason explains why activity is paused. Zero means not suspended.
type SuspendReason int

const (
	SuspendNone              SuspendReason = 0
	SuspendBatteries         SuspendReason = 1
	SuspendUserActive        SuspendReason = 2
	SuspendUserRequest       SuspendReason = 4
	SuspendTimeOfDay         SuspendReason = 8
	SuspendBenchmarks        SuspendReason = 16
	SuspendDiskSize          SuspendReason = 32
	SuspendCPUThrottle       SuspendReason = 64
	SuspendNoRecentInput     SuspendReason = 128
	SuspendInitialDelay      SuspendReason = 256
	SuspendExclusiveApp      SuspendReason = 512
	SuspendCPUUsage          SuspendReason = 1024
	SuspendNetworkQuota      SuspendReason = 2048
	SuspendOS                SuspendReason = 4096
	SuspendWifiState         SuspendReason = 4097
	SuspendBatteryCharging   SuspendReason = 4098
	SuspendBatteryOverheated SuspendReason = 4099
)

var suspendNames = map[SuspendReason]string{
	SuspendNone:              "none",
	SuspendBatteries:         "on batteries",
	SuspendUserActive:        "user active",
	SuspendUserRequest:       "user request",
	SuspendTimeOfDay:         "time of day",
	SuspendBenchmarks:        "benchmarks",
	SuspendDiskSize:          "disk size",
	SuspendCPUThrottle:       "cpu throttle",
	SuspendNoRecentInput:     "no recent input",
	SuspendInitialDelay:      "initial delay",
	SuspendExclusiveApp:      "exclusive app",
	SuspendCPUUsage:          "cpu usage",
	SuspendNetworkQuota:      "network quota",
	SuspendOS:                "os",
	SuspendWifiState:         "wifi not connected",
	SuspendBatteryCharging:   "battery charging",
	SuspendBatteryOverheated: "battery overheated",
}

func (r SuspendReason) String() string {
	if name, ok := suspendNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ProcessState is the state of a work item's active task.
type ProcessState int

const (
	ProcessUninitialized ProcessState = 0
	ProcessExecuting     ProcessState = 1
	ProcessAbortPending  ProcessState = 5
	ProcessQuitPending   ProcessState = 8
	ProcessSuspended     ProcessState = 9
	ProcessCopyPending   ProcessState = 10
)

// CCStatus carries the daemon's run modes and suspend reasons.
type CCStatus struct {
	TaskMode             RunMode       `json:"task_mode"`
	TaskModePerm         RunMode       `json:"task_mode_perm"`
	TaskModeDelay        float64       `json:"task_mode_delay"`
	TaskSuspendReason    SuspendReason `json:"task_suspend_reason"`
	NetworkMode          RunMode       `json:"network_mode"`
	NetworkModePerm      RunMode       `json:"network_mode_perm"`
	NetworkModeDelay     float64       `json:"network_mode_delay"`
	NetworkSuspendReason SuspendReason `json:"network_suspend_reason"`
	AMSPasswordError     bool          `json:"ams_password_error"`
	ManagerMustQuit      bool          `json:"manager_must_quit"`
}

// Result is one work item known to the daemon.
type Result struct {
	Name               string       `json:"name"`
	WUName             string       `json:"wu_name"`
	ProjectURL         string       `json:"project_url"`
	State              int          `json:"state"`
	ReadyToReport      bool         `json:"ready_to_report"`
	ReportDeadline     time.Time    `json:"report_deadline"`
	ActiveTask         bool         `json:"active_task"`
	ActiveTaskState    ProcessState `json:"active_task_state"`
	SchedulerState     int          `json:"scheduler_state"`
	FractionDone       float64      `json:"fraction_done"`
	ElapsedSeconds     float64      `json:"elapsed_seconds"`
	RemainingSeconds   float64      `json:"estimated_cpu_time_remaining"`
	SuspendedViaClient bool         `json:"suspended_via_gui"`
}

// Executing reports whether the work item's task is currently running.
func (r Result) Executing() bool {
	return r.ActiveTask && r.ActiveTaskState == ProcessExecuting
}

// Project is an attached project.
type Project struct {
	MasterURL           string  `json:"master_url"`
	Name                string  `json:"project_name"`
	UserName            string  `json:"user_name"`
	TeamName            string  `json:"team_name"`
	UserTotalCredit     float64 `json:"user_total_credit"`
	AttachedViaAcctMgr  bool    `json:"attached_via_acct_mgr"`
	SuspendedViaClient  bool    `json:"suspended_via_gui"`
	DontRequestMoreWork bool    `json:"dont_request_more_work"`
	DetachWhenDone      bool    `json:"detach_when_done"`
	Ended               bool    `json:"ended"`
	SchedRPCPending     int     `json:"sched_rpc_pending"`
}

// Transfer is an upload or download in progress.
type Transfer struct {
	Name            string    `json:"name"`
	ProjectURL      string    `json:"project_url"`
	Upload          bool      `json:"is_upload"`
	Bytes           float64   `json:"nbytes"`
	BytesXferred    float64   `json:"bytes_xferred"`
	Status          int       `json:"status"`
	Retries         int       `json:"num_retries"`
	NextRequestTime time.Time `json:"next_request_time"`
	Active          bool      `json:"xfer_active"`
}

// GlobalPrefs is the subset of computing preferences the client edits.
type GlobalPrefs struct {
	RunOnBatteries        bool    `json:"run_on_batteries"`
	RunIfUserActive       bool    `json:"run_if_user_active"`
	RunGPUIfUserActive    bool    `json:"run_gpu_if_user_active"`
	SuspendCPUUsage       float64 `json:"suspend_cpu_usage"`
	StartHour             float64 `json:"start_hour"`
	EndHour               float64 `json:"end_hour"`
	NetStartHour          float64 `json:"net_start_hour"`
	NetEndHour            float64 `json:"net_end_hour"`
	MaxNCPUsPct           float64 `json:"max_ncpus_pct"`
	CPUUsageLimit         float64 `json:"cpu_usage_limit"`
	DiskMaxUsedGB         float64 `json:"disk_max_used_gb"`
	DiskMaxUsedPct        float64 `json:"disk_max_used_pct"`
	WorkBufMinDays        float64 `json:"work_buf_min_days"`
	WorkBufAdditionalDays float64 `json:"work_buf_additional_days"`
	DailyXferLimitMB      float64 `json:"daily_xfer_limit_mb"`
	NetworkWifiOnly       bool    `json:"network_wifi_only"`
}

// Message is one entry from the daemon's event log.
type Message struct {
	Seqno     int       `json:"seqno"`
	Project   string    `json:"project"`
	Priority  int       `json:"priority"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectConfig is the downloaded configuration of an attach target.
type ProjectConfig struct {
	ErrorNum                      int      `json:"error_num"`
	Name                          string   `json:"name"`
	MasterURL                     string   `json:"master_url"`
	WebRPCURLBase                 string   `json:"web_rpc_url_base"`
	UsesUsername                  bool     `json:"uses_username"`
	AccountCreationDisabled       bool     `json:"account_creation_disabled"`
	ClientAccountCreationDisabled bool     `json:"client_account_creation_disabled"`
	AccountManager                bool     `json:"account_manager"`
	MinPasswdLength               int      `json:"min_passwd_length"`
	TermsOfUse                    string   `json:"terms_of_use"`
	Platforms                     []string `json:"platforms"`
}

// RegistrationDisabled reports whether accounts cannot be created through the client.
func (c ProjectConfig) RegistrationDisabled() bool {
	return c.AccountCreationDisabled || c.ClientAccountCreationDisabled
}

// AccountIn carries credentials for account lookup or creation.
type AccountIn struct {
	URL              string `json:"url"`
	EmailAddr        string `json:"email_addr"`
	UserName         string `json:"user_name"`
	UsesUsername     bool   `json:"uses_username"`
	Passwd           string `json:"passwd"`
	PasswdHash       string `json:"passwd_hash"`
	TeamName         string `json:"team_name"`
	ConsentedToTerms bool   `json:"consented_to_terms"`
}

// AccountOut is the reply to an account lookup or creation.
type AccountOut struct {
	ErrorNum      int    `json:"error_num"`
	ErrorMsg      string `json:"error_msg"`
	Authenticator string `json:"authenticator"`
}

// ProjectAttachReply reports the outcome of an attach.
type ProjectAttachReply struct {
	ErrorNum int      `json:"error_num"`
	Messages []string `json:"messages"`
}

// AcctMgrRPCReply reports the outcome of an account manager operation.
type AcctMgrRPCReply struct {
	ErrorNum int      `json:"error_num"`
	Messages []string `json:"messages"`
}

// AcctMgrInfo describes the account manager the daemon is attached to, if any.
type AcctMgrInfo struct {
	URL              string `json:"acct_mgr_url"`
	Name             string `json:"acct_mgr_name"`
	HaveCredentials  bool   `json:"have_credentials"`
	CookieRequired   bool   `json:"cookie_required"`
	CookieFailureURL string `json:"cookie_failure_url"`
}

// Attached reports whether an account manager is configured.
func (a AcctMgrInfo) Attached() bool {
	return strings.TrimSpace(a.URL) != ""
}

// ProjectOp is a single-shot per-project command.
type ProjectOp string

const (
	ProjectUpdate             ProjectOp = "update"
	ProjectSuspend            ProjectOp = "suspend"
	ProjectResume             ProjectOp = "resume"
	ProjectNoMoreWork         ProjectOp = "nomorework"
	ProjectAllowMoreWork      ProjectOp = "allowmorework"
	ProjectReset              ProjectOp = "reset"
	ProjectDetach             ProjectOp = "detach"
	ProjectDetachWhenDone     ProjectOp = "detach_when_done"
	ProjectDontDetachWhenDone ProjectOp = "dont_detach_when_done"
)

// ProjectOps lists the accepted project operations.
var ProjectOps = []ProjectOp{
	ProjectUpdate, ProjectSuspend, ProjectResume, ProjectNoMoreWork, ProjectAllowMoreWork,
	ProjectReset, ProjectDetach, ProjectDetachWhenDone, ProjectDontDetachWhenDone,
}

// ParseProjectOp validates a project operation name.
func ParseProjectOp(value string) (ProjectOp, error) {
	op := ProjectOp(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range ProjectOps {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown project operation %q", value)
}

// TransferOp is a single-shot per-transfer command.
type TransferOp string

const (
	TransferRetry TransferOp = "retry"
	TransferAbort TransferOp = "abort"
)

// ParseTransferOp validates a transfer operation name.
func ParseTransferOp(value string) (TransferOp, error) {
	switch op := TransferOp(strings.ToLower(strings.TrimSpace(value))); op {
	case TransferRetry, TransferAbort:
		return op, nil
	default:
		return "", fmt.Errorf("unknown transfer operation %q (want retry or abort)", value)
	}
}
