package ipc

// serviceName is the net/rpc service the daemon registers.
const serviceName = "Daemon"

// Reply is the envelope every single-shot reply embeds. A non-zero Code is a
// daemon-reported failure.
type Reply struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// Empty is the argument of calls that take none.
type Empty struct{}

type Auth1Reply struct {
	Reply
	Nonce string `json:"nonce"`
}

type Auth2Request struct {
	NonceHash string `json:"nonce_hash"`
}

type StatusReply struct {
	Reply
	Status CCStatus `json:"cc_status"`
}

type ResultsRequest struct {
	ActiveOnly bool `json:"active_only"`
}

type ResultsReply struct {
	Reply
	Results []Result `json:"results"`
}

type ProjectsReply struct {
	Reply
	Projects []Project `json:"projects"`
}

type TransfersReply struct {
	Reply
	Transfers []Transfer `json:"file_transfers"`
}

type PrefsReply struct {
	Reply
	Prefs GlobalPrefs `json:"global_preferences"`
}

type MessagesRequest struct {
	SinceSeqno int `json:"seqno"`
}

type MessagesReply struct {
	Reply
	Messages []Message `json:"msgs"`
}

type AcctMgrInfoReply struct {
	Reply
	Info AcctMgrInfo `json:"acct_mgr_info"`
}

type ProjectConfigRequest struct {
	URL string `json:"url"`
}

type ProjectAttachRequest struct {
	URL           string `json:"project_url"`
	Authenticator string `json:"authenticator"`
	ProjectName   string `json:"project_name"`
}

type AcctMgrRequest struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	PasswdHash string `json:"password_hash"`
}

type ModeRequest struct {
	Mode            RunMode `json:"mode"`
	DurationSeconds float64 `json:"duration"`
}

type ProjectOpRequest struct {
	Op  ProjectOp `json:"op"`
	URL string    `json:"project_url"`
}

type TransferOpRequest struct {
	Op         TransferOp `json:"op"`
	ProjectURL string     `json:"project_url"`
	Name       string     `json:"filename"`
}
