package config

const (
	defaultConfigPath        = "~/.config/gridlink/config.toml"
	defaultStateDir          = "~/.local/share/gridlink"
	defaultLogDir            = "~/.local/share/gridlink/logs"
	defaultDaemonNetwork     = "unix"
	defaultDaemonAddress     = "~/.local/share/gridlink/daemon.sock"
	defaultAuthFile          = "~/.local/share/gridlink/gui_rpc_auth.cfg"
	defaultConnectAttempts   = 10
	defaultConnectIntervalMs = 500
	defaultCallTimeoutMs     = 5000
	defaultRefreshIntervalMs = 1000
	defaultMessageTail       = 100
	defaultPollIntervalMs    = 1000
	defaultNATSSubject       = "gridlink.status"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Daemon: Daemon{
			Network:           defaultDaemonNetwork,
			Address:           defaultDaemonAddress,
			AuthFile:          defaultAuthFile,
			ConnectAttempts:   defaultConnectAttempts,
			ConnectIntervalMs: defaultConnectIntervalMs,
			CallTimeoutMs:     defaultCallTimeoutMs,
		},
		Refresh: Refresh{
			IntervalMs:    defaultRefreshIntervalMs,
			FetchMessages: true,
			MessageTail:   defaultMessageTail,
		},
		Operations: Operations{
			Attach:        Operation{MaxAttempts: 15, PollIntervalMs: defaultPollIntervalMs},
			LookupAccount: Operation{MaxAttempts: 15, PollIntervalMs: defaultPollIntervalMs},
			CreateAccount: Operation{MaxAttempts: 15, PollIntervalMs: defaultPollIntervalMs},
			AcctMgr:       Operation{MaxAttempts: 30, PollIntervalMs: defaultPollIntervalMs},
			ProjectConfig: Operation{MaxAttempts: 30, PollIntervalMs: defaultPollIntervalMs},
		},
		NATS: NATS{
			Subject: defaultNATSSubject,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
