package ipc

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by calls on a client that was closed or
	// invalidated by an earlier transport failure.
	ErrClosed = errors.New("ipc: channel closed")
	// ErrAuthRejected is returned when the daemon rejects the shared secret.
	ErrAuthRejected = errors.New("ipc: authorization rejected")
)

// TransportError wraps an I/O failure. The client that produced it is no
// longer usable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err means the channel is gone.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, ErrClosed)
}

// Client provides RPC access to the daemon. At most one request is in flight
// at a time.
type Client struct {
	conn    net.Conn
	client  *rpc.Client
	timeout time.Duration
	sem     chan struct{}
	broken  atomic.Bool
	once    sync.Once
}

// Dial connects to the daemon at network/address. callTimeout bounds each
// request round trip; zero means five seconds.
func Dial(ctx context.Context, network, address string, callTimeout time.Duration) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Client{
		conn:    conn,
		client:  rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)),
		timeout: callTimeout,
		sem:     make(chan struct{}, 1),
	}, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.broken.Store(true)
		if c.client != nil {
			_ = c.client.Close()
		}
		if c.conn != nil {
			if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
	})
	return err
}

// Valid reports whether the channel can still carry requests.
func (c *Client) Valid() bool {
	return c != nil && !c.broken.Load()
}

func (c *Client) call(ctx context.Context, method string, args any, reply any) error {
	if !c.Valid() {
		return ErrClosed
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	err := c.client.Call(serviceName+"."+method, args, reply)
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		return &CodeError{Op: method, Code: ErrGeneric, Message: string(serverErr)}
	}
	_ = c.Close()
	return &TransportError{Op: method, Err: err}
}

func checkReply(op string, r Reply) error {
	if r.Code == CodeOK {
		return nil
	}
	return &CodeError{Op: op, Code: r.Code, Message: r.Message}
}

// Authorize performs the nonce handshake with the shared secret.
func (c *Client) Authorize(ctx context.Context, password string) error {
	var nonce Auth1Reply
	if err := c.call(ctx, "Auth1", Empty{}, &nonce); err != nil {
		return err
	}
	if err := checkReply("Auth1", nonce.Reply); err != nil {
		return err
	}
	var resp Reply
	if err := c.call(ctx, "Auth2", Auth2Request{NonceHash: NonceHash(nonce.Nonce, password)}, &resp); err != nil {
		return err
	}
	if resp.Code == ErrUnauthorized {
		return fmt.Errorf("%w: %s", ErrAuthRejected, resp.Message)
	}
	return checkReply("Auth2", resp)
}

// NonceHash is the hex md5 of nonce followed by the shared secret.
func NonceHash(nonce, password string) string {
	sum := md5.Sum([]byte(nonce + password))
	return hex.EncodeToString(sum[:])
}

// GetStatus reads run modes and suspend reasons.
func (c *Client) GetStatus(ctx context.Context) (*CCStatus, error) {
	var resp StatusReply
	if err := c.call(ctx, "GetStatus", Empty{}, &resp); err != nil {
		return nil, err
	}
	if err := checkReply("GetStatus", resp.Reply); err != nil {
		return nil, err
	}
	return &resp.Status, nil
}

// GetResults lists work items.
func (c *Client) GetResults(ctx context.Context, activeOnly bool) ([]Result, error) {
	var resp ResultsReply
	if err := c.call(ctx, "GetResults", ResultsRequest{ActiveOnly: activeOnly}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, checkReply("GetResults", resp.Reply)
}

// GetProjects lists attached projects.
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	var resp ProjectsReply
	if err := c.call(ctx, "GetProjects", Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, checkReply("GetProjects", resp.Reply)
}

// GetTransfers lists file transfers.
func (c *Client) GetTransfers(ctx context.Context) ([]Transfer, error) {
	var resp TransfersReply
	if err := c.call(ctx, "GetTransfers", Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Transfers, checkReply("GetTransfers", resp.Reply)
}

// GetGlobalPrefsWorking reads the preferences currently in force.
func (c *Client) GetGlobalPrefsWorking(ctx context.Context) (*GlobalPrefs, error) {
	var resp PrefsReply
	if err := c.call(ctx, "GetGlobalPrefsWorking", Empty{}, &resp); err != nil {
		return nil, err
	}
	if err := checkReply("GetGlobalPrefsWorking", resp.Reply); err != nil {
		return nil, err
	}
	return &resp.Prefs, nil
}

// GetMessages returns event log entries with sequence numbers above since.
func (c *Client) GetMessages(ctx context.Context, since int) ([]Message, error) {
	var resp MessagesReply
	if err := c.call(ctx, "GetMessages", MessagesRequest{SinceSeqno: since}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, checkReply("GetMessages", resp.Reply)
}

// GetAcctMgrInfo reads the account manager binding.
func (c *Client) GetAcctMgrInfo(ctx context.Context) (*AcctMgrInfo, error) {
	var resp AcctMgrInfoReply
	if err := c.call(ctx, "GetAcctMgrInfo", Empty{}, &resp); err != nil {
		return nil, err
	}
	if err := checkReply("GetAcctMgrInfo", resp.Reply); err != nil {
		return nil, err
	}
	return &resp.Info, nil
}

func (c *Client) submit(ctx context.Context, method string, args any) error {
	var resp Reply
	if err := c.call(ctx, method, args, &resp); err != nil {
		return err
	}
	return checkReply(method, resp)
}

// GetProjectConfig starts downloading the configuration of a project URL.
func (c *Client) GetProjectConfig(ctx context.Context, url string) error {
	return c.submit(ctx, "GetProjectConfig", ProjectConfigRequest{URL: url})
}

// GetProjectConfigPoll reads the state of the pending configuration download.
func (c *Client) GetProjectConfigPoll(ctx context.Context) (*ProjectConfig, error) {
	var resp ProjectConfig
	if err := c.call(ctx, "GetProjectConfigPoll", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupAccount starts an authenticator lookup for existing credentials.
func (c *Client) LookupAccount(ctx context.Context, in AccountIn) error {
	return c.submit(ctx, "LookupAccount", in)
}

// LookupAccountPoll reads the state of the pending lookup.
func (c *Client) LookupAccountPoll(ctx context.Context) (*AccountOut, error) {
	var resp AccountOut
	if err := c.call(ctx, "LookupAccountPoll", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAccount starts a registration.
func (c *Client) CreateAccount(ctx context.Context, in AccountIn) error {
	return c.submit(ctx, "CreateAccount", in)
}

// CreateAccountPoll reads the state of the pending registration.
func (c *Client) CreateAccountPoll(ctx context.Context) (*AccountOut, error) {
	var resp AccountOut
	if err := c.call(ctx, "CreateAccountPoll", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProjectAttach starts attaching to a project with an authenticator.
func (c *Client) ProjectAttach(ctx context.Context, url, authenticator, projectName string) error {
	return c.submit(ctx, "ProjectAttach", ProjectAttachRequest{URL: url, Authenticator: authenticator, ProjectName: projectName})
}

// ProjectAttachPoll reads the state of the pending attach.
func (c *Client) ProjectAttachPoll(ctx context.Context) (*ProjectAttachReply, error) {
	var resp ProjectAttachReply
	if err := c.call(ctx, "ProjectAttachPoll", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcctMgrRPC starts an account manager attach or sync. An empty url detaches.
func (c *Client) AcctMgrRPC(ctx context.Context, url, name, passwdHash string) error {
	return c.submit(ctx, "AcctMgrRPC", AcctMgrRequest{URL: url, Name: name, PasswdHash: passwdHash})
}

// AcctMgrRPCPoll reads the state of the pending account manager operation.
func (c *Client) AcctMgrRPCPoll(ctx context.Context) (*AcctMgrRPCReply, error) {
	var resp AcctMgrRPCReply
	if err := c.call(ctx, "AcctMgrRPCPoll", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetRunMode changes the compute mode; a zero duration is permanent.
func (c *Client) SetRunMode(ctx context.Context, mode RunMode, d time.Duration) error {
	return c.submit(ctx, "SetRunMode", ModeRequest{Mode: mode, DurationSeconds: d.Seconds()})
}

// SetNetworkMode changes the network mode; a zero duration is permanent.
func (c *Client) SetNetworkMode(ctx context.Context, mode RunMode, d time.Duration) error {
	return c.submit(ctx, "SetNetworkMode", ModeRequest{Mode: mode, DurationSeconds: d.Seconds()})
}

// SetGlobalPrefsOverride stores a preferences override; it takes effect after
// ReadGlobalPrefsOverride.
func (c *Client) SetGlobalPrefsOverride(ctx context.Context, prefs GlobalPrefs) error {
	return c.submit(ctx, "SetGlobalPrefsOverride", prefs)
}

// ReadGlobalPrefsOverride makes the daemon reload the stored override.
func (c *Client) ReadGlobalPrefsOverride(ctx context.Context) error {
	return c.submit(ctx, "ReadGlobalPrefsOverride", Empty{})
}

// ProjectOp runs a per-project command.
func (c *Client) ProjectOp(ctx context.Context, op ProjectOp, url string) error {
	return c.submit(ctx, "ProjectOp", ProjectOpRequest{Op: op, URL: url})
}

// TransferOp runs a per-transfer command.
func (c *Client) TransferOp(ctx context.Context, op TransferOp, projectURL, name string) error {
	return c.submit(ctx, "TransferOp", TransferOpRequest{Op: op, ProjectURL: projectURL, Name: name})
}

// Quit asks the daemon to exit.
func (c *Client) Quit(ctx context.Context) error {
	return c.submit(ctx, "Quit", Empty{})
}
