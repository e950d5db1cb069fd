package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridlink/internal/logging"
)

// Backend is the daemon side of the protocol. Request/poll pairs follow the
// Start*/Poll* naming; a poll reports ErrInProgress until the work finishes.
type Backend interface {
	Status() (CCStatus, error)
	Results(activeOnly bool) ([]Result, error)
	Projects() ([]Project, error)
	Transfers() ([]Transfer, error)
	GlobalPrefsWorking() (GlobalPrefs, error)
	Messages(sinceSeqno int) ([]Message, error)
	AcctMgrInfo() (AcctMgrInfo, error)

	StartProjectConfig(url string) error
	PollProjectConfig() ProjectConfig
	StartLookupAccount(in AccountIn) error
	PollLookupAccount() AccountOut
	StartCreateAccount(in AccountIn) error
	PollCreateAccount() AccountOut
	StartProjectAttach(url, authenticator, name string) error
	PollProjectAttach() ProjectAttachReply
	StartAcctMgrRPC(url, name, passwdHash string) error
	PollAcctMgrRPC() AcctMgrRPCReply

	SetRunMode(mode RunMode, d time.Duration) error
	SetNetworkMode(mode RunMode, d time.Duration) error
	SetGlobalPrefsOverride(prefs GlobalPrefs) error
	ReadGlobalPrefsOverride() error
	ProjectOp(op ProjectOp, url string) error
	TransferOp(op TransferOp, projectURL, name string) error
	Quit() error
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Network string
	Address string
	// Password is the shared secret; empty disables authorization.
	Password string
	Logger   *slog.Logger
}

// Server exposes a Backend via JSON-RPC. Each connection gets its own
// authorization state.
type Server struct {
	network  string
	address  string
	password string
	backend  Backend
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer listens on the configured address.
func NewServer(ctx context.Context, opts ServerOptions, backend Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("ipc server requires backend")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	network := opts.Network
	if network == "" {
		network = "unix"
	}

	if network == "unix" {
		if err := os.RemoveAll(opts.Address); err != nil {
			return nil, fmt.Errorf("remove existing socket: %w", err)
		}
	}

	listener, err := net.Listen(network, opts.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s %s: %w", network, opts.Address, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		network:  network,
		address:  opts.Address,
		password: opts.Password,
		backend:  backend,
		logger:   logging.NewComponentLogger(logger, "ipc"),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve starts accepting RPC connections until Close or context cancellation.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("address", s.listener.Addr().String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions"))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.serveConn(c)
			}(conn)
		}
	}()
	go func() {
		<-s.ctx.Done()
		_ = s.listener.Close()
	}()
}

func (s *Server) serveConn(conn net.Conn) {
	rpcServer := rpc.NewServer()
	sess := &session{backend: s.backend, password: s.password, logger: s.logger}
	if err := rpcServer.RegisterName(serviceName, sess); err != nil {
		s.logger.Error("register rpc session", logging.Error(err))
		_ = conn.Close()
		return
	}
	rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// DropConnections closes every open client connection without stopping the
// listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Close stops the server, drops clients, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	if s.network != "unix" {
		return
	}
	if err := os.RemoveAll(s.address); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.address),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

// session is the per-connection RPC receiver.
type session struct {
	backend  Backend
	password string
	logger   *slog.Logger

	mu         sync.Mutex
	nonce      string
	authorized bool
}

func (s *session) allowed() bool {
	if s.password == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

func (s *session) guard(r *Reply) bool {
	if s.allowed() {
		return true
	}
	r.Code = ErrUnauthorized
	r.Message = "authorization required"
	return false
}

func fill(r *Reply, err error) {
	if err == nil {
		return
	}
	if code, ok := CodeOf(err); ok {
		r.Code = code
	} else {
		r.Code = ErrGeneric
	}
	r.Message = err.Error()
}

func (s *session) Auth1(_ Empty, resp *Auth1Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = uuid.NewString()
	resp.Nonce = s.nonce
	return nil
}

func (s *session) Auth2(req Auth2Request, resp *Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.password == "" {
		s.authorized = true
		return nil
	}
	if s.nonce == "" || req.NonceHash != NonceHash(s.nonce, s.password) {
		s.nonce = ""
		resp.Code = ErrUnauthorized
		resp.Message = "bad password"
		s.logger.Info("rejected client authorization", logging.String(logging.FieldEventType, "auth_rejected"))
		return nil
	}
	s.nonce = ""
	s.authorized = true
	return nil
}

func (s *session) GetStatus(_ Empty, resp *StatusReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	status, err := s.backend.Status()
	fill(&resp.Reply, err)
	resp.Status = status
	return nil
}

func (s *session) GetResults(req ResultsRequest, resp *ResultsReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	results, err := s.backend.Results(req.ActiveOnly)
	fill(&resp.Reply, err)
	resp.Results = results
	return nil
}

func (s *session) GetProjects(_ Empty, resp *ProjectsReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	projects, err := s.backend.Projects()
	fill(&resp.Reply, err)
	resp.Projects = projects
	return nil
}

func (s *session) GetTransfers(_ Empty, resp *TransfersReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	transfers, err := s.backend.Transfers()
	fill(&resp.Reply, err)
	resp.Transfers = transfers
	return nil
}

func (s *session) GetGlobalPrefsWorking(_ Empty, resp *PrefsReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	prefs, err := s.backend.GlobalPrefsWorking()
	fill(&resp.Reply, err)
	resp.Prefs = prefs
	return nil
}

func (s *session) GetMessages(req MessagesRequest, resp *MessagesReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	msgs, err := s.backend.Messages(req.SinceSeqno)
	fill(&resp.Reply, err)
	resp.Messages = msgs
	return nil
}

func (s *session) GetAcctMgrInfo(_ Empty, resp *AcctMgrInfoReply) error {
	if !s.guard(&resp.Reply) {
		return nil
	}
	info, err := s.backend.AcctMgrInfo()
	fill(&resp.Reply, err)
	resp.Info = info
	return nil
}

func (s *session) GetProjectConfig(req ProjectConfigRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.StartProjectConfig(req.URL))
	}
	return nil
}

func (s *session) GetProjectConfigPoll(_ Empty, resp *ProjectConfig) error {
	if !s.allowed() {
		resp.ErrorNum = ErrUnauthorized
		return nil
	}
	*resp = s.backend.PollProjectConfig()
	return nil
}

func (s *session) LookupAccount(req AccountIn, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.StartLookupAccount(req))
	}
	return nil
}

func (s *session) LookupAccountPoll(_ Empty, resp *AccountOut) error {
	if !s.allowed() {
		resp.ErrorNum = ErrUnauthorized
		return nil
	}
	*resp = s.backend.PollLookupAccount()
	return nil
}

func (s *session) CreateAccount(req AccountIn, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.StartCreateAccount(req))
	}
	return nil
}

func (s *session) CreateAccountPoll(_ Empty, resp *AccountOut) error {
	if !s.allowed() {
		resp.ErrorNum = ErrUnauthorized
		return nil
	}
	*resp = s.backend.PollCreateAccount()
	return nil
}

func (s *session) ProjectAttach(req ProjectAttachRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.StartProjectAttach(req.URL, req.Authenticator, req.ProjectName))
	}
	return nil
}

func (s *session) ProjectAttachPoll(_ Empty, resp *ProjectAttachReply) error {
	if !s.allowed() {
		resp.ErrorNum = ErrUnauthorized
		return nil
	}
	*resp = s.backend.PollProjectAttach()
	return nil
}

func (s *session) AcctMgrRPC(req AcctMgrRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.StartAcctMgrRPC(req.URL, req.Name, req.PasswdHash))
	}
	return nil
}

func (s *session) AcctMgrRPCPoll(_ Empty, resp *AcctMgrRPCReply) error {
	if !s.allowed() {
		resp.ErrorNum = ErrUnauthorized
		return nil
	}
	*resp = s.backend.PollAcctMgrRPC()
	return nil
}

func (s *session) SetRunMode(req ModeRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.SetRunMode(req.Mode, time.Duration(req.DurationSeconds*float64(time.Second))))
	}
	return nil
}

func (s *session) SetNetworkMode(req ModeRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.SetNetworkMode(req.Mode, time.Duration(req.DurationSeconds*float64(time.Second))))
	}
	return nil
}

func (s *session) SetGlobalPrefsOverride(req GlobalPrefs, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.SetGlobalPrefsOverride(req))
	}
	return nil
}

func (s *session) ReadGlobalPrefsOverride(_ Empty, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.ReadGlobalPrefsOverride())
	}
	return nil
}

func (s *session) ProjectOp(req ProjectOpRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.ProjectOp(req.Op, req.URL))
	}
	return nil
}

func (s *session) TransferOp(req TransferOpRequest, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.TransferOp(req.Op, req.ProjectURL, req.Name))
	}
	return nil
}

func (s *session) Quit(_ Empty, resp *Reply) error {
	if s.guard(resp) {
		fill(resp, s.backend.Quit())
	}
	return nil
}
