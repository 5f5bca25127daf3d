package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/platform"
	"github.com/1broseidon/clusterhome/internal/runtimepath"
)

const requestTimeout = 5 * time.Second

// Controller is the daemon surface served over IPC.
type Controller interface {
	Status(ctx context.Context) (StatusData, error)
	Displays() (DisplaysData, error)
	// SwitchUI enters the cluster state channel as a remote request.
	SwitchUI(ctx context.Context, uiType int) (string, error)
	Cycle(ctx context.Context) error
	SetSession(phase platform.LifecyclePhase) error
	SetProperty(ctx context.Context, propID uint32, values []int32) (string, error)
	WatchReports(ctx context.Context) <-chan clusterstate.Report
}

// Server handles IPC requests from clients
type Server struct {
	socketPath   string
	listener     net.Listener
	ctrl         Controller
	logger       *zap.Logger
	startTime    time.Time
	ctx          context.Context
	cancel       context.CancelFunc
	conns        sync.WaitGroup
	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(ctrl Controller, logger *zap.Logger) (*Server, error) {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Remove existing socket if present
	os.Remove(socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		logger:     logger.Named("ipc"),
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Uptime returns the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", zap.String("socket", s.socketPath))

	go s.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			if s.shuttingDown {
				s.shutdownMu.Unlock()
				return
			}
			s.shutdownMu.Unlock()
			s.logger.Warn("IPC accept error", zap.Error(err))
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection handles a single IPC connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Read the request (expect JSON on a single line)
	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("IPC read error", zap.Error(err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	req, err := ParseRequest(data)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	if req.Command == CommandWatchReports {
		s.streamReports(conn, reader)
		return
	}

	resp := s.handleCommand(req)
	s.send(conn, resp)
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(req *Request) *Response {
	switch req.Command {
	case CommandGetStatus:
		return s.handleGetStatus()
	case CommandGetDisplays:
		return s.handleGetDisplays()
	case CommandSwitchUI:
		return s.handleSwitchUI(req.Payload)
	case CommandCycleUI:
		return s.handleCycleUI()
	case CommandSetSession:
		return s.handleSetSession(req.Payload)
	case CommandSetProperty:
		return s.handleSetProperty(req.Payload)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleGetStatus() *Response {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	status, err := s.ctrl.Status(ctx)
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to get status: %v", err))
	}
	status.UptimeSeconds = int64(s.Uptime().Seconds())
	status.DaemonRunning = true

	resp, _ := NewOKResponse(status)
	return resp
}

func (s *Server) handleGetDisplays() *Response {
	data, err := s.ctrl.Displays()
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to get displays: %v", err))
	}

	resp, _ := NewOKResponse(data)
	return resp
}

func (s *Server) handleSwitchUI(payload json.RawMessage) *Response {
	var req SwitchUIPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid switch payload: %v", err))
	}

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	id, err := s.ctrl.SwitchUI(ctx, req.UIType)
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to switch ui: %v", err))
	}
	s.logger.Info("IPC: switch ui", zap.Int("ui_type", req.UIType), zap.String("request_id", id))

	resp, _ := NewOKResponse(RequestData{RequestID: id})
	return resp
}

func (s *Server) handleCycleUI() *Response {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	if err := s.ctrl.Cycle(ctx); err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to cycle ui: %v", err))
	}

	resp, _ := NewOKResponse(nil)
	return resp
}

func (s *Server) handleSetSession(payload json.RawMessage) *Response {
	var req SetSessionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid session payload: %v", err))
	}
	phase, err := platform.ParseLifecyclePhase(req.Phase)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	if err := s.ctrl.SetSession(phase); err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to set session: %v", err))
	}
	s.logger.Info("IPC: session phase", zap.Stringer("phase", phase))

	resp, _ := NewOKResponse(nil)
	return resp
}

func (s *Server) handleSetProperty(payload json.RawMessage) *Response {
	var req SetPropertyPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return NewErrorResponse(fmt.Sprintf("Invalid property payload: %v", err))
	}

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	id, err := s.ctrl.SetProperty(ctx, req.PropID, req.Values)
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to set property: %v", err))
	}

	resp, _ := NewOKResponse(RequestData{RequestID: id})
	return resp
}

// streamReports acknowledges the watch and then writes one report per line
// until the client hangs up or the server stops.
func (s *Server) streamReports(conn net.Conn, reader *bufio.Reader) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	go func() {
		// Any read result means the client went away.
		_, _ = reader.ReadByte()
		cancel()
	}()

	reports := s.ctrl.WatchReports(ctx)
	ack, _ := NewOKResponse(nil)
	if err := s.send(conn, ack); err != nil {
		return
	}

	enc := json.NewEncoder(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-reports:
			if !ok {
				return
			}
			if err := enc.Encode(r); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Debug("report watcher gone", zap.Error(err))
				}
				return
			}
		}
	}
}

func (s *Server) send(conn net.Conn, resp *Response) error {
	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Error("Failed to marshal response", zap.Error(err))
		return err
	}

	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Warn("Failed to send response", zap.Error(err))
		return err
	}
	return nil
}

// sendError sends an error response
func (s *Server) sendError(conn net.Conn, errMsg string) {
	_ = s.send(conn, NewErrorResponse(errMsg))
}

// Stop gracefully shuts down the IPC server
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Wait()
	os.Remove(s.socketPath)
}
