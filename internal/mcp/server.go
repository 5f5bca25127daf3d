// Package mcp exposes the cluster home daemon as MCP tools, so an assistant
// can inspect the cluster display and drive UI switches over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/1broseidon/clusterhome/internal/ipc"
	"github.com/1broseidon/clusterhome/internal/platform"
)

const (
	ServerName    = "clusterhome"
	ServerVersion = "0.1.0"
)

// DaemonClient is the subset of the IPC client the tools use.
type DaemonClient interface {
	GetStatus() (*ipc.StatusData, error)
	GetDisplays() (*ipc.DisplaysData, error)
	SwitchUI(uiType int) (string, error)
	CycleUI() error
	SetSession(phase string) error
}

var _ DaemonClient = (*ipc.Client)(nil)

// Server is the MCP server for the cluster home daemon.
type Server struct {
	mcpServer *mcpsdk.Server
	client    DaemonClient
	logger    *zap.Logger

	pollInterval time.Duration
}

// NewServer creates an MCP server that forwards tool calls to client.
func NewServer(client DaemonClient, logger *zap.Logger) (*Server, error) {
	if client == nil {
		return nil, errors.New("mcp: daemon client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		client:       client,
		logger:       logger.Named("mcp"),
		pollInterval: 250 * time.Millisecond,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cluster_status",
		Description: "Report the cluster display binding, the configured cluster UIs and, once the display is ready, the current and reported UI and the user session phase.",
	}, s.handleClusterStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_displays",
		Description: "List the displays known to the platform. The cluster display is marked with cluster=true.",
	}, s.handleListDisplays)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "switch_ui",
		Description: "Ask the cluster to show a UI by index, the way the cluster OS does. The switch is ignored while the user session is not unlocked. Returns the request id.",
	}, s.handleSwitchUI)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cycle_ui",
		Description: "Advance the cluster to the next UI, as the cycle key on the steering wheel does.",
	}, s.handleCycleUI)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_session",
		Description: "Publish a user lifecycle phase (starting, switching or unlocked). UI switches are only honored once the session is unlocked.",
	}, s.handleSetSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "wait_for_ui",
		Description: "Wait until the cluster reports the given UI as shown, or until the timeout (default 10s) expires.",
	}, s.handleWaitForUI)
}

func (s *Server) handleClusterStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ ClusterStatusInput) (*mcpsdk.CallToolResult, ClusterStatusOutput, error) {
	status, err := s.client.GetStatus()
	if err != nil {
		return nil, ClusterStatusOutput{}, fmt.Errorf("cluster_status: %w", err)
	}
	out := ClusterStatusOutput{
		Backend:       status.Backend,
		UptimeSeconds: status.UptimeSeconds,
		Activities:    status.Activities,
		DisplayID:     status.Display.ID,
		DisplayMode:   status.Display.Mode,
		PendingName:   status.Display.PendingName,
	}
	if status.UI != nil {
		out.Ready = true
		out.CurrentUIType = status.UI.CurrentUIType
		out.ReportedUIType = status.UI.ReportedUIType
		out.SessionPhase = status.UI.PhaseName
	}
	return nil, out, nil
}

func (s *Server) handleListDisplays(_ context.Context, _ *mcpsdk.CallToolRequest, _ ListDisplaysInput) (*mcpsdk.CallToolResult, ListDisplaysOutput, error) {
	displays, err := s.client.GetDisplays()
	if err != nil {
		return nil, ListDisplaysOutput{}, fmt.Errorf("list_displays: %w", err)
	}
	return nil, ListDisplaysOutput{Displays: displays.Displays}, nil
}

func (s *Server) handleSwitchUI(_ context.Context, _ *mcpsdk.CallToolRequest, args SwitchUIInput) (*mcpsdk.CallToolResult, SwitchUIOutput, error) {
	if args.UIType < 0 {
		return nil, SwitchUIOutput{}, fmt.Errorf("switch_ui: ui_type must be >= 0, got %d", args.UIType)
	}
	id, err := s.client.SwitchUI(args.UIType)
	if err != nil {
		return nil, SwitchUIOutput{}, fmt.Errorf("switch_ui: %w", err)
	}
	s.logger.Info("switch requested", zap.Int("ui_type", args.UIType), zap.String("request_id", id))
	return nil, SwitchUIOutput{RequestID: id, UIType: args.UIType}, nil
}

func (s *Server) handleCycleUI(_ context.Context, _ *mcpsdk.CallToolRequest, _ CycleUIInput) (*mcpsdk.CallToolResult, CycleUIOutput, error) {
	if err := s.client.CycleUI(); err != nil {
		return nil, CycleUIOutput{}, fmt.Errorf("cycle_ui: %w", err)
	}
	return nil, CycleUIOutput{Requested: true}, nil
}

func (s *Server) handleSetSession(_ context.Context, _ *mcpsdk.CallToolRequest, args SetSessionInput) (*mcpsdk.CallToolResult, SetSessionOutput, error) {
	phase, err := platform.ParseLifecyclePhase(args.Phase)
	if err != nil {
		return nil, SetSessionOutput{}, fmt.Errorf("set_session: %w", err)
	}
	if err := s.client.SetSession(phase.String()); err != nil {
		return nil, SetSessionOutput{}, fmt.Errorf("set_session: %w", err)
	}
	s.logger.Info("session phase published", zap.Stringer("phase", phase))
	return nil, SetSessionOutput{Phase: phase.String()}, nil
}

func (s *Server) handleWaitForUI(ctx context.Context, _ *mcpsdk.CallToolRequest, args WaitForUIInput) (*mcpsdk.CallToolResult, WaitForUIOutput, error) {
	timeout := time.Duration(args.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	start := time.Now()
	deadline := start.Add(timeout)
	reported := -1
	for {
		status, err := s.client.GetStatus()
		if err != nil {
			return nil, WaitForUIOutput{}, fmt.Errorf("wait_for_ui: %w", err)
		}
		if status.UI != nil {
			reported = status.UI.ReportedUIType
			if reported == args.UIType {
				return nil, WaitForUIOutput{
					Reached:        true,
					ReportedUIType: reported,
					ElapsedMillis:  time.Since(start).Milliseconds(),
				}, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, WaitForUIOutput{
				ReportedUIType: reported,
				ElapsedMillis:  time.Since(start).Milliseconds(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, WaitForUIOutput{}, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}
