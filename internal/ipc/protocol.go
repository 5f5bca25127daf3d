package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/1broseidon/clusterhome/internal/home"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandGetStatus    CommandType = "GET_STATUS"
	CommandGetDisplays  CommandType = "GET_DISPLAYS"
	CommandSwitchUI     CommandType = "SWITCH_UI"
	CommandCycleUI      CommandType = "CYCLE_UI"
	CommandSetSession   CommandType = "SET_SESSION"
	CommandSetProperty  CommandType = "SET_PROPERTY"
	CommandWatchReports CommandType = "WATCH_REPORTS"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	Backend       string       `json:"backend"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	DaemonRunning bool         `json:"daemon_running"`
	Activities    []string     `json:"activities"`
	Display       DisplayState `json:"display"`
	// UI is nil until the cluster display is ready and the orchestrator runs.
	UI *home.UIState `json:"ui,omitempty"`
}

// DisplayState describes how the cluster display is tracked.
type DisplayState struct {
	ID          int    `json:"id"`
	Mode        string `json:"mode"`
	PendingName string `json:"pending_name,omitempty"`
}

// DisplayInfo represents information about a single display
type DisplayInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Cluster bool   `json:"cluster"`
}

// DisplaysData represents the data returned by GET_DISPLAYS
type DisplaysData struct {
	Displays []DisplayInfo `json:"displays"`
}

// SwitchUIPayload represents the payload for SWITCH_UI
type SwitchUIPayload struct {
	UIType int `json:"ui_type"`
}

// SetSessionPayload represents the payload for SET_SESSION
type SetSessionPayload struct {
	Phase string `json:"phase"`
}

// SetPropertyPayload represents the payload for SET_PROPERTY
type SetPropertyPayload struct {
	PropID uint32  `json:"prop_id"`
	Values []int32 `json:"values"`
}

// RequestData is returned by commands that enter the cluster state channel.
type RequestData struct {
	RequestID string `json:"request_id"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
	}
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
