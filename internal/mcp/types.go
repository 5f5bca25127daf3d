package mcp

import "github.com/1broseidon/clusterhome/internal/ipc"

// ClusterStatusInput is the input for the cluster_status tool.
type ClusterStatusInput struct{}

// ClusterStatusOutput is the output for the cluster_status tool.
type ClusterStatusOutput struct {
	Backend        string   `json:"backend"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	Activities     []string `json:"activities"`
	DisplayID      int      `json:"display_id"`
	DisplayMode    string   `json:"display_mode"`
	PendingName    string   `json:"pending_name,omitempty"`
	Ready          bool     `json:"ready"`
	CurrentUIType  int      `json:"current_ui_type"`
	ReportedUIType int      `json:"reported_ui_type"`
	SessionPhase   string   `json:"session_phase,omitempty"`
}

// ListDisplaysInput is the input for the list_displays tool.
type ListDisplaysInput struct{}

// ListDisplaysOutput is the output for the list_displays tool.
type ListDisplaysOutput struct {
	Displays []ipc.DisplayInfo `json:"displays"`
}

// SwitchUIInput is the input for the switch_ui tool.
type SwitchUIInput struct {
	UIType int `json:"ui_type" jsonschema:"required,Index of the cluster UI to show (0 is the home UI)"`
}

// SwitchUIOutput is the output for the switch_ui tool.
type SwitchUIOutput struct {
	RequestID string `json:"request_id"`
	UIType    int    `json:"ui_type"`
}

// CycleUIInput is the input for the cycle_ui tool.
type CycleUIInput struct{}

// CycleUIOutput is the output for the cycle_ui tool.
type CycleUIOutput struct {
	Requested bool `json:"requested"`
}

// SetSessionInput is the input for the set_session tool.
type SetSessionInput struct {
	Phase string `json:"phase" jsonschema:"required,User lifecycle phase: starting, switching or unlocked"`
}

// SetSessionOutput is the output for the set_session tool.
type SetSessionOutput struct {
	Phase string `json:"phase"`
}

// WaitForUIInput is the input for the wait_for_ui tool.
type WaitForUIInput struct {
	UIType  int `json:"ui_type" jsonschema:"required,UI index the cluster is expected to report"`
	Timeout int `json:"timeout,omitempty" jsonschema:"Timeout in seconds (default: 10)"`
}

// WaitForUIOutput is the output for the wait_for_ui tool.
type WaitForUIOutput struct {
	Reached        bool  `json:"reached"`
	ReportedUIType int   `json:"reported_ui_type"`
	ElapsedMillis  int64 `json:"elapsed_ms"`
}
