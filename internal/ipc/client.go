package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/1broseidon/clusterhome/internal/clusterstate"
	"github.com/1broseidon/clusterhome/internal/runtimepath"
)

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient() *Client {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		// Keep constructor non-failing; sendRequest surfaces connection errors.
		socketPath = ""
	}

	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	return conn, nil
}

func writeRequest(conn net.Conn, req *Request) error {
	reqData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func readResponse(reader *bufio.Reader) (*Response, error) {
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Status == "ERROR" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}

// sendRequest sends a request and waits for a response
func (c *Client) sendRequest(command CommandType, payload interface{}) (*Response, error) {
	req := &Request{Command: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", command, err)
		}
		req.Payload = data
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := writeRequest(conn, req); err != nil {
		return nil, err
	}
	return readResponse(bufio.NewReader(conn))
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	resp, err := c.sendRequest(CommandGetStatus, nil)
	if err != nil {
		return nil, err
	}

	var status StatusData
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status data: %w", err)
	}

	return &status, nil
}

// GetDisplays retrieves display information
func (c *Client) GetDisplays() (*DisplaysData, error) {
	resp, err := c.sendRequest(CommandGetDisplays, nil)
	if err != nil {
		return nil, err
	}

	var displays DisplaysData
	if err := json.Unmarshal(resp.Data, &displays); err != nil {
		return nil, fmt.Errorf("failed to parse displays data: %w", err)
	}

	return &displays, nil
}

// SwitchUI asks the daemon to show uiType. It returns the request id.
func (c *Client) SwitchUI(uiType int) (string, error) {
	resp, err := c.sendRequest(CommandSwitchUI, SwitchUIPayload{UIType: uiType})
	if err != nil {
		return "", err
	}
	return parseRequestID(resp)
}

// CycleUI advances the cluster to the next UI.
func (c *Client) CycleUI() error {
	_, err := c.sendRequest(CommandCycleUI, nil)
	return err
}

// SetSession delivers a user lifecycle phase.
func (c *Client) SetSession(phase string) error {
	_, err := c.sendRequest(CommandSetSession, SetSessionPayload{Phase: phase})
	return err
}

// SetProperty writes a vehicle property on the daemon's state channel.
func (c *Client) SetProperty(ctx context.Context, propID uint32, values []int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.sendRequest(CommandSetProperty, SetPropertyPayload{PropID: propID, Values: values})
	return err
}

// WatchReports streams reported cluster states until ctx is done or the
// daemon goes away.
func (c *Client) WatchReports(ctx context.Context) (<-chan clusterstate.Report, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	conn.SetDeadline(time.Now().Add(c.timeout))
	if err := writeRequest(conn, &Request{Command: CommandWatchReports}); err != nil {
		conn.Close()
		return nil, err
	}
	reader := bufio.NewReader(conn)
	if _, err := readResponse(reader); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	out := make(chan clusterstate.Report, 16)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()
	go func() {
		defer close(out)
		defer close(stopped)
		defer conn.Close()
		dec := json.NewDecoder(reader)
		for {
			var r clusterstate.Report
			if err := dec.Decode(&r); err != nil {
				return
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}

func parseRequestID(resp *Response) (string, error) {
	var data RequestData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("failed to parse request data: %w", err)
	}
	return data.RequestID, nil
}
