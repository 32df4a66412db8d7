package controlsocket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
)

// Client is a short-lived connection to the control socket, grounded on the
// teacher's internal/transport.Client dial-per-call shape, adapted from an
// HTTP client to a line-JSON-RPC one.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// call dials, sends one request line, reads one response line, and closes.
func (c *Client) call(method string, params any) (json.RawMessage, error) {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: marshal params: %w", err)
	}
	req := Request{Method: method, Params: paramsRaw}
	reqRaw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("controlsocket: marshal request: %w", err)
	}
	if _, err := conn.Write(append(reqRaw, '\n')); err != nil {
		return nil, fmt.Errorf("controlsocket: write: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1<<16), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("controlsocket: read: %w", err)
		}
		return nil, fmt.Errorf("controlsocket: connection closed without a response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("controlsocket: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("controlsocket: %s: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (c *Client) Open(name, directory string) (OpenResult, error) {
	raw, err := c.call("open", OpenParams{Name: name, Directory: directory})
	if err != nil {
		return OpenResult{}, err
	}
	var out OpenResult
	err = json.Unmarshal(raw, &out)
	return out, err
}

func (c *Client) Close(name string) error {
	_, err := c.call("close", CloseParams{Name: name})
	return err
}

func (c *Client) List() ([]SessionInfo, error) {
	raw, err := c.call("list", struct{}{})
	if err != nil {
		return nil, err
	}
	var out []SessionInfo
	err = json.Unmarshal(raw, &out)
	return out, err
}

func (c *Client) Status() (StatusResult, error) {
	raw, err := c.call("status", struct{}{})
	if err != nil {
		return StatusResult{}, err
	}
	var out StatusResult
	err = json.Unmarshal(raw, &out)
	return out, err
}

func (c *Client) ResolveAttach(name string) (ResolveAttachResult, error) {
	raw, err := c.call("resolve_attach", ResolveAttachParams{Name: name})
	if err != nil {
		return ResolveAttachResult{}, err
	}
	var out ResolveAttachResult
	err = json.Unmarshal(raw, &out)
	return out, err
}
