package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Client is the tool backend boundary: the copilot lists the backend's tools,
// forwards them to the LLM, and executes the calls the model requests.
type Client interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// Tool describes one callable tool exposed by the MCP server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Headers carries the per-user connection parameters forwarded to the data
// backend on every call. Values default from config and may be overridden per
// request.
type Headers struct {
	EnvURL   string
	Tenant   string
	User     string
	Password string
}

func (h Headers) apply(req *http.Request) {
	if h.EnvURL != "" {
		req.Header.Set("env-url", h.EnvURL)
	}
	if h.Tenant != "" {
		req.Header.Set("tenant", h.Tenant)
	}
	if h.User != "" {
		req.Header.Set("user", h.User)
	}
	if h.Password != "" {
		req.Header.Set("password", h.Password)
	}
}

type httpMCP struct {
	url        string
	headers    Headers
	httpClient *http.Client
	seq        atomic.Int64
}

// NewHTTPClient creates a JSON-RPC-over-HTTP MCP client for the given server.
func NewHTTPClient(serverURL string, headers Headers, timeout time.Duration) Client {
	return &httpMCP{
		url:        serverURL,
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcReq struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResp struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  map[string]any `json:"result,omitempty"`
	Error   *rpcError      `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *httpMCP) send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(rpcReq{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.headers.apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("mcp: %s returned status %d", method, resp.StatusCode)
	}

	var out rpcResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mcp: decode %s response: %w", method, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}

func (c *httpMCP) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := res["tools"].([]any)
	if !ok {
		return nil, errors.New("invalid tools/list response")
	}
	out := make([]Tool, 0, len(raw))
	for _, v := range raw {
		b, _ := json.Marshal(v)
		var t Tool
		_ = json.Unmarshal(b, &t)
		out = append(out, t)
	}
	return out, nil
}

func (c *httpMCP) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return c.send(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
}
