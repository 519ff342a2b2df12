package models

import (
	"context"

	"github.com/mohammad-safakhou/glance/internal/mcp"
)

// Completion is the raw outcome of one agent invocation. TruncatedByLimit is
// set when the backend stopped generating because it hit its output budget;
// downstream validation treats such output as truncated regardless of how the
// text looks.
type Completion struct {
	Text             string
	TruncatedByLimit bool
	TokensUsed       int64
	ModelUsed        string
	Cost             float64
}

// ToolContext carries the tool schemas offered to the model and the client
// that executes the calls the model requests.
type ToolContext struct {
	Tools  []mcp.Tool
	Caller mcp.Client
}

// CallTool executes one tool call through the context's client.
func (tc ToolContext) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if tc.Caller == nil {
		return map[string]any{"error": "no tool backend attached"}, nil
	}
	return tc.Caller.CallTool(ctx, name, args)
}

// HTMLOutput is the render envelope handed to the host for a validated
// dashboard document.
type HTMLOutput struct {
	Content     string `json:"content"`
	AspectRatio string `json:"aspect_ratio"`
	Title       string `json:"title"`
	HTMLType    string `json:"html_type"`
}
