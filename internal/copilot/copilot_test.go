package copilot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/internal/mcp"
	"github.com/mohammad-safakhou/glance/internal/tasklist"
	"github.com/mohammad-safakhou/glance/models"
	"github.com/mohammad-safakhou/glance/session/inmemory"
	"github.com/mohammad-safakhou/glance/session/session_models"
)

const completeDoc = "<!DOCTYPE html>\n<html>\n<head><title>Sales</title></head>\n<body><div>chart</div></body>\n</html>"

type stubProvider struct {
	completions []models.Completion
	err         error
	calls       [][]session_models.Message
	tools       []models.ToolContext
}

func (s *stubProvider) Invoke(ctx context.Context, messages []session_models.Message, tools models.ToolContext) (models.Completion, error) {
	copied := make([]session_models.Message, len(messages))
	copy(copied, messages)
	s.calls = append(s.calls, copied)
	s.tools = append(s.tools, tools)
	if s.err != nil {
		return models.Completion{}, s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.completions) {
		idx = len(s.completions) - 1
	}
	return s.completions[idx], nil
}

type stubMCP struct {
	tools   []mcp.Tool
	listErr error
}

func (s *stubMCP) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *stubMCP) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return map[string]any{"rows": []any{}}, nil
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Session.CacheValidity = 5 * time.Minute
	cfg.Session.MaxSessions = 16
	cfg.MCP.ServerURL = "http://mcp.local/rpc"
	return cfg
}

func newTestCopilot(t *testing.T, prov *stubProvider, backend mcp.Client) *Copilot {
	t.Helper()
	sessions, err := inmemory.NewStore(16)
	if err != nil {
		t.Fatalf("inmemory.NewStore: %v", err)
	}
	opts := []Option{WithMCPFactory(func(string, mcp.Headers, time.Duration) mcp.Client {
		return backend
	})}
	return New(testConfig(), sessions, prov, nil, opts...)
}

func TestChatProducesDashboardAndStrippedMarkdown(t *testing.T) {
	analysis := "Here is the revenue breakdown.\n\n```html\n" + completeDoc + "\n```\n\nRevenue grew 12%."
	prov := &stubProvider{completions: []models.Completion{{Text: analysis, TokensUsed: 100, Cost: 0.01}}}
	cop := newTestCopilot(t, prov, &stubMCP{tools: []mcp.Tool{{Name: "run_query"}}})

	res, err := cop.Chat(context.Background(), "", "show revenue by region", Overrides{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.SessionID == "" || res.RunID == "" {
		t.Fatalf("missing ids: %+v", res)
	}
	if res.Dashboard == nil {
		t.Fatalf("expected dashboard output")
	}
	if res.Dashboard.Content != completeDoc {
		t.Fatalf("dashboard content mismatch:\n%s", res.Dashboard.Content)
	}
	if res.Dashboard.AspectRatio != "16/9" || res.Dashboard.HTMLType != "dashboard" {
		t.Fatalf("unexpected envelope: %+v", res.Dashboard)
	}
	if strings.Contains(res.Markdown, "<html") {
		t.Fatalf("markdown still contains raw HTML: %q", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "Revenue grew 12%") {
		t.Fatalf("markdown lost analysis text: %q", res.Markdown)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %q", res.Warning)
	}
	if res.TokensUsed != 100 {
		t.Fatalf("tokens not aggregated: %d", res.TokensUsed)
	}
	if len(prov.tools) != 1 || len(prov.tools[0].Tools) != 1 {
		t.Fatalf("tool schemas not forwarded: %+v", prov.tools)
	}
}

func TestChatReusesCachedSystemPromptAcrossTurns(t *testing.T) {
	analysis := "plain analysis, no dashboard today"
	prov := &stubProvider{completions: []models.Completion{{Text: analysis}}}
	cop := newTestCopilot(t, prov, &stubMCP{})

	first, err := cop.Chat(context.Background(), "sess-1", "first question", Overrides{})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := cop.Chat(context.Background(), first.SessionID, "second question", Overrides{}); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(prov.calls) != 2 {
		t.Fatalf("expected two provider calls, got %d", len(prov.calls))
	}

	var systems [2]session_models.Message
	for i, call := range prov.calls {
		count := 0
		for _, m := range call {
			if m.Role == session_models.RoleSystem {
				systems[i] = m
				count++
			}
		}
		if count != 1 {
			t.Fatalf("turn %d: expected exactly one system message, got %d", i+1, count)
		}
		if !systems[i].CacheControl {
			t.Fatalf("turn %d: system message not cache-marked", i+1)
		}
	}
	if systems[0].Content != systems[1].Content {
		t.Fatalf("cached system prompt changed between turns")
	}

	// Second turn carries the first turn's exchange.
	second := prov.calls[1]
	if len(second) != 4 {
		t.Fatalf("expected 4 messages on second turn, got %d", len(second))
	}
	if second[1].Content != "first question" || second[2].Content != analysis {
		t.Fatalf("history not committed: %+v", second)
	}
}

func TestChatTruncatedDashboardIsWarningNotError(t *testing.T) {
	truncatedDoc := "<!DOCTYPE html>\n<html>\n<head><title>Sales</title></head>\n<body><div>chart</div>"
	analysis := "Partial output.\n\n```html\n" + truncatedDoc + "\n```"
	prov := &stubProvider{completions: []models.Completion{{Text: analysis, TruncatedByLimit: true}}}
	cop := newTestCopilot(t, prov, &stubMCP{})

	res, err := cop.Chat(context.Background(), "", "dashboard please", Overrides{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Warning == "" {
		t.Fatalf("expected truncation warning")
	}
	if res.Dashboard == nil {
		t.Fatalf("truncated dashboard should still be returned")
	}
}

func TestAbsentDashboardFailsExplicitRenderRequest(t *testing.T) {
	prov := &stubProvider{completions: []models.Completion{{Text: "no html at all"}}}
	cop := newTestCopilot(t, prov, &stubMCP{})

	doc := tasklist.Document{Tasks: []tasklist.TaskSpec{
		{ID: 1, OperatorKind: "analysis"},
		{ID: 2, OperatorKind: "extraction-render", RendererHint: "dashboard", DependsOn: []int{1}},
		{ID: 3, OperatorKind: "aggregation", DependsOn: []int{1, 2}},
	}}
	_, out, err := cop.RunTasks(context.Background(), "", "show a dashboard", Overrides{}, doc)
	if !errors.Is(err, ErrExtractionAbsent) {
		t.Fatalf("expected ErrExtractionAbsent, got %v", err)
	}
	if out.Tasks[1].Status != "FAILED" || out.Tasks[2].Status != "FAILED" {
		t.Fatalf("statuses not written back: %+v", out.Tasks)
	}
	if out.Tasks[0].Status != "DONE" {
		t.Fatalf("analysis task should be DONE: %+v", out.Tasks[0])
	}
}

func TestChatAbsentDashboardWithoutHintSucceeds(t *testing.T) {
	prov := &stubProvider{completions: []models.Completion{{Text: "just words"}}}
	cop := newTestCopilot(t, prov, &stubMCP{})

	res, err := cop.Chat(context.Background(), "", "how were sales", Overrides{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Dashboard != nil {
		t.Fatalf("expected no dashboard, got %+v", res.Dashboard)
	}
	if res.Markdown != "just words" {
		t.Fatalf("unexpected markdown: %q", res.Markdown)
	}
}

func TestChatEmptyMessageIsConfigurationError(t *testing.T) {
	cop := newTestCopilot(t, &stubProvider{completions: []models.Completion{{}}}, &stubMCP{})
	if _, err := cop.Chat(context.Background(), "", "   ", Overrides{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestChatMapsDeadlineToUpstreamTimeout(t *testing.T) {
	prov := &stubProvider{err: context.DeadlineExceeded}
	cop := newTestCopilot(t, prov, &stubMCP{})
	if _, err := cop.Chat(context.Background(), "", "question", Overrides{}); !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestChatProviderFailureIsUpstreamFailure(t *testing.T) {
	prov := &stubProvider{err: errors.New("boom")}
	cop := newTestCopilot(t, prov, &stubMCP{})
	if _, err := cop.Chat(context.Background(), "", "question", Overrides{}); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected ErrUpstreamFailure, got %v", err)
	}
}

func TestChatContinuesWhenToolListingFails(t *testing.T) {
	prov := &stubProvider{completions: []models.Completion{{Text: "analysis without tools"}}}
	cop := newTestCopilot(t, prov, &stubMCP{listErr: errors.New("backend down")})

	if _, err := cop.Chat(context.Background(), "", "question", Overrides{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(prov.tools) != 1 || len(prov.tools[0].Tools) != 0 {
		t.Fatalf("expected empty tool context, got %+v", prov.tools)
	}
}
