package copilot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/internal/executor"
	"github.com/mohammad-safakhou/glance/internal/htmlreport"
	"github.com/mohammad-safakhou/glance/internal/mcp"
	"github.com/mohammad-safakhou/glance/internal/prompt"
	"github.com/mohammad-safakhou/glance/internal/store"
	"github.com/mohammad-safakhou/glance/internal/tasklist"
	"github.com/mohammad-safakhou/glance/internal/telemetry"
	"github.com/mohammad-safakhou/glance/models"
	"github.com/mohammad-safakhou/glance/provider"
	"github.com/mohammad-safakhou/glance/session"
	"github.com/mohammad-safakhou/glance/session/session_models"
	"github.com/mohammad-safakhou/glance/session/session_object"
)

// Error kinds surfaced to callers. Handlers classify with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrUpstreamTimeout  = errors.New("upstream agent timed out")
	ErrUpstreamFailure  = errors.New("upstream agent failure")
	ErrExtractionAbsent = errors.New("no dashboard document found in agent output")
)

// Overrides carries per-request connection parameters for the data backend.
// Empty fields fall back to configuration.
type Overrides struct {
	MCPServerURL string `json:"mcp_server_url,omitempty"`
	EnvURL       string `json:"env_url,omitempty"`
	Tenant       string `json:"tenant,omitempty"`
	User         string `json:"user,omitempty"`
	Password     string `json:"password,omitempty"`
}

// Result is the aggregated outcome of one turn.
type Result struct {
	SessionID  string             `json:"session_id"`
	RunID      string             `json:"run_id"`
	Markdown   string             `json:"markdown"`
	Dashboard  *models.HTMLOutput `json:"dashboard,omitempty"`
	Warning    string             `json:"warning,omitempty"`
	TokensUsed int64              `json:"tokens_used,omitempty"`
	Cost       float64            `json:"cost,omitempty"`
}

// mcpFactory builds a tool backend client; replaceable in tests.
type mcpFactory func(serverURL string, headers mcp.Headers, timeout time.Duration) mcp.Client

// Copilot orchestrates one request end to end: session locking, prompt
// assembly, the provider call with tools, HTML extraction and validation, and
// aggregation of the user-visible result.
type Copilot struct {
	cfg       config.Config
	sessions  session.Store
	assembler *prompt.Assembler
	provider  provider.Provider
	exec      *executor.Executor
	store     *store.Store
	telemetry *telemetry.Telemetry
	newMCP    mcpFactory
	logger    *log.Logger
}

// Option configures optional collaborators.
type Option func(*Copilot)

// WithStore attaches the run journal.
func WithStore(st *store.Store) Option {
	return func(c *Copilot) { c.store = st }
}

// WithMCPFactory replaces the tool backend constructor.
func WithMCPFactory(f mcpFactory) Option {
	return func(c *Copilot) { c.newMCP = f }
}

// WithSystemPrompt overrides the default analyst system prompt.
func WithSystemPrompt(systemPrompt string) Option {
	return func(c *Copilot) {
		c.assembler = prompt.NewAssembler(systemPrompt, c.cfg.Session.CacheValidity, nil, c.telemetry)
	}
}

func New(cfg config.Config, sessions session.Store, prov provider.Provider, tele *telemetry.Telemetry, opts ...Option) *Copilot {
	c := &Copilot{
		cfg:       cfg,
		sessions:  sessions,
		provider:  prov,
		telemetry: tele,
		newMCP:    mcp.NewHTTPClient,
		logger:    log.New(log.Writer(), "[COPILOT] ", log.LstdFlags),
	}
	c.assembler = prompt.NewAssembler(prompt.DefaultSystemPrompt, cfg.Session.CacheValidity, nil, tele)
	for _, opt := range opts {
		opt(c)
	}
	execOpts := []executor.Option{executor.WithMetrics(executor.Metrics{
		Transition: func(_ context.Context, _ executor.Task, status executor.Status) {
			if tele != nil {
				tele.RecordTaskTransition(string(status))
			}
		},
	})}
	if c.store != nil {
		execOpts = append(execOpts, executor.WithCheckpointManager(executor.NewStoreCheckpointManager(c.store)))
	}
	c.exec = executor.New(execOpts...)
	return c
}

// defaultTaskList is the canonical three-node turn: analyse, then extract and
// render, then aggregate both into the final result.
func defaultTaskList() tasklist.Document {
	return tasklist.Document{Tasks: []tasklist.TaskSpec{
		{ID: 1, OperatorKind: string(executor.OperatorAnalysis)},
		{ID: 2, OperatorKind: string(executor.OperatorExtractionRender), DependsOn: []int{1}},
		{ID: 3, OperatorKind: string(executor.OperatorAggregation), DependsOn: []int{1, 2}},
	}}
}

// Chat runs one conversational turn through the canonical task DAG.
func (c *Copilot) Chat(ctx context.Context, sessionID, message string, ov Overrides) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{}, fmt.Errorf("%w: empty message", ErrConfiguration)
	}
	return c.run(ctx, sessionID, message, ov, defaultTaskList())
}

// RunTasks executes a host-supplied declarative task list for one turn and
// writes each task's result back into the document.
func (c *Copilot) RunTasks(ctx context.Context, sessionID, message string, ov Overrides, doc tasklist.Document) (Result, tasklist.Document, error) {
	res, err := c.run(ctx, sessionID, message, ov, doc)
	return res, doc, err
}

func (c *Copilot) run(ctx context.Context, sessionID, message string, ov Overrides, doc tasklist.Document) (Result, error) {
	g, err := doc.Graph()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	sess, err := c.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("session store: %w", err)
	}

	// One turn at a time per session: the lock spans read-history, append,
	// invoke and the response append, so interleaved turns cannot corrupt
	// the cache-marked prefix.
	sess.Lock()
	defer sess.Unlock()

	runID := uuid.NewString()
	if c.store != nil {
		if err := c.store.InsertRun(ctx, runID, sess.ID(), message); err != nil {
			c.logger.Printf("run %s: journal insert failed: %v", runID, err)
		}
	}

	runner := &turnRunner{copilot: c, sess: sess, message: message, tools: c.toolContext(ctx, ov)}
	_, execErr := c.exec.Execute(ctx, runID, g, runner)

	// Write statuses and results back for host-supplied documents.
	for i := range doc.Tasks {
		if t, ok := g.Tasks[doc.Tasks[i].ID]; ok {
			doc.Tasks[i].Status = string(t.Status)
			doc.Tasks[i].Result = t.Result
		}
	}

	res := c.collect(g, sess.ID(), runID)
	if execErr != nil {
		err := c.classify(execErr)
		c.finishRun(ctx, runID, store.RunStatusFailed, err.Error(), res)
		return res, err
	}

	if err := c.sessions.Persist(ctx, sess); err != nil {
		c.logger.Printf("run %s: session persist failed: %v", runID, err)
	}
	c.finishRun(ctx, runID, store.RunStatusSucceeded, "", res)
	return res, nil
}

// toolContext lists the backend's tools for the provider call. A backend that
// cannot be reached degrades to a plain conversation rather than failing the
// turn.
func (c *Copilot) toolContext(ctx context.Context, ov Overrides) models.ToolContext {
	serverURL := ov.MCPServerURL
	if serverURL == "" {
		serverURL = c.cfg.MCP.ServerURL
	}
	if serverURL == "" {
		return models.ToolContext{}
	}
	headers := mcp.Headers{
		EnvURL:   firstNonEmpty(ov.EnvURL, c.cfg.MCP.EnvURL),
		Tenant:   firstNonEmpty(ov.Tenant, c.cfg.MCP.Tenant),
		User:     firstNonEmpty(ov.User, c.cfg.MCP.Username),
		Password: firstNonEmpty(ov.Password, c.cfg.MCP.Password),
	}
	client := c.newMCP(serverURL, headers, c.cfg.MCP.Timeout)
	tools, err := client.ListTools(ctx)
	if err != nil {
		c.logger.Printf("mcp: list tools failed, continuing without tools: %v", err)
		return models.ToolContext{}
	}
	return models.ToolContext{Tools: tools, Caller: client}
}

func (c *Copilot) collect(g *executor.Graph, sessionID, runID string) Result {
	res := Result{SessionID: sessionID, RunID: runID}
	for _, t := range g.Tasks {
		switch v := t.Result.(type) {
		case models.Completion:
			res.TokensUsed += v.TokensUsed
			res.Cost += v.Cost
		case turnSummary:
			res.Markdown = v.Markdown
			res.Dashboard = v.Dashboard
			res.Warning = v.Warning
		}
	}
	return res
}

func (c *Copilot) finishRun(ctx context.Context, runID, status, errMsg string, res Result) {
	if c.store == nil {
		return
	}
	if err := c.store.FinishRun(ctx, runID, status, errMsg, res.Cost, res.TokensUsed); err != nil {
		c.logger.Printf("run %s: journal finish failed: %v", runID, err)
	}
}

// classify maps internal failures onto the caller-facing error kinds.
func (c *Copilot) classify(err error) error {
	switch {
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrUpstreamTimeout),
		errors.Is(err, ErrUpstreamFailure),
		errors.Is(err, ErrExtractionAbsent):
		return err
	case errors.Is(err, prompt.ErrNoSystemPrompt):
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	case errors.Is(err, executor.ErrDependencyNotSatisfied):
		// Internal invariant violation, not an upstream fault.
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// renderOutcome is the extraction-render task's materialized result.
type renderOutcome struct {
	Artifact htmlreport.Artifact
	Output   *models.HTMLOutput
}

// turnSummary is the aggregation task's materialized result.
type turnSummary struct {
	Markdown  string
	Dashboard *models.HTMLOutput
	Warning   string
}

// turnRunner executes the operators of one turn against a locked session.
type turnRunner struct {
	copilot *Copilot
	sess    *session_object.Session
	message string
	tools   models.ToolContext
}

func (r *turnRunner) RunTask(ctx context.Context, runID string, task executor.Task, deps map[int]any) (any, error) {
	switch task.Operator {
	case executor.OperatorAnalysis:
		return r.runAnalysis(ctx)
	case executor.OperatorExtractionRender:
		return r.runExtractionRender(task, deps)
	case executor.OperatorAggregation:
		return r.runAggregation(deps)
	default:
		return nil, fmt.Errorf("%w: %q", executor.ErrUnknownOperator, task.Operator)
	}
}

func (r *turnRunner) runAnalysis(ctx context.Context) (any, error) {
	messages, err := r.copilot.assembler.Build(r.sess, r.message)
	if err != nil {
		return nil, err
	}
	completion, err := r.copilot.provider.Invoke(ctx, messages, r.tools)
	if err != nil {
		return nil, err
	}
	r.sess.Append(session_models.Message{Role: session_models.RoleAssistant, Content: completion.Text})
	return completion, nil
}

// runExtractionRender validates the HTML embedded in the analysis and builds
// the render envelope from the validated artifact, never from the raw text.
func (r *turnRunner) runExtractionRender(task executor.Task, deps map[int]any) (any, error) {
	completion, ok := findCompletion(deps)
	if !ok {
		return nil, fmt.Errorf("%w: render task has no analysis dependency", ErrConfiguration)
	}
	artifact := htmlreport.Extract(completion.Text)
	if completion.TruncatedByLimit {
		artifact = htmlreport.MarkTruncatedByLimit(artifact)
	}
	if r.copilot.telemetry != nil {
		r.copilot.telemetry.RecordExtractionVerdict(string(artifact.Verdict))
	}
	if artifact.Verdict == htmlreport.VerdictAbsent {
		if task.RendererHint != "" {
			// The host asked for a dashboard and the agent produced none.
			return nil, fmt.Errorf("%w: %s", ErrExtractionAbsent, strings.Join(artifact.Notes, "; "))
		}
		return renderOutcome{Artifact: artifact}, nil
	}
	return renderOutcome{
		Artifact: artifact,
		Output: &models.HTMLOutput{
			Content:     artifact.Raw,
			AspectRatio: "16/9",
			Title:       "Dashboard",
			HTMLType:    "dashboard",
		},
	}, nil
}

func (r *turnRunner) runAggregation(deps map[int]any) (any, error) {
	summary := turnSummary{}
	for _, dep := range deps {
		switch v := dep.(type) {
		case models.Completion:
			summary.Markdown = htmlreport.StripBlocks(v.Text)
		case renderOutcome:
			summary.Dashboard = v.Output
			if v.Artifact.Verdict == htmlreport.VerdictTruncated {
				summary.Warning = "dashboard output was truncated and may render incompletely"
			}
		}
	}
	summary.Markdown = substitutePlaceholders(summary.Markdown, deps)
	return summary, nil
}

// substitutePlaceholders expands {{task:N}} references in the aggregated
// markdown with the named task's textual result.
func substitutePlaceholders(markdown string, deps map[int]any) string {
	for id, dep := range deps {
		placeholder := fmt.Sprintf("{{task:%d}}", id)
		if !strings.Contains(markdown, placeholder) {
			continue
		}
		markdown = strings.ReplaceAll(markdown, placeholder, renderDep(dep))
	}
	return markdown
}

func renderDep(dep any) string {
	switch v := dep.(type) {
	case models.Completion:
		return htmlreport.StripBlocks(v.Text)
	case renderOutcome:
		if v.Output != nil {
			return v.Output.Title
		}
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func findCompletion(deps map[int]any) (models.Completion, bool) {
	for _, dep := range deps {
		if completion, ok := dep.(models.Completion); ok {
			return completion, true
		}
	}
	return models.Completion{}, false
}
