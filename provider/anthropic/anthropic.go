package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/internal/mcp"
	"github.com/mohammad-safakhou/glance/internal/telemetry"
	"github.com/mohammad-safakhou/glance/models"
	"github.com/mohammad-safakhou/glance/session/session_models"
)

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"

	// maxToolRounds bounds the tool-use loop so a misbehaving model cannot
	// keep the worker suspended indefinitely.
	maxToolRounds = 16
)

// Client implements the provider boundary against the Anthropic messages API.
// The session's cache-marked system message is sent as a system block with
// cache_control, so repeated turns hit the provider's prompt cache instead of
// re-billing the full prefix.
type Client struct {
	apiKey     string
	apiURL     string
	model      config.LLMModel
	httpClient *http.Client
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

func NewClient(apiKey, baseURL string, model config.LLMModel, timeout time.Duration, tele *telemetry.Telemetry) *Client {
	url := defaultAPIURL
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/v1/messages"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		apiURL:     url,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		telemetry:  tele,
		logger:     log.New(log.Writer(), "[ANTHROPIC] ", log.LstdFlags),
	}
}

type cacheControl struct {
	Type string `json:"type"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type request struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      []systemBlock `json:"system,omitempty"`
	Messages    []message     `json:"messages"`
	Tools       []toolDef     `json:"tools,omitempty"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type response struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke runs the agent loop: send the history plus tool schemas, execute any
// tool calls the model requests, and return the final text. TruncatedByLimit
// reflects the API's stop_reason, which the extractor treats as authoritative.
func (c *Client) Invoke(ctx context.Context, history []session_models.Message, tools models.ToolContext) (models.Completion, error) {
	system, conv := convert(history)

	var text strings.Builder
	var inTokens, outTokens int64
	truncated := false

	for round := 0; round < maxToolRounds; round++ {
		resp, err := c.call(ctx, request{
			Model:       c.model.APIName,
			MaxTokens:   c.model.MaxTokens,
			Temperature: c.model.Temperature,
			System:      system,
			Messages:    conv,
			Tools:       toolDefs(tools.Tools),
		})
		if err != nil {
			return models.Completion{}, err
		}
		inTokens += resp.Usage.InputTokens
		outTokens += resp.Usage.OutputTokens

		for _, block := range resp.Content {
			if block.Type == "text" && block.Text != "" {
				text.WriteString(block.Text)
			}
		}

		if resp.StopReason != "tool_use" {
			truncated = resp.StopReason == "max_tokens"
			break
		}

		// Echo the assistant blocks back, then answer each tool_use with a
		// tool_result so the model can continue.
		conv = append(conv, message{Role: "assistant", Content: resp.Content})
		var results []map[string]any
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			c.logger.Printf("tool call %s", block.Name)
			out, err := tools.CallTool(ctx, block.Name, block.Input)
			if err != nil {
				out = map[string]any{"error": err.Error()}
			}
			payload, _ := json.Marshal(out)
			results = append(results, map[string]any{
				"type":        "tool_result",
				"tool_use_id": block.ID,
				"content":     string(payload),
			})
		}
		if len(results) == 0 {
			break
		}
		conv = append(conv, message{Role: "user", Content: results})
	}

	tokens := inTokens + outTokens
	cost := float64(inTokens)/1000*c.model.CostPer1K + float64(outTokens)/1000*c.model.CostPer1KOutput
	if c.telemetry != nil {
		c.telemetry.RecordCompletion(c.model.APIName, tokens, cost)
	}

	return models.Completion{
		Text:             strings.TrimSpace(text.String()),
		TruncatedByLimit: truncated,
		TokensUsed:       tokens,
		ModelUsed:        c.model.APIName,
		Cost:             cost,
	}, nil
}

func (c *Client) call(ctx context.Context, reqBody request) (*response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

// convert splits session history into system blocks and conversation turns.
// Exactly the cache-marked system message carries cache_control.
func convert(history []session_models.Message) ([]systemBlock, []message) {
	var system []systemBlock
	var conv []message
	for _, m := range history {
		switch m.Role {
		case session_models.RoleSystem:
			block := systemBlock{Type: "text", Text: m.Content}
			if m.CacheControl {
				block.CacheControl = &cacheControl{Type: "ephemeral"}
			}
			system = append(system, block)
		default:
			conv = append(conv, message{Role: string(m.Role), Content: m.Content})
		}
	}
	return system, conv
}

func toolDefs(tools []mcp.Tool) []toolDef {
	out := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDef{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}
