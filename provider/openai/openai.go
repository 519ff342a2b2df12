package openai

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
	defaultAPIURL = "https://api.openai.com/v1/chat/completions"
	maxToolRounds = 16
)

// Client implements the provider boundary against the OpenAI chat completions
// API. OpenAI caches long prompt prefixes automatically, so the cache-control
// marker only matters for keeping the system message byte-stable.
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
		url = strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
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
		logger:     log.New(log.Writer(), "[OPENAI] ", log.LstdFlags),
	}
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type request struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []toolDef     `json:"tools,omitempty"`
}

type response struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Invoke runs the agent loop against chat completions, executing requested
// tool calls until the model produces a final answer or hits its budget.
func (c *Client) Invoke(ctx context.Context, history []session_models.Message, tools models.ToolContext) (models.Completion, error) {
	conv := make([]chatMessage, 0, len(history))
	for _, m := range history {
		conv = append(conv, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	var text strings.Builder
	var inTokens, outTokens int64
	truncated := false

	for round := 0; round < maxToolRounds; round++ {
		resp, err := c.call(ctx, request{
			Model:       c.model.APIName,
			Messages:    conv,
			Temperature: c.model.Temperature,
			MaxTokens:   c.model.MaxTokens,
			Tools:       toolDefs(tools.Tools),
		})
		if err != nil {
			return models.Completion{}, err
		}
		inTokens += resp.Usage.PromptTokens
		outTokens += resp.Usage.CompletionTokens
		if len(resp.Choices) == 0 {
			return models.Completion{}, fmt.Errorf("empty choices in response")
		}
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			text.WriteString(choice.Message.Content)
		}

		if choice.FinishReason != "tool_calls" {
			truncated = choice.FinishReason == "length"
			break
		}

		conv = append(conv, choice.Message)
		for _, tc := range choice.Message.ToolCalls {
			c.logger.Printf("tool call %s", tc.Function.Name)
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out, err := tools.CallTool(ctx, tc.Function.Name, args)
			if err != nil {
				out = map[string]any{"error": err.Error()}
			}
			payload, _ := json.Marshal(out)
			conv = append(conv, chatMessage{Role: "tool", Content: string(payload), ToolCallID: tc.ID})
		}
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
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

func toolDefs(tools []mcp.Tool) []toolDef {
	out := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDef{Type: "function", Function: functionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		}})
	}
	return out
}
