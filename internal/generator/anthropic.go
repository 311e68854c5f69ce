// Package generator writes work item content with the Anthropic Messages API.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"build-orchestrator/internal/entity"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultMaxTokens = 8192
	apiVersion       = "2023-06-01"
)

type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	// HTTPClient defaults to a client with a 5 minute timeout. The caller's
	// context deadline usually ends a call first.
	HTTPClient *http.Client
}

type Anthropic struct {
	cfg Config
}

func NewAnthropic(cfg Config) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Anthropic{cfg: cfg}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type messageResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const systemPrompt = `You write one file of a code change at a time.
Reply with the complete file content only: no commentary and no surrounding prose.`

// Generate asks the model for the full content of item. On an empty reply the
// returned Generation still carries the billed usage.
func (a *Anthropic) Generate(ctx context.Context, item entity.WorkItem, spec entity.SpecContext) (entity.Generation, error) {
	req := messageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: prompt(item, spec)}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return entity.Generation{}, fmt.Errorf("generator: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return entity.Generation{}, fmt.Errorf("generator: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return entity.Generation{}, fmt.Errorf("generator: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entity.Generation{}, readError(resp)
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return entity.Generation{}, fmt.Errorf("generator: decoding response: %w", err)
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	gen := entity.Generation{
		Content:   stripFence(b.String()),
		TokensIn:  out.Usage.InputTokens,
		TokensOut: out.Usage.OutputTokens,
	}
	if strings.TrimSpace(gen.Content) == "" {
		return gen, fmt.Errorf("generator: empty reply for %s (stop_reason=%s)", item.Path, out.StopReason)
	}
	return gen, nil
}

func prompt(item entity.WorkItem, spec entity.SpecContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s/%s, branch %s\n", spec.Repo.Owner, spec.Repo.Name, spec.Branch)
	fmt.Fprintf(&b, "Change: %s\n", spec.Title)
	if spec.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", spec.Summary)
	}
	b.WriteString("\n<spec>\n")
	b.WriteString(spec.SpecMarkdown)
	b.WriteString("\n</spec>\n\n")
	fmt.Fprintf(&b, "Write the file %s.\n", item.Path)
	if item.Description != "" {
		fmt.Fprintf(&b, "It should: %s\n", item.Description)
	}
	if item.Content != "" {
		b.WriteString("\nStarting point:\n")
		b.WriteString(item.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// stripFence removes one code fence wrapping the whole reply.
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return s
	}
	inner := strings.TrimSuffix(trimmed, "```")
	nl := strings.IndexByte(inner, '\n')
	if nl < 0 {
		return s
	}
	return inner[nl+1:]
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire apiError
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		return fmt.Errorf("generator: HTTP %d: %s: %s", resp.StatusCode, wire.Error.Type, wire.Error.Message)
	}
	return fmt.Errorf("generator: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
