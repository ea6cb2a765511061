package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trader-x-ai/internal/api"
	"trader-x-ai/internal/store"
	"trader-x-ai/internal/trace"
	"trader-x-ai/internal/types"
	"trader-x-ai/internal/validator"
)

const (
	DefaultEndpoint = "https://api.anthropic.com"
	apiVersion      = "2023-06-01"
)

type Params struct {
	Config   store.ValidatorConfig
	APIKey   string
	Endpoint string // base URL; proxies can be set via CLAUDE_API_ENDPOINT
}

// Validator asks the Anthropic Messages API to review signals.
type Validator struct {
	cfg    store.ValidatorConfig
	apiKey string
	http   *api.Client
}

func New(p Params) *Validator {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Validator{
		cfg:    p.Config,
		apiKey: p.APIKey,
		http:   api.NewClient(api.WithBaseURL(endpoint), api.WithTimeout(30*time.Second)),
	}
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (v *Validator) Validate(ctx context.Context, pair string, sig types.Signal, a types.Analysis, extra map[string]any) (types.Verdict, error) {
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	if v.apiKey == "" {
		return types.Verdict{}, errors.New("CLAUDE_API_KEY missing")
	}

	prompt, err := validator.Prompt(pair, sig, a, extra)
	if err != nil {
		return types.Verdict{}, err
	}

	body := map[string]any{
		"model":       v.cfg.Model,
		"system":      validator.System(v.cfg.System),
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"max_tokens":  v.cfg.MaxTokens,
		"temperature": v.cfg.Temperature,
	}

	resp, err := v.http.POST(ctx, "/v1/messages", body, map[string]string{
		"x-api-key":         v.apiKey,
		"anthropic-version": apiVersion,
	})
	if err != nil {
		return types.Verdict{}, fmt.Errorf("claude: %w", err)
	}

	var r messagesResponse
	if err := resp.ParseJSON(&r); err != nil {
		// not the messages shape; let the verdict parser search the raw body
		return validator.ParseVerdict(resp.String(), v.cfg.MinConfidence), nil
	}

	var text strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return types.Verdict{Reason: "empty_response"}, nil
	}
	return validator.ParseVerdict(text.String(), v.cfg.MinConfidence), nil
}
