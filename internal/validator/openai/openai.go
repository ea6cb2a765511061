package openai

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

const DefaultEndpoint = "https://api.openai.com"

type Params struct {
	Config   store.ValidatorConfig
	APIKey   string
	Endpoint string // base URL, DefaultEndpoint when empty
}

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

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (v *Validator) Validate(ctx context.Context, pair string, sig types.Signal, a types.Analysis, extra map[string]any) (types.Verdict, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	if v.apiKey == "" {
		return types.Verdict{}, errors.New("OPENAI_API_KEY missing")
	}

	prompt, err := validator.Prompt(pair, sig, a, extra)
	if err != nil {
		return types.Verdict{}, err
	}

	body := map[string]any{
		"model": v.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": validator.System(v.cfg.System)},
			{"role": "user", "content": prompt},
		},
		"temperature": v.cfg.Temperature,
		"max_tokens":  v.cfg.MaxTokens,
	}

	resp, err := v.http.POST(ctx, "/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + v.apiKey,
	})
	if err != nil {
		return types.Verdict{}, fmt.Errorf("openai: %w", err)
	}

	var r chatResponse
	if err := resp.ParseJSON(&r); err != nil {
		return types.Verdict{}, fmt.Errorf("openai: %w", err)
	}
	if len(r.Choices) == 0 {
		return types.Verdict{}, errors.New("openai: no choices")
	}

	return validator.ParseVerdict(strings.TrimSpace(r.Choices[0].Message.Content), v.cfg.MinConfidence), nil
}
