// Package validator holds what the signal validators share: the prompt
// sent to a model and the parsing of its verdict.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"trader-x-ai/internal/analysis"
	"trader-x-ai/internal/types"
)

const (
	ProviderNoop   = "NOOP"
	ProviderOpenAI = "OPENAI"
	ProviderClaude = "CLAUDE"

	DefaultSystem = "You review trading signals for a crypto bot. Approve only when the indicators support the signal. Output STRICT JSON."

	schema = `{"approve":bool,"confidence":number 0..1,"reason":string}`
)

// Prompt renders the user message for a signal review.
func Prompt(pair string, sig types.Signal, a types.Analysis, extra map[string]any) (string, error) {
	state := map[string]any{
		"features": analysis.PrepareFeatures(pair, sig, a),
	}
	if len(extra) > 0 {
		state["context"] = extra
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal validator state: %w", err)
	}
	return fmt.Sprintf("Schema:%s\nState:%s\n\nRespond ONLY with compact JSON matching the schema.", schema, b), nil
}

type rawVerdict struct {
	Approve    bool    `json:"approve"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ParseVerdict extracts the first JSON object from text. Unparseable output
// or a confidence below minConfidence is a rejection, never an error.
func ParseVerdict(text string, minConfidence float64) types.Verdict {
	t := strings.TrimSpace(text)
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start < 0 || end <= start {
		return types.Verdict{Reason: "invalid_json"}
	}

	var rv rawVerdict
	if err := json.Unmarshal([]byte(t[start:end+1]), &rv); err != nil {
		return types.Verdict{Reason: "invalid_json"}
	}
	if rv.Confidence < 0 || rv.Confidence > 1 {
		rv.Confidence = 0
	}

	v := types.Verdict{Approved: rv.Approve, Confidence: rv.Confidence, Reason: rv.Reason}
	if v.Approved && v.Confidence < minConfidence {
		v.Approved = false
		v.Reason = fmt.Sprintf("confidence %.2f below %.2f: %s", v.Confidence, minConfidence, v.Reason)
	}
	return v
}

// System returns the configured system prompt or the default.
func System(configured string) string {
	if strings.TrimSpace(configured) == "" {
		return DefaultSystem
	}
	return configured
}
