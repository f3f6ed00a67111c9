// Package narrative turns computed prediction and training facts into short
// plain-language summaries via an OpenAI-compatible chat endpoint (a local
// Ollama server by default). The model receives only values already
// computed upstream and its output is structurally validated; any failure
// falls back to a deterministic template with the same fields.
package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/YuminosukeSato/churnkit/config"
	"github.com/YuminosukeSato/churnkit/insight"
	"github.com/YuminosukeSato/churnkit/predict"
)

const requestTimeout = 20 * time.Second

const systemPrompt = `You write short customer-churn summaries for business users.
You are given computed facts about one prediction. Restate them in plain language.
Never invent numbers, features or facts that are not in the input.
Respond with a JSON object: {"summary": string, "confidence_note": string}.`

// Narrator generates prediction explanations and training summaries. It
// implements predict.Narrator and insight.Narrator.
type Narrator struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// New builds a narrator from the LLM configuration, or nil when the
// collaborator is disabled.
func New(cfg config.Config, logger zerolog.Logger) *Narrator {
	if !cfg.LLMEnabled {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	clientCfg.BaseURL = cfg.LLMBaseURL
	return &Narrator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.LLMModel,
		log:    logger,
	}
}

type llmOutput struct {
	Summary        string `json:"summary"`
	ConfidenceNote string `json:"confidence_note"`
}

// Narrate produces a summary and confidence note for the given facts. It
// never returns an error: a failed or malformed LLM response degrades to
// the deterministic template.
func (n *Narrator) Narrate(ctx context.Context, facts predict.Facts) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       n.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: factsPrompt(facts)},
		},
	})
	if err != nil {
		n.log.Warn().Err(err).Msg("narrative generation failed, using template")
		return predict.TemplateSummary(facts), ""
	}
	if len(resp.Choices) == 0 {
		n.log.Warn().Msg("narrative response had no choices, using template")
		return predict.TemplateSummary(facts), ""
	}

	out, ok := parseOutput(resp.Choices[0].Message.Content)
	if !ok {
		n.log.Warn().Msg("narrative response failed validation, using template")
		return predict.TemplateSummary(facts), ""
	}
	return out.Summary, out.ConfidenceNote
}

const trainingSystemPrompt = `You write short training-run summaries for business users.
You are given computed facts about one trained churn model. Restate them in plain language.
Never invent numbers, features or facts that are not in the input.
Respond with a JSON object: {"summary": string, "metrics_summary": string}.`

type trainingOutput struct {
	Summary        string `json:"summary"`
	MetricsSummary string `json:"metrics_summary"`
}

// SummarizeTraining produces a run summary and metrics recap for the given
// training facts. Like Narrate it never errors: any failure degrades to the
// deterministic template with used=false.
func (n *Narrator) SummarizeTraining(ctx context.Context, facts insight.Facts) (string, string, bool) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	fallback := func() (string, string, bool) {
		summary, metricsSummary := insight.TemplateTrainingSummary(facts)
		return summary, metricsSummary, false
	}

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       n.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: trainingSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: trainingFactsPrompt(facts)},
		},
	})
	if err != nil {
		n.log.Warn().Err(err).Msg("training summary generation failed, using template")
		return fallback()
	}
	if len(resp.Choices) == 0 {
		n.log.Warn().Msg("training summary response had no choices, using template")
		return fallback()
	}

	out, ok := parseTrainingOutput(resp.Choices[0].Message.Content)
	if !ok {
		n.log.Warn().Msg("training summary response failed validation, using template")
		return fallback()
	}
	return out.Summary, out.MetricsSummary, true
}

// parseOutput extracts and validates the JSON object from a model reply,
// tolerating surrounding prose or code fences.
func parseOutput(content string) (llmOutput, bool) {
	var out llmOutput
	raw, ok := extractJSON(content)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	if strings.TrimSpace(out.Summary) == "" {
		return out, false
	}
	return out, true
}

func parseTrainingOutput(content string) (trainingOutput, bool) {
	var out trainingOutput
	raw, ok := extractJSON(content)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	if strings.TrimSpace(out.Summary) == "" || strings.TrimSpace(out.MetricsSummary) == "" {
		return out, false
	}
	return out, true
}

// extractJSON finds the outermost JSON object in a model reply.
func extractJSON(content string) ([]byte, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(content[start : end+1]), true
}

func factsPrompt(facts predict.Facts) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Churn probability: %.1f%%\n", facts.Probability*100)
	fmt.Fprintf(&sb, "Risk level: %s\n", facts.RiskLevel)
	if len(facts.KeyFactors) > 0 {
		sb.WriteString("Key factors (most influential first):\n")
		for _, f := range facts.KeyFactors {
			direction := "lowers risk"
			if f.Direction == predict.DirectionIncreases {
				direction = "raises risk"
			}
			fmt.Fprintf(&sb, "- %s (%s, contribution %+.4f)\n", f.Feature, direction, f.Contribution)
		}
	}
	return sb.String()
}

func trainingFactsPrompt(facts insight.Facts) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %s\n", facts.ModelName)
	fmt.Fprintf(&sb, "Target column: %s\n", facts.Target)
	fmt.Fprintf(&sb, "Metrics: accuracy=%.3f precision=%.3f recall=%.3f f1=%.3f\n",
		facts.Metrics.Accuracy, facts.Metrics.Precision, facts.Metrics.Recall, facts.Metrics.F1)
	if len(facts.TopFeatures) > 0 {
		sb.WriteString("Top features by importance:\n")
		for _, f := range facts.TopFeatures {
			fmt.Fprintf(&sb, "- %s (%.4f)\n", f.Feature, f.Importance)
		}
	}
	if len(facts.Risks) > 0 {
		sb.WriteString("Risks:\n")
		for _, r := range facts.Risks {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	return sb.String()
}
