// Package aifilter implements an advisory entity post-filter backed by an
// OpenAI chat model. The filter never invents data. It only selects which of
// the supplied entities match the caller's instruction, so a failure leaves
// the deterministic entity set untouched.
package aifilter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

const systemPrompt = "You select business records that match a user instruction. " +
	"You receive a JSON array of records, each with an id and a fields object. " +
	"Reply with a JSON array containing only the ids of matching records. " +
	"Reply with [] when nothing matches. Output the JSON array and nothing else."

// Filter asks a chat model which entities match an instruction.
type Filter struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// Option customizes client construction.
type Option func(*options)

type options struct {
	requestOpts []option.RequestOption
}

// WithBaseURL points the client at an alternate API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.requestOpts = append(o.requestOpts, option.WithBaseURL(url))
	}
}

// New builds a Filter for the given API key and model.
func New(apiKey, model string, logger *zap.Logger, opts ...Option) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := options{requestOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, opt := range opts {
		opt(&resolved)
	}
	return &Filter{
		client: openai.NewClient(resolved.requestOpts...),
		model:  model,
		logger: logger,
	}
}

type promptRecord struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Filter returns the subset of entities the model judged to match the
// instruction, preserving input order. Any transport or parse failure is
// returned as an error so the caller can keep the unfiltered set.
func (f *Filter) Filter(ctx context.Context, instruction string, entities []scrape.NormalizedEntity) ([]scrape.NormalizedEntity, error) {
	if strings.TrimSpace(instruction) == "" || len(entities) == 0 {
		return entities, nil
	}

	records := make([]promptRecord, 0, len(entities))
	for _, entity := range entities {
		records = append(records, promptRecord{ID: string(entity.ID), Fields: entity.Fields})
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal entities: %w", err)
	}

	req := openai.ChatCompletionNewParams{
		Model: f.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("Instruction: %s\n\nRecords:\n%s", instruction, payload)),
		},
	}

	resp, err := f.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	keep, err := parseIDList(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	filtered := make([]scrape.NormalizedEntity, 0, len(keep))
	for _, entity := range entities {
		if _, ok := keep[entity.ID]; ok {
			filtered = append(filtered, entity)
		}
	}
	f.logger.Debug("post filter applied",
		zap.Int("input", len(entities)),
		zap.Int("kept", len(filtered)))
	return filtered, nil
}

// parseIDList accepts a bare JSON array of strings, tolerating markdown code
// fences some models wrap around structured output.
func parseIDList(content string) (map[scrape.EntityID]struct{}, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var ids []string
	if err := json.Unmarshal([]byte(trimmed), &ids); err != nil {
		return nil, fmt.Errorf("parse filter response: %w", err)
	}
	keep := make(map[scrape.EntityID]struct{}, len(ids))
	for _, id := range ids {
		keep[scrape.EntityID(id)] = struct{}{}
	}
	return keep, nil
}
