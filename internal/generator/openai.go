package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIDefaultModel     = "gpt-4o-mini"
	openAIDefaultBatchSize = 40
	openAIDefaultTimeout   = 120 * time.Second
)

const systemPrompt = `You are a bibliographic research assistant. You propose
real books published in a given calendar month, as structured JSON. Respond
with a JSON object of the form
{"books": [{"title": "...", "authors": ["..."], "isbn": "978...", "confidence": "high|medium|low"}]}.
Omit the isbn field when you are not certain of the exact identifier; never
invent one. Do not include any text outside the JSON object.`

// OpenAIConfig holds configuration for the OpenAI-backed generator.
type OpenAIConfig struct {
	APIKey      string
	Model       string  // "gpt-4o-mini" (default)
	BatchSize   int     // target books per month (default 40)
	Temperature float64 // 0 disables sampling variation
	Timeout     time.Duration
	BaseURL     string // optional (tests)
	Logger      *slog.Logger
}

// OpenAIGenerator implements Generator using the official OpenAI SDK.
type OpenAIGenerator struct {
	client    openai.Client
	model     string
	batchSize int
	temp      float64
	logger    *slog.Logger
}

// NewOpenAIGenerator creates an OpenAI-backed candidate generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = openAIDefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = openAIDefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		temp:      cfg.Temperature,
		logger:    logger.With("component", "generator"),
	}, nil
}

// Generate asks the model for one month's candidates and validates the
// response. Each call costs exactly one external API call; the caller is
// responsible for reserving quota first.
func (g *OpenAIGenerator) Generate(ctx context.Context, year, month int, promptOverride string) (*Result, error) {
	userPrompt := promptOverride
	if userPrompt == "" {
		userPrompt = fmt.Sprintf(
			"List up to %d notable books first published in %s. Cover fiction and non-fiction across publishers and countries.",
			g.batchSize, monthName(year, month),
		)
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(g.temp),
	})
	if err != nil {
		return nil, fmt.Errorf("candidate generation call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("candidate generation returned no choices")
	}

	resp, err := decodeResponse(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result := buildResult(resp, g.model, g.logger)
	g.logger.Info("candidates generated",
		"period", monthName(year, month),
		"model", g.model,
		"total", len(resp.Books),
		"valid_identifiers", result.Stats.ValidIdentifierCount,
		"invalid_identifiers", result.Stats.InvalidIdentifierCount,
	)
	return result, nil
}
