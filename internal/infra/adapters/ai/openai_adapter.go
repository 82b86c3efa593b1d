package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"llm-finetune/internal/config"
	"llm-finetune/internal/domain"
	"llm-finetune/internal/domain/ports/adapter"
	"llm-finetune/internal/infra/logging"
	"llm-finetune/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var (
	_ adapter.ChatModel        = (*OpenAIChat)(nil)
	_ adapter.ChatModelFactory = (*OpenAIFactory)(nil)
)

const providerOpenAI = "openai"

// OpenAIChat implements adapter.ChatModel using the Chat Completions API.
type OpenAIChat struct {
	client   openai.Client
	provider string
	name     string // reported by Model()
	target   string // sent as the request model
	opts     adapter.ChatOptions
	log      *zerolog.Logger
}

// OpenAIFactory builds OpenAIChat handles that share one set of client options.
type OpenAIFactory struct {
	base []option.RequestOption
	log  *zerolog.Logger
}

// NewOpenAIFactory keeps the API key, base URL and organization for every handle.
func NewOpenAIFactory(cfg config.OpenAIConfig, logger *zerolog.Logger, extra ...option.RequestOption) (*OpenAIFactory, error) {
	if cfg.APIKey == "" {
		return nil, &domain.ConfigError{Setting: "openai.api_key", Reason: "must be set"}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.MaxRetries != nil {
		o, err := retriesOption("openai.max_retries", *cfg.MaxRetries)
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	opts = append(opts, extra...)
	return &OpenAIFactory{base: opts, log: logging.Component(logger, "OpenAIChat")}, nil
}

// NewChatModel does not check that modelID exists.
func (f *OpenAIFactory) NewChatModel(modelID string, opts adapter.ChatOptions) (adapter.ChatModel, error) {
	if modelID == "" {
		return nil, fmt.Errorf("%w: model id is empty", domain.ErrInvalidArgument)
	}
	reqOpts := append([]option.RequestOption(nil), f.base...)
	if opts.MaxRetries != nil {
		o, err := retriesOption("max_retries", *opts.MaxRetries)
		if err != nil {
			return nil, err
		}
		reqOpts = append(reqOpts, o)
	}
	return newChat(openai.NewClient(reqOpts...), providerOpenAI, modelID, modelID, opts, f.log), nil
}

// retriesOption rejects negative counts, which the client would panic on.
func retriesOption(setting string, n int) (option.RequestOption, error) {
	if n < 0 {
		return nil, &domain.ConfigError{Setting: setting, Reason: fmt.Sprintf("must be >= 0, got %d", n)}
	}
	return option.WithMaxRetries(n), nil
}

func newChat(client openai.Client, provider, name, target string, opts adapter.ChatOptions, log *zerolog.Logger) *OpenAIChat {
	return &OpenAIChat{client: client, provider: provider, name: name, target: target, opts: opts, log: log}
}

func (c *OpenAIChat) Model() string { return c.name }

func (c *OpenAIChat) Chat(ctx context.Context, messages []adapter.Message) (string, error) {
	s, _, err := c.ChatWithUsage(ctx, messages)
	return s, err
}

func (c *OpenAIChat) ChatWithUsage(ctx context.Context, messages []adapter.Message) (string, adapter.Usage, error) {
	msgs, err := toOpenAIMessages(messages)
	if err != nil {
		return "", adapter.Usage{}, err
	}
	params := openai.ChatCompletionNewParams{Model: c.target, Messages: msgs}
	if c.opts.Temperature != nil {
		params.Temperature = openai.Float(*c.opts.Temperature)
	}
	if c.opts.MaxTokens != nil {
		params.MaxTokens = openai.Int(*c.opts.MaxTokens)
	}
	var reqOpts []option.RequestOption
	for k, v := range c.opts.Extra {
		reqOpts = append(reqOpts, option.WithJSONSet(k, v))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params, reqOpts...)
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveChatUsage(c.provider, c.name, 0, 0, latency, false)
		c.log.Debug().Err(err).Str("model", c.name).Msg("chat completion failed")
		return "", adapter.Usage{}, fmt.Errorf("%s chat: %w", c.provider, err)
	}

	usage := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	metrics.ObserveChatUsage(c.provider, c.name, usage.PromptTokens, usage.CompletionTokens, latency, true)

	for _, ch := range resp.Choices {
		if ch.Message.Content != "" {
			return ch.Message.Content, usage, nil
		}
	}
	return "", usage, errors.New("no choice content")
}

func toOpenAIMessages(in []adapter.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(in))
	for _, m := range in {
		var p openai.ChatCompletionMessageParamUnion
		switch m.Role {
		case "system":
			p = openai.SystemMessage(m.Content)
			if m.Name != "" {
				p.OfSystem.Name = openai.String(m.Name)
			}
		case "user":
			p = openai.UserMessage(m.Content)
			if m.Name != "" {
				p.OfUser.Name = openai.String(m.Name)
			}
		case "assistant":
			p = openai.AssistantMessage(m.Content)
			if m.Name != "" {
				p.OfAssistant.Name = openai.String(m.Name)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported message role %q", domain.ErrInvalidArgument, m.Role)
		}
		out = append(out, p)
	}
	return out, nil
}
