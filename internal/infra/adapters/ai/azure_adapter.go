package ai

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"llm-finetune/internal/config"
	"llm-finetune/internal/domain"
	"llm-finetune/internal/domain/ports/adapter"
	"llm-finetune/internal/infra/logging"
)

var _ adapter.ChatModel = (*AzureChat)(nil)

const (
	providerAzure = "azure"

	APITypeAzure   = "azure"
	APITypeAzureAD = "azure_ad"
	// accepted spelling of azure_ad
	APITypeAzureADAlt = "azuread"
)

// AzureChat is a chat client routed to a named Azure deployment. Requests
// carry the deployment in place of the model name.
type AzureChat struct {
	*OpenAIChat
	engine string
}

// NewAzureChat validates cfg before any network access. cred is used for the
// AD api types; nil falls back to the default Azure credential chain.
func NewAzureChat(cfg config.AzureConfig, opts adapter.ChatOptions, cred azcore.TokenCredential, logger *zerolog.Logger, extra ...option.RequestOption) (*AzureChat, error) {
	if err := ValidateAzureConfig(cfg); err != nil {
		return nil, err
	}

	apiType := strings.ToLower(cfg.APIType)
	reqOpts := []option.RequestOption{azure.WithEndpoint(cfg.APIBase, cfg.APIVersion)}
	if apiType == APITypeAzure {
		reqOpts = append(reqOpts, azure.WithAPIKey(cfg.APIKey))
	} else {
		if cred == nil {
			c, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("azure credential: %w", err)
			}
			cred = c
		}
		reqOpts = append(reqOpts, azure.WithTokenCredential(cred))
	}

	// an explicit 0 turns client retries off
	retries := config.DefaultAzureMaxRetries
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	if opts.MaxRetries != nil {
		retries = *opts.MaxRetries
	}
	retryOpt, err := retriesOption("max_retries", retries)
	if err != nil {
		return nil, err
	}
	reqOpts = append(reqOpts, retryOpt)
	reqOpts = append(reqOpts, extra...)

	if opts.Temperature == nil {
		opts.Temperature = cfg.Temperature
	}
	if opts.Temperature == nil {
		t := 0.1
		opts.Temperature = &t
	}
	if opts.MaxTokens == nil {
		opts.MaxTokens = cfg.MaxTokens
	}

	name := cfg.Model
	if name == "" {
		name = config.DefaultAzureModel
	}
	log := logging.Component(logger, "AzureChat")
	log.Debug().Str("engine", cfg.Engine).Str("api_base", cfg.APIBase).Str("api_type", apiType).Msg("azure chat configured")

	return &AzureChat{
		OpenAIChat: newChat(openai.NewClient(reqOpts...), providerAzure, name, cfg.Engine, opts, log),
		engine:     cfg.Engine,
	}, nil
}

// Engine is the deployment the requests are routed to.
func (a *AzureChat) Engine() string { return a.engine }

// ValidateAzureConfig reports the first setting that prevents routing.
func ValidateAzureConfig(cfg config.AzureConfig) error {
	if cfg.Engine == "" {
		return &domain.ConfigError{Setting: "engine", Reason: "You must specify an `engine` parameter."}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" || base == strings.TrimRight(config.DefaultOpenAIBaseURL, "/") {
		return &domain.ConfigError{
			Setting: "api_base",
			Reason:  "you must specify your Azure endpoint, e.g. https://YOUR_RESOURCE_NAME.openai.azure.com/",
		}
	}
	switch strings.ToLower(cfg.APIType) {
	case APITypeAzure:
		if cfg.APIKey == "" {
			return &domain.ConfigError{Setting: "api_key", Reason: "must be set when api_type is azure"}
		}
	case APITypeAzureAD, APITypeAzureADAlt:
	default:
		return &domain.ConfigError{
			Setting: "api_type",
			Reason:  fmt.Sprintf("%q is not one of azure, azure_ad, azuread", cfg.APIType),
		}
	}
	if cfg.APIVersion == "" {
		return &domain.ConfigError{Setting: "api_version", Reason: "you must specify an api_version for the Azure deployment"}
	}
	return nil
}
