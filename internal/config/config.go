// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultOpenAIMaxRetries = 2
	DefaultAzureModel       = "gpt-35-turbo"
	DefaultAzureMaxRetries  = 10
	DefaultRetryInterval    = 60 * time.Second
	DefaultPollInterval     = 30 * time.Second
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
	MaxRetries   *int   `yaml:"max_retries"` // nil = 2, 0 disables client retries
}

// AzureConfig holds the routing settings of an Azure-hosted deployment.
type AzureConfig struct {
	APIBase     string   `yaml:"api_base"`    // https://YOUR_RESOURCE_NAME.openai.azure.com/
	APIVersion  string   `yaml:"api_version"` // e.g. 2023-05-15
	APIKey      string   `yaml:"api_key"`
	APIType     string   `yaml:"api_type"` // azure | azure_ad | azuread
	Engine      string   `yaml:"engine"`   // deployment name
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int64   `yaml:"max_tokens"`
	MaxRetries  *int     `yaml:"max_retries"` // nil = 10, 0 disables client retries
}

type RetryConfig struct {
	MaxAttempts uint64        `yaml:"max_attempts"` // 0 = retry until the file is ready
	Interval    time.Duration `yaml:"interval"`
	Backoff     string        `yaml:"backoff"` // constant | exponential
	MaxInterval time.Duration `yaml:"max_interval"`
}

type FinetuneConfig struct {
	BaseModel    string        `yaml:"base_model"`
	DataPath     string        `yaml:"data_path"`
	Verbose      bool          `yaml:"verbose"`
	StartJobID   string        `yaml:"start_job_id"`
	Suffix       string        `yaml:"suffix"`
	Retry        RetryConfig   `yaml:"retry"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the metrics server
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Azure    AzureConfig    `yaml:"azure"`
	Finetune FinetuneConfig `yaml:"finetune"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path and applies defaults.
// A missing file yields a default config so that flags and environment
// variables alone can drive the CLI.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// Parse decodes YAML bytes and applies defaults.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}
	if c.OpenAI.MaxRetries == nil {
		n := DefaultOpenAIMaxRetries
		c.OpenAI.MaxRetries = &n
	}
	if c.Azure.Model == "" {
		c.Azure.Model = DefaultAzureModel
	}
	if c.Azure.MaxRetries == nil {
		n := DefaultAzureMaxRetries
		c.Azure.MaxRetries = &n
	}
	if c.Azure.Temperature == nil {
		t := 0.1
		c.Azure.Temperature = &t
	}
	if c.Finetune.Retry.Interval <= 0 {
		c.Finetune.Retry.Interval = DefaultRetryInterval
	}
	if c.Finetune.Retry.Backoff == "" {
		c.Finetune.Retry.Backoff = "constant"
	}
	if c.Finetune.PollInterval <= 0 {
		c.Finetune.PollInterval = DefaultPollInterval
	}
}

// ApplyEnv fills empty credentials from the given lookup (normally os.LookupEnv).
// Only the CLI calls this; library code receives the resolved values.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.OpenAI.Organization, "OPENAI_ORG_ID")
	set(&c.Azure.APIBase, "AZURE_OPENAI_ENDPOINT")
	set(&c.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	set(&c.Azure.APIVersion, "OPENAI_API_VERSION")
	set(&c.Azure.APIType, "OPENAI_API_TYPE")
	set(&c.Azure.Engine, "AZURE_OPENAI_DEPLOYMENT")
}

// ValidateFinetune checks the settings needed to launch or observe a job.
func (c *Config) ValidateFinetune() error {
	if c.OpenAI.APIKey == "" {
		return errors.New("openai.api_key is required")
	}
	switch strings.ToLower(c.Finetune.Retry.Backoff) {
	case "constant", "exponential":
	default:
		return fmt.Errorf("finetune.retry.backoff %q is not one of constant|exponential", c.Finetune.Retry.Backoff)
	}
	// a resumed job needs neither a dataset nor a base model
	if c.Finetune.StartJobID != "" {
		return nil
	}
	if c.Finetune.BaseModel == "" {
		return errors.New("finetune.base_model is required")
	}
	if c.Finetune.DataPath == "" {
		return errors.New("finetune.data_path is required")
	}
	return nil
}
