package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ModelOptions)(nil)

// Supported model providers.
const (
	ModelProviderOllama = "ollama"
	ModelProviderOpenAI = "openai"
)

// ModelOptions configures the language model used for recognition,
// clarification questions and chat replies.
type ModelOptions struct {
	// Provider selects the API flavour: ollama or openai (any compatible server).
	Provider string `json:"provider" mapstructure:"provider"`
	BaseURL  string `json:"base-url" mapstructure:"base-url"`
	Model    string `json:"name" mapstructure:"name"`
	APIKey   string `json:"api-key" mapstructure:"api-key"`

	// Timeout bounds one model round trip. Cold starts of local models can
	// take minutes.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// AnalyzeIntent runs a cheaper intent pass before recognition so small
	// talk gets a chat reply instead of a device lookup.
	AnalyzeIntent bool `json:"analyze-intent" mapstructure:"analyze-intent"`
}

// NewModelOptions creates a ModelOptions with defaults for a local Ollama.
func NewModelOptions() *ModelOptions {
	return &ModelOptions{
		Provider: ModelProviderOllama,
		BaseURL:  "http://127.0.0.1:11434",
		Model:    "qwen2.5:7b",
		Timeout:  180 * time.Second,
	}
}

// Validate checks the provider, URL and timeout.
func (o *ModelOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	switch o.Provider {
	case ModelProviderOllama, ModelProviderOpenAI:
	default:
		errors = append(errors, fmt.Errorf("--model.provider must be %s or %s, got %q", ModelProviderOllama, ModelProviderOpenAI, o.Provider))
	}
	if o.BaseURL != "" {
		if u, err := url.Parse(o.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Errorf("--model.base-url %q is not an absolute URL", o.BaseURL))
		}
	}
	if o.Model == "" {
		errors = append(errors, fmt.Errorf("--model.name must not be empty"))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--model.timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for ModelOptions to the specified FlagSet.
func (o *ModelOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Provider, "model.provider", o.Provider, "Model API flavour: ollama or openai.")
	fs.StringVar(&o.BaseURL, "model.base-url", o.BaseURL, "Base URL of the model server.")
	fs.StringVar(&o.Model, "model.name", o.Model, "Model name.")
	fs.StringVar(&o.APIKey, "model.api-key", o.APIKey, "API key for the openai provider.")
	fs.DurationVar(&o.Timeout, "model.timeout", o.Timeout, "Timeout of one model request.")
	fs.BoolVar(&o.AnalyzeIntent, "model.analyze-intent", o.AnalyzeIntent, "Classify each message as command or chat before recognition.")
}
