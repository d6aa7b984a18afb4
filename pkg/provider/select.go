package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
)

// Backend names.
const (
	OpenAI      = "openai"
	HuggingFace = "huggingface"
)

// Config selects and configures the upstream backends.
type Config struct {
	// Preferred is tried first; the other backend is the fallback.
	Preferred   string            `yaml:"preferred"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// HuggingFaceConfig configures the Hugging Face inference backend.
type HuggingFaceConfig struct {
	APIKey   string        `yaml:"api_key"`
	ModelURL string        `yaml:"model_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Resolve returns backend names in the order they should be tried.
func Resolve(cfg Config) ([]string, error) {
	switch strings.ToLower(cfg.Preferred) {
	case OpenAI, "":
		return []string{OpenAI, HuggingFace}, nil
	case HuggingFace:
		return []string{HuggingFace, OpenAI}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Preferred)
	}
}

// Select builds the first backend in Resolve order whose credential is set.
// It fails with a configuration error when neither credential is present.
func Select(cfg Config, client *http.Client, log logrus.FieldLogger) (Backend, error) {
	order, err := Resolve(cfg)
	if err != nil {
		return nil, apperr.Configuration(err.Error())
	}
	for i, name := range order {
		var b Backend
		switch name {
		case OpenAI:
			if cfg.OpenAI.APIKey != "" {
				b = NewOpenAI(cfg.OpenAI, client)
			}
		case HuggingFace:
			if cfg.HuggingFace.APIKey != "" {
				b = NewHuggingFace(cfg.HuggingFace, client)
			}
		}
		if b == nil {
			continue
		}
		if i > 0 {
			log.WithFields(logrus.Fields{
				"preferred": order[0],
				"using":     name,
			}).Warn("preferred provider has no API key, falling back")
		}
		return b, nil
	}
	return nil, apperr.Configuration("no API keys found, set OPENAI_API_KEY or HUGGINGFACE_API_KEY")
}
