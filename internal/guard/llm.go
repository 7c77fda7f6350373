package guard

import (
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"
)

//go:embed guard.yaml
var defaultSpecYAML []byte

// PromptSpec is the YAML prompt definition for the LLM classifier.
type PromptSpec struct {
	System string `yaml:"system"`
	Style  struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"style"`
	Refusal string `yaml:"refusal"`
}

type Classification struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Classifier struct {
	spec   PromptSpec
	client *openai.Client
	model  string
}

// LoadPromptSpec reads a prompt spec file. An empty path returns the built-in
// spec.
func LoadPromptSpec(path string) (PromptSpec, error) {
	b := defaultSpecYAML
	if path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return PromptSpec{}, errors.Wrap(err, "read guard prompt")
		}
	}
	var spec PromptSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return PromptSpec{}, errors.Wrap(err, "parse guard prompt")
	}
	return spec, nil
}

func NewClassifier(spec PromptSpec, client *openai.Client, model string) *Classifier {
	return &Classifier{spec: spec, client: client, model: model}
}

// Classify asks the model whether message is on topic.
func (c *Classifier) Classify(ctx context.Context, message string) (*Classification, error) {
	maxTok := c.spec.Style.MaxTokens
	if maxTok <= 0 {
		maxTok = 60
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.spec.Style.Temperature,
		MaxTokens:   maxTok,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.spec.System},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "classify message")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("classify message: no choices")
	}
	return parseClassification(resp.Choices[0].Message.Content)
}

// parseClassification decodes the model output, tolerating prose around the
// JSON object.
func parseClassification(raw string) (*Classification, error) {
	var out Classification
	err := json.Unmarshal([]byte(raw), &out)
	if err == nil {
		return &out, nil
	}
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first < 0 || last <= first {
		return nil, errors.Wrap(err, "decode classification")
	}
	if err := json.Unmarshal([]byte(raw[first:last+1]), &out); err != nil {
		return nil, errors.Wrap(err, "decode classification")
	}
	return &out, nil
}
