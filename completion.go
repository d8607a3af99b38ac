package keycluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

// Completion is the text a model returned and the tokens the call used.
type Completion struct {
	Content     string
	TotalTokens int
}

// Completer sends one request to a completion service.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// OpenAICompleter calls the chat completions endpoint.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAICompleter(client *openai.Client, cfg OpenAIConfig) *OpenAICompleter {
	return &OpenAICompleter{
		client:      client,
		model:       cfg.CompletionModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// batchOutputSchema is the JSON schema of BatchOutput for structured outputs.
var batchOutputSchema = sync.OnceValues(func() (any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&BatchOutput{})
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	// Convert to any for the OpenAI SDK
	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return schema, nil
})

func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	switch req.ResponseFormat {
	case ResponseFormatJSONObject:
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	case ResponseFormatJSONSchema:
		schema, err := batchOutputSchema()
		if err != nil {
			return Completion{}, err
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "ad_groups",
					Description: openai.String("Ad groups generated for a batch of related keywords"),
					Schema:      schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	case ResponseFormatText, "":
	default:
		return Completion{}, fmt.Errorf("unknown response format %q", req.ResponseFormat)
	}

	chatCompletion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	completion := Completion{TotalTokens: int(chatCompletion.Usage.TotalTokens)}
	if len(chatCompletion.Choices) > 0 {
		completion.Content = chatCompletion.Choices[0].Message.Content
	}
	return completion, nil
}
