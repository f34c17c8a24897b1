package provider

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

var ErrStructuredOutput = errors.New("structured output rejected")

type StructuredRequest struct {
	Model      string
	SchemaName string
	System     string
	Prompt     string
}

// StructuredCompletion asks the aggregator for a JSON answer constrained to
// the schema of out and decodes it into out. Only aggregator models support it.
func (r *Registry) StructuredCompletion(ctx context.Context, req StructuredRequest, out any) error {
	if strings.HasPrefix(req.Model, arkPrefix) || strings.HasPrefix(req.Model, qwenPrefix) {
		return fmt.Errorf("%w: %s does not support json schema output", ErrUnknownModel, req.Model)
	}

	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("structured output target must be a non-nil pointer, got %T", out)
	}
	def, err := jsonschema.GenerateSchemaForType(rv.Elem().Interface())
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := r.aggregator.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: def,
				Strict: true,
			},
		},
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyResponse
	}

	if err := def.Unmarshal(resp.Choices[0].Message.Content, out); err != nil {
		return fmt.Errorf("%w: %v", ErrStructuredOutput, err)
	}
	return nil
}
