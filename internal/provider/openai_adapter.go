package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

var ErrEmptyResponse = errors.New("model returned no choices")

// aggregatorChatModel adapts an OpenAI-compatible aggregator to the eino ChatModel interface.
type aggregatorChatModel struct {
	client *openai.Client
	model  string
	tools  []openai.Tool
}

func newAggregatorChatModel(client *openai.Client, model string) *aggregatorChatModel {
	return &aggregatorChatModel{client: client, model: model}
}

func (m *aggregatorChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	req, err := m.request(messages, opts)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	out := resp.Choices[0].Message
	msg := &schema.Message{Role: schema.Assistant, Content: out.Content}
	for i, tc := range out.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, toSchemaToolCall(tc, i))
	}
	return msg, nil
}

func (m *aggregatorChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.request(messages, opts)
	if err != nil {
		return nil, err
	}
	req.Stream = true

	st, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](100)
	go func() {
		defer writer.Close()
		defer st.Close()

		for {
			resp, err := st.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			delta := resp.Choices[0].Delta
			msg := &schema.Message{Role: schema.Assistant, Content: delta.Content}
			for i, tc := range delta.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, toSchemaToolCall(tc, i))
			}
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			if closed := writer.Send(msg, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

func (m *aggregatorChatModel) BindTools(tools []*schema.ToolInfo) error {
	converted, err := toOpenAITools(tools)
	if err != nil {
		return err
	}
	m.tools = converted
	return nil
}

func (m *aggregatorChatModel) request(messages []*schema.Message, opts []einoModel.Option) (openai.ChatCompletionRequest, error) {
	o := einoModel.GetCommonOptions(&einoModel.Options{}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toOpenAIMessages(messages),
		Tools:    m.tools,
	}
	if o.Model != nil && *o.Model != "" {
		req.Model = *o.Model
	}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		req.MaxTokens = *o.MaxTokens
	}
	if o.TopP != nil {
		req.TopP = *o.TopP
	}
	if len(o.Stop) > 0 {
		req.Stop = o.Stop
	}
	if len(o.Tools) > 0 {
		tools, err := toOpenAITools(o.Tools)
		if err != nil {
			return req, err
		}
		req.Tools = tools
	}
	return req, nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		om := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			ToolCallID: msg.ToolCallID,
		}

		switch {
		case len(msg.MultiContent) > 0:
			for _, p := range msg.MultiContent {
				switch p.Type {
				case schema.ChatMessagePartTypeImageURL:
					if p.ImageURL != nil {
						om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL},
						})
					}
				default:
					om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				}
			}
		default:
			om.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		// Empty assistant turns are rejected by several upstreams.
		if om.Role == openai.ChatMessageRoleAssistant && om.Content == "" && len(om.ToolCalls) == 0 && len(om.MultiContent) == 0 {
			continue
		}
		out = append(out, om)
	}
	return out
}

func toSchemaToolCall(tc openai.ToolCall, pos int) schema.ToolCall {
	idx := pos
	if tc.Index != nil {
		idx = *tc.Index
	}
	return schema.ToolCall{
		Index: &idx,
		ID:    tc.ID,
		Type:  string(tc.Type),
		Function: schema.FunctionCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		},
	}
}

func toOpenAITools(tools []*schema.ToolInfo) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, info := range tools {
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("convert parameters of tool %s: %w", info.Name, err)
			}
			if s != nil {
				params = s
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return out, nil
}
