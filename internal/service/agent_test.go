package service

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat-backend/internal/model"
)

func TestHistoryMessages(t *testing.T) {
	messages := []model.Message{
		{ID: "1", Role: model.RoleUser, Parts: []model.Part{model.TextPart("old")}},
		{ID: "2", Role: model.RoleAssistant, Parts: []model.Part{model.TextPart("older answer")}},
		{ID: "3", Role: model.RoleUser, Parts: []model.Part{model.TextPart("weather?")}},
		{ID: "4", Role: model.RoleAssistant, Parts: []model.Part{
			model.TextPart("Checking. "),
			{Type: model.PartToolCall, ToolCallID: "c1", ToolName: "weather", Args: map[string]any{"city": "Oslo"}, Result: map[string]any{"temp": 3.0}},
			{Type: model.PartToolCall, ToolCallID: "c2", ToolName: "weather", Args: map[string]any{}},
			model.TextPart("It is cold."),
		}},
		{ID: "5", Role: model.RoleUser, Parts: []model.Part{model.TextPart("and you?")}},
		{ID: "6", Role: model.RoleAssistant, IsMultiModel: true, MultiModelResponses: []model.ModelResponse{
			{Model: "A", Parts: []model.Part{model.TextPart("from A")}},
			{Model: "B", Parts: []model.Part{model.TextPart("from B")}, Selected: true, Show: true},
		}},
		{ID: "7", Role: model.RoleAssistant, IsMultiModel: true, MultiModelResponses: []model.ModelResponse{
			{Model: "A", Parts: []model.Part{model.TextPart("unpicked")}, Show: true},
		}},
	}

	out := historyMessages(messages, 5)
	require.Len(t, out, 6)

	assert.Equal(t, schema.User, out[0].Role)
	assert.Equal(t, "weather?", out[0].Content)

	assert.Equal(t, schema.Assistant, out[1].Role)
	assert.Equal(t, "Checking. ", out[1].Content)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "c1", out[1].ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Oslo"}`, out[1].ToolCalls[0].Function.Arguments)

	assert.Equal(t, schema.Tool, out[2].Role)
	assert.Equal(t, "c1", out[2].ToolCallID)
	assert.JSONEq(t, `{"temp":3}`, out[2].Content)

	assert.Equal(t, "It is cold.", out[3].Content)
	assert.Equal(t, "and you?", out[4].Content)
	assert.Equal(t, "from B", out[5].Content)
}

func TestArgsMap(t *testing.T) {
	assert.Equal(t, map[string]any{}, argsMap(""))
	assert.Equal(t, map[string]any{"a": 1.0}, argsMap(`{"a":1}`))
	assert.Equal(t, map[string]any{"raw": "[1,2]"}, argsMap("[1,2]"))
}

func TestTranscript(t *testing.T) {
	parts := []model.Part{
		model.TextPart("Looking up. "),
		{Type: model.PartToolCall, ToolName: "clock", Result: "noon"},
		model.TextPart("It is noon."),
	}
	assert.Equal(t, "Looking up. \n[tool clock returned noon]\nIt is noon.", transcript(parts))
}
