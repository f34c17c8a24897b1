package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"aichat-backend/internal/model"
	"aichat-backend/internal/provider"
	"aichat-backend/internal/stream"
	"aichat-backend/internal/tools"
	"aichat-backend/pkg/logger"
)

// chatModel builds modelID with the enabled tools bound.
func (s *ChatService) chatModel(ctx context.Context, modelID string) (einoModel.ChatModel, error) {
	var infos []*schema.ToolInfo
	if s.cfg.Agent.EnableTools && s.tools != nil {
		infos = s.tools.Infos()
	}
	return s.models.ChatModel(ctx, modelID, infos)
}

// runAgent builds modelID and runs the agent loop with it.
func (s *ChatService) runAgent(ctx context.Context, modelID string, history []*schema.Message, pace bool, emit func(stream.Event)) error {
	cm, err := s.chatModel(ctx, modelID)
	if err != nil {
		return err
	}
	return s.agentLoop(ctx, cm, modelID, history, pace, emit)
}

// agentLoop streams cm over history, executing requested tools between turns
// until the model answers without tool calls or max steps is reached. Every
// observable step is reported through emit.
func (s *ChatService) agentLoop(ctx context.Context, cm einoModel.BaseChatModel, modelID string, history []*schema.Message, pace bool, emit func(stream.Event)) error {
	messages := make([]*schema.Message, 0, len(history)+1)
	if p := strings.TrimSpace(s.cfg.Agent.SystemPrompt); p != "" {
		messages = append(messages, schema.SystemMessage(p))
	}
	messages = append(messages, history...)

	log := logger.WithFields(map[string]interface{}{"model": modelID})
	executed := map[string]bool{}

	maxSteps := s.cfg.Agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}
	for step := 1; step <= maxSteps; step++ {
		turn, err := s.streamTurn(ctx, cm, messages, pace, emit)
		if err != nil {
			return err
		}
		if len(turn.ToolCalls) == 0 {
			return nil
		}

		for i := range turn.ToolCalls {
			if turn.ToolCalls[i].ID == "" {
				turn.ToolCalls[i].ID = "call_" + uuid.NewString()
			}
		}
		messages = append(messages, turn)

		for _, tc := range turn.ToolCalls {
			if executed[tc.ID] {
				continue
			}
			executed[tc.ID] = true
			messages = append(messages, s.runTool(ctx, tc, emit))
		}
		log.Debugf("agent step %d finished with %d tool calls", step, len(turn.ToolCalls))
	}

	log.Warnf("agent stopped after %d steps", maxSteps)
	return nil
}

// streamTurn streams one model turn, emitting text deltas and tool-call starts
// as they arrive, and returns the assembled assistant message.
func (s *ChatService) streamTurn(ctx context.Context, cm einoModel.BaseChatModel, messages []*schema.Message, pace bool, emit func(stream.Event)) (*schema.Message, error) {
	sr, err := cm.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	acc := provider.NewTurnAccumulator()
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		for _, tc := range acc.Add(chunk) {
			emit(stream.ToolCallStart(tc.ID, tc.Function.Name))
		}
		if chunk.Content != "" {
			err := stream.Pace(ctx, chunk.Content, pace && s.cfg.Stream.WordChunking, s.cfg.Stream.ChunkDelay, func(piece string) {
				emit(stream.TextDelta(piece))
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return acc.Message(), nil
}

// runTool executes one tool call and returns the tool message fed back to the
// model. A failing tool produces an error result instead of aborting the turn.
func (s *ChatService) runTool(ctx context.Context, tc schema.ToolCall, emit func(stream.Event)) *schema.Message {
	name := tc.Function.Name
	emit(stream.ToolCallComplete(tc.ID, name, argsMap(tc.Function.Arguments)))

	var (
		output string
		err    error
	)
	if s.tools == nil {
		err = fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
	} else {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.Agent.ToolTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, s.cfg.Agent.ToolTimeout)
		}
		output, err = s.tools.Run(runCtx, name, tc.Function.Arguments)
		cancel()
	}

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"tool":         name,
			"tool_call_id": tc.ID,
		}).Warnf("tool call failed: %v", err)

		result := tools.ErrorResult(err)
		emit(stream.ToolResult(tc.ID, result))
		b, _ := json.Marshal(result)
		return schema.ToolMessage(string(b), tc.ID)
	}

	emit(stream.ToolResult(tc.ID, tools.ResultValue(output)))
	return schema.ToolMessage(output, tc.ID)
}

// argsMap decodes tool arguments for display. Arguments that are not a JSON
// object are kept under "raw".
func argsMap(arguments string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(arguments) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return map[string]any{"raw": arguments}
	}
	return args
}

// historyMessages converts the last max stored messages into model input.
// Multi-model answers contribute their selected response only.
func historyMessages(messages []model.Message, max int) []*schema.Message {
	if max > 0 && len(messages) > max {
		messages = messages[len(messages)-max:]
	}

	var out []*schema.Message
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			out = append(out, userMessage(m.Parts))
		case model.RoleAssistant:
			parts := m.Parts
			if m.IsMultiModel {
				r := m.SelectedResponse()
				if r == nil {
					continue
				}
				parts = r.Parts
			}
			out = append(out, assistantMessages(parts)...)
		}
	}
	return out
}

func userMessage(parts []model.Part) *schema.Message {
	var (
		text   strings.Builder
		images []string
	)
	for _, p := range parts {
		switch p.Type {
		case model.PartText:
			text.WriteString(p.Text)
		case model.PartImage:
			images = append(images, p.Image)
		}
	}
	if len(images) == 0 {
		return schema.UserMessage(text.String())
	}

	msg := &schema.Message{Role: schema.User}
	msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeText,
		Text: text.String(),
	})
	for _, u := range images {
		msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: u},
		})
	}
	return msg
}

// assistantMessages replays stored parts as assistant turns. Each completed
// tool call becomes a tool-calling turn followed by its tool message; calls
// that never got a result are left out.
func assistantMessages(parts []model.Part) []*schema.Message {
	var (
		out  []*schema.Message
		text strings.Builder
	)
	for _, p := range parts {
		switch p.Type {
		case model.PartText:
			text.WriteString(p.Text)
		case model.PartToolCall:
			if p.Result == nil {
				continue
			}
			args, _ := json.Marshal(p.Args)
			result, _ := json.Marshal(p.Result)
			out = append(out, &schema.Message{
				Role:    schema.Assistant,
				Content: text.String(),
				ToolCalls: []schema.ToolCall{{
					ID:   p.ToolCallID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      p.ToolName,
						Arguments: string(args),
					},
				}},
			})
			out = append(out, schema.ToolMessage(string(result), p.ToolCallID))
			text.Reset()
		}
	}
	if text.Len() > 0 {
		out = append(out, schema.AssistantMessage(text.String(), nil))
	}
	return out
}
