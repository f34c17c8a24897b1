package service

import (
	"context"
	"strings"
	"time"

	"aichat-backend/internal/model"
	"aichat-backend/internal/multimodel"
	"aichat-backend/internal/reducer"
	"aichat-backend/internal/stream"
	"aichat-backend/pkg/logger"
)

const eventBuffer = 100

// emitter forwards events to out until ctx ends; afterwards events are dropped
// so the producer can still finish and persist.
func emitter(ctx context.Context, out chan<- stream.Event) func(stream.Event) {
	return func(e stream.Event) {
		select {
		case out <- e:
		case <-ctx.Done():
		}
	}
}

// StreamChat persists the user prompt and streams the assistant reply. The
// model is built first so an unknown model fails before anything is stored.
// The returned channel is closed once the reply has been persisted.
func (s *ChatService) StreamChat(ctx context.Context, req model.ChatRequest) (string, <-chan stream.Event, error) {
	modelID := s.resolveModel(req.Model)
	cm, err := s.chatModel(ctx, modelID)
	if err != nil {
		return "", nil, err
	}

	session, assistantID, err := s.beginTurn(req.ChatID, req.Prompt, req.ImageURLs)
	if err != nil {
		return "", nil, err
	}
	chatID := session.ID
	history := historyMessages(session.Messages, s.cfg.Agent.MaxHistoryMessages)

	out := make(chan stream.Event, eventBuffer)
	go func() {
		defer close(out)

		send := emitter(ctx, out)
		reply := &model.Message{
			ID:        assistantID,
			Role:      model.RoleAssistant,
			Parts:     []model.Part{},
			CreatedAt: s.now(),
		}
		emit := func(e stream.Event) {
			reducer.ApplyToMessage(reply, e)
			send(e)
		}

		log := logger.WithFields(map[string]interface{}{
			"chat_id": chatID,
			"model":   modelID,
		})
		start := time.Now()

		runErr := s.agentLoop(ctx, cm, modelID, history, true, emit)
		if runErr != nil {
			log.Errorf("chat stream failed: %v", runErr)
		}

		if err := s.persistAssistant(chatID, reply); err != nil {
			log.Errorf("%v", err)
			send(stream.Error(err.Error()))
			return
		}
		if runErr != nil {
			send(stream.Error(runErr.Error()))
			return
		}
		send(stream.Complete(reply.ID, chatID))
		log.Infof("chat stream finished in %s", time.Since(start).Round(time.Millisecond))
	}()

	return chatID, out, nil
}

// StreamMultiChat streams one prompt against several models at once. Every
// event carries its model; a failing model is replaced by an error placeholder.
func (s *ChatService) StreamMultiChat(ctx context.Context, req model.MultiChatRequest) (string, <-chan stream.Event, error) {
	models := normalizeModels(req.Models)
	if len(models) == 0 {
		models = s.cfg.Models.MultiDefault
	}
	if err := multimodel.ValidateModels(models); err != nil {
		return "", nil, err
	}

	session, assistantID, err := s.beginTurn(req.ChatID, req.Prompt, req.ImageURLs)
	if err != nil {
		return "", nil, err
	}
	chatID := session.ID
	history := historyMessages(session.Messages, s.cfg.Agent.MaxHistoryMessages)

	orchestrator := multimodel.New(func(ctx context.Context, modelID string, emit func(stream.Event)) error {
		return s.runAgent(ctx, modelID, history, true, emit)
	})

	out := make(chan stream.Event, eventBuffer)
	go func() {
		defer close(out)

		req := multimodel.Request{ChatID: chatID, MessageID: assistantID, Models: models}
		finalize := func(msg *model.Message) error {
			return s.persistAssistant(chatID, msg)
		}
		result, err := orchestrator.Run(ctx, req, emitter(ctx, out), finalize)
		if err != nil {
			logger.Errorf("multi-model stream for chat %s failed: %v", chatID, err)
			return
		}
		logger.Infof("multi-model stream for chat %s finished, %d of %d models failed",
			chatID, len(result.Errors), len(models))
	}()

	return chatID, out, nil
}

func normalizeModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
