package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/sourcegraph/conc"

	"aichat-backend/internal/model"
	"aichat-backend/internal/provider"
	"aichat-backend/internal/reducer"
	"aichat-backend/internal/storage"
	"aichat-backend/internal/stream"
	"aichat-backend/pkg/logger"
)

// verdict is the judge's structured answer.
type verdict struct {
	SelectedOption int    `json:"selectedOption" description:"Number of the best answer: 1, 2 or 3"`
	Reasoning      string `json:"reasoning" description:"Short explanation of the choice"`
}

type candidate struct {
	model string
	parts []model.Part
	err   error
}

// Compare answers the prompt with the three comparison models, lets the judge
// model pick the best answer and persists only the winner.
func (s *ChatService) Compare(ctx context.Context, req model.CompareRequest) (*model.CompareResponse, error) {
	models := s.cfg.Models.Comparison
	if len(models) != 3 {
		return nil, fmt.Errorf("%w: got %d", ErrComparisonModels, len(models))
	}

	session, assistantID, err := s.beginTurn(req.ChatID, req.Prompt, req.ImageURLs)
	if err != nil {
		return nil, err
	}
	history := historyMessages(session.Messages, s.cfg.Agent.MaxHistoryMessages)

	candidates := s.runCandidates(ctx, models, history)
	for _, c := range candidates {
		if c.err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCandidateFailed, c.model, c.err)
		}
	}

	var v verdict
	err = s.judge.StructuredCompletion(ctx, provider.StructuredRequest{
		Model:      s.cfg.Models.Judge,
		SchemaName: "comparison_verdict",
		System:     s.cfg.Agent.JudgePrompt,
		Prompt:     judgePrompt(req.Prompt, req.Instructions, candidates),
	}, &v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgeOutput, err)
	}
	if v.SelectedOption < 1 || v.SelectedOption > len(candidates) {
		return nil, fmt.Errorf("%w: selected option %d", ErrJudgeOutput, v.SelectedOption)
	}

	winner := candidates[v.SelectedOption-1]
	msg := model.Message{
		ID:        assistantID,
		Role:      model.RoleAssistant,
		Parts:     winner.parts,
		CreatedAt: s.now(),
		Metadata: &model.ComparisonMetadata{
			SelectedModel:  winner.model,
			Reasoning:      v.Reasoning,
			ComparedModels: append([]string(nil), models...),
		},
	}
	if err := s.storage.AddMessage(session.ID, &msg); err != nil {
		return nil, fmt.Errorf("failed to save comparison winner: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"chat_id": session.ID,
		"winner":  winner.model,
	}).Info("comparison finished")

	return &model.CompareResponse{
		ChatID:  session.ID,
		Message: msg,
		ComparisonResult: model.ComparisonResult{
			SelectedModel: winner.model,
			Reasoning:     v.Reasoning,
			AllModels:     append([]string(nil), models...),
		},
	}, nil
}

// runCandidates runs every model to completion without pacing. Results keep
// the order of models.
func (s *ChatService) runCandidates(ctx context.Context, models []string, history []*schema.Message) []candidate {
	out := make([]candidate, len(models))
	var wg conc.WaitGroup
	for i, m := range models {
		wg.Go(func() {
			var (
				mu    sync.Mutex
				parts = []model.Part{}
			)
			err := s.runAgent(ctx, m, history, false, func(e stream.Event) {
				mu.Lock()
				parts = reducer.Apply(parts, e)
				mu.Unlock()
			})
			out[i] = candidate{model: m, parts: parts, err: err}
		})
	}
	wg.Wait()
	return out
}

func judgePrompt(prompt, instructions string, candidates []candidate) string {
	var b strings.Builder
	b.WriteString("User prompt:\n")
	b.WriteString(prompt)
	b.WriteString("\n\n")
	if strings.TrimSpace(instructions) != "" {
		b.WriteString("Evaluation instructions:\n")
		b.WriteString(instructions)
		b.WriteString("\n\n")
	}
	for i, c := range candidates {
		fmt.Fprintf(&b, "Option %d:\n%s\n\n", i+1, transcript(c.parts))
	}
	b.WriteString("Answer with the number of the best option and your reasoning.")
	return b.String()
}

// transcript flattens parts into plain text for the judge.
func transcript(parts []model.Part) string {
	var b strings.Builder
	for _, p := range parts {
		switch p.Type {
		case model.PartText:
			b.WriteString(p.Text)
		case model.PartToolCall:
			fmt.Fprintf(&b, "\n[tool %s returned %v]\n", p.ToolName, p.Result)
		}
	}
	return strings.TrimSpace(b.String())
}

// SelectModel commits the preferred answer of a multi-model message.
func (s *ChatService) SelectModel(req model.SelectModelRequest) (*model.SelectModelResponse, error) {
	session, err := s.GetSession(req.ChatID)
	if err != nil {
		return nil, err
	}
	i := session.FindMessage(req.MessageID)
	if i < 0 {
		return nil, fmt.Errorf("message %s: %w", req.MessageID, storage.ErrMessageNotFound)
	}

	msg := session.Messages[i]
	if err := msg.SelectModel(req.SelectedModel); err != nil {
		return nil, fmt.Errorf("select %s: %w", req.SelectedModel, err)
	}
	if err := s.storage.UpdateMessage(session.ID, &msg); err != nil {
		return nil, fmt.Errorf("failed to save selection: %w", err)
	}

	return &model.SelectModelResponse{
		ChatID:        session.ID,
		MessageID:     msg.ID,
		SelectedModel: req.SelectedModel,
	}, nil
}
