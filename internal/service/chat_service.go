package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"aichat-backend/internal/config"
	"aichat-backend/internal/model"
	"aichat-backend/internal/provider"
	"aichat-backend/internal/storage"
	"aichat-backend/pkg/logger"
)

// ModelFactory hands out a chat model with the given tools bound.
type ModelFactory interface {
	ChatModel(ctx context.Context, modelID string, tools []*schema.ToolInfo) (einoModel.ChatModel, error)
	DefaultModel() string
}

// Judge answers with JSON constrained to the schema of out.
type Judge interface {
	StructuredCompletion(ctx context.Context, req provider.StructuredRequest, out any) error
}

type ToolRunner interface {
	Infos() []*schema.ToolInfo
	Run(ctx context.Context, name, argumentsInJSON string) (string, error)
}

type ChatService struct {
	storage storage.Storage
	models  ModelFactory
	judge   Judge
	tools   ToolRunner
	cfg     *config.Config
	now     func() time.Time
}

func NewChatService(cfg *config.Config, store storage.Storage, models ModelFactory, judge Judge, tools ToolRunner) *ChatService {
	return &ChatService{
		storage: store,
		models:  models,
		judge:   judge,
		tools:   tools,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *ChatService) Storage() storage.Storage {
	return s.storage
}

func (s *ChatService) CreateSession(title string) (*model.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultTitle
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (s *ChatService) GetSession(sessionID string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *ChatService) ListSessions() ([]model.SessionSummary, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *ChatService) DeleteSession(sessionID string) error {
	if err := s.storage.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *ChatService) RenameSession(sessionID, title string) (*model.Session, error) {
	if err := s.storage.RenameSession(sessionID, strings.TrimSpace(title)); err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	return s.GetSession(sessionID)
}

// Health reports the number of stored sessions, which also checks storage is reachable.
func (s *ChatService) Health() (*model.HealthResponse, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, err
	}
	return &model.HealthResponse{
		Status:   "ok",
		Storage:  s.cfg.Storage.Type,
		Sessions: len(sessions),
	}, nil
}

// StartCleanup removes sessions idle for longer than the configured TTL until
// ctx is cancelled.
func (s *ChatService) StartCleanup(ctx context.Context) {
	if s.cfg.Session.TTL <= 0 || s.cfg.Session.CleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.Session.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}

// CleanupExpired deletes expired sessions and returns how many were removed.
// The store refuses to drop the last session, so one always survives.
func (s *ChatService) CleanupExpired() int {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		logger.Errorf("Failed to list sessions for cleanup: %v", err)
		return 0
	}

	cutoff := s.now().Add(-s.cfg.Session.TTL)
	removed := 0
	for _, session := range sessions {
		if !session.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.storage.DeleteSession(session.ID); err != nil {
			if errors.Is(err, storage.ErrLastSession) {
				continue
			}
			logger.Errorf("Failed to delete expired session %s: %v", session.ID, err)
			continue
		}
		removed++
		logger.Infof("Cleaned up expired session: %s", session.ID)
	}
	return removed
}

// beginTurn resolves the target session, creating it when chatID is empty,
// and persists the user message. It returns the session with the new message
// appended and the id reserved for the assistant reply.
func (s *ChatService) beginTurn(chatID, prompt string, imageURLs []string) (*model.Session, string, error) {
	now := s.now()

	var session *model.Session
	if chatID == "" {
		session = &model.Session{
			ID:        uuid.NewString(),
			Title:     model.DeriveTitle(prompt),
			Messages:  []model.Message{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.storage.CreateSession(session); err != nil {
			return nil, "", fmt.Errorf("failed to create session: %w", err)
		}
	} else {
		var err error
		if session, err = s.GetSession(chatID); err != nil {
			return nil, "", err
		}
	}

	userID, assistantID := model.NewMessageIDs(now)
	parts := []model.Part{model.TextPart(prompt)}
	for _, u := range imageURLs {
		if u = strings.TrimSpace(u); u != "" {
			parts = append(parts, model.ImagePart(u))
		}
	}
	user := model.Message{
		ID:        userID,
		Role:      model.RoleUser,
		Parts:     parts,
		CreatedAt: now,
	}
	if err := s.storage.AddMessage(session.ID, &user); err != nil {
		return nil, "", fmt.Errorf("failed to add user message: %w", err)
	}
	session.Messages = append(session.Messages, user)

	if session.HasPlaceholderTitle() {
		if text, ok := session.FirstUserText(); ok {
			s.retitle(session.ID, model.DeriveTitle(text))
		}
	}
	return session, assistantID, nil
}

func (s *ChatService) retitle(sessionID, title string) {
	if err := s.storage.RenameSession(sessionID, title); err != nil {
		logger.Warnf("Failed to update title of session %s: %v", sessionID, err)
	}
}

// persistAssistant stores the finished assistant message. Empty replies are dropped.
func (s *ChatService) persistAssistant(chatID string, msg *model.Message) error {
	if len(msg.Parts) == 0 && len(msg.MultiModelResponses) == 0 {
		return nil
	}
	if err := s.storage.AddMessage(chatID, msg); err != nil {
		return fmt.Errorf("failed to save assistant message: %w", err)
	}
	return nil
}

func (s *ChatService) resolveModel(requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	return s.models.DefaultModel()
}
