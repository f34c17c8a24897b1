package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aichat-backend/internal/model"
	"aichat-backend/internal/reducer"
	"aichat-backend/internal/stream"
	"aichat-backend/pkg/logger"
)

const placeholderPrefix = "local-"

var (
	ErrLastSession      = errors.New("cannot delete the last session")
	ErrStreamInProgress = errors.New("a reply is already streaming")
	ErrUnknownSession   = errors.New("unknown session")
)

// Observer is notified after every state change. Callbacks run outside the
// store lock and may call back into the store.
type Observer interface {
	OnSessions(sessions []model.SessionSummary)
	OnMessages(sessionID string, messages []model.Message)
	OnError(err error)
}

// IsPlaceholder reports whether id names a session that exists only locally.
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

type localSession struct {
	summary  model.SessionSummary
	messages []model.Message
	// gen counts local changes; a fetch that started at an older gen is stale.
	gen uint64
}

// Store is the single writer of client session state. Replies stream into
// their session whether or not it is the one being viewed; observers only see
// message updates for the active session.
type Store struct {
	api *API

	mu          sync.Mutex
	sessions    []*localSession
	activeID    string
	streamingID string
	observers   []Observer

	now func() time.Time
}

func NewStore(api *API) *Store {
	return &Store{api: api, now: time.Now}
}

func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Load fetches the session list, guaranteeing that at least one session
// exists, and selects the most recent one.
func (s *Store) Load(ctx context.Context) error {
	remote, err := s.api.ListSessions(ctx)
	if err != nil {
		s.notifyError(err)
		return fmt.Errorf("load sessions: %w", err)
	}

	s.mu.Lock()
	s.sessions = s.sessions[:0]
	for _, r := range remote {
		s.sessions = append(s.sessions, &localSession{summary: r})
	}
	if len(s.sessions) == 0 {
		s.sessions = append(s.sessions, s.newPlaceholderLocked())
	}
	first := s.sessions[0].summary.ID
	s.mu.Unlock()

	s.publishSessions()
	return s.SelectSession(ctx, first)
}

func (s *Store) newPlaceholderLocked() *localSession {
	now := s.now()
	return &localSession{summary: model.SessionSummary{
		ID:        placeholderPrefix + uuid.NewString(),
		Title:     model.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

func (s *Store) Sessions() []model.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summariesLocked()
}

// Messages returns a copy of the cached messages of id.
func (s *Store) Messages(id string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls := s.findLocked(id); ls != nil {
		return cloneMessages(ls.messages)
	}
	return nil
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// StreamingID is the session currently receiving a reply, or "".
func (s *Store) StreamingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingID
}

// SelectSession makes id active and publishes its cached messages at once,
// then refreshes them from the backend unless id is streaming. A failed
// refresh keeps the cache, and so does one that raced a local change.
func (s *Store) SelectSession(ctx context.Context, id string) error {
	s.mu.Lock()
	ls := s.findLocked(id)
	if ls == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.activeID = id
	cached := cloneMessages(ls.messages)
	skipFetch := IsPlaceholder(id) || s.streamingID == id
	gen := ls.gen
	s.mu.Unlock()

	s.publishMessages(id, cached)
	if skipFetch {
		return nil
	}

	remote, err := s.api.GetSession(ctx, id)
	if err != nil {
		s.notifyError(err)
		return fmt.Errorf("fetch session %s: %w", id, err)
	}

	s.mu.Lock()
	ls = s.findLocked(id)
	if ls == nil || s.streamingID == id || ls.gen != gen {
		s.mu.Unlock()
		return nil
	}
	ls.messages = remote.Messages
	ls.summary = remote.Summary()
	active := s.activeID == id
	fresh := cloneMessages(ls.messages)
	s.mu.Unlock()

	if active {
		s.publishMessages(id, fresh)
	}
	return nil
}

// NewSession creates a session on the backend and selects it.
func (s *Store) NewSession(ctx context.Context) (*model.SessionSummary, error) {
	created, err := s.api.CreateSession(ctx, "")
	if err != nil {
		s.notifyError(err)
		return nil, fmt.Errorf("create session: %w", err)
	}

	summary := created.Summary()
	s.mu.Lock()
	s.sessions = append([]*localSession{{summary: summary, messages: []model.Message{}}}, s.sessions...)
	s.activeID = summary.ID
	s.mu.Unlock()

	s.publishSessions()
	s.publishMessages(summary.ID, []model.Message{})
	return &summary, nil
}

// DeleteSession removes id optimistically and restores the previous state
// when the backend refuses. The last session can never be deleted.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	if len(s.sessions) <= 1 {
		s.mu.Unlock()
		return ErrLastSession
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	snapshot := append([]*localSession(nil), s.sessions...)
	prevActive := s.activeID
	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)

	var moved *localSession
	if s.activeID == id {
		moved = s.sessions[0]
		s.activeID = moved.summary.ID
	}
	var movedMessages []model.Message
	if moved != nil {
		movedMessages = cloneMessages(moved.messages)
	}
	s.mu.Unlock()

	s.publishSessions()
	if moved != nil {
		s.publishMessages(moved.summary.ID, movedMessages)
	}

	if IsPlaceholder(id) {
		return nil
	}
	if err := s.api.DeleteSession(ctx, id); err != nil {
		s.mu.Lock()
		s.sessions = snapshot
		s.activeID = prevActive
		var restored []model.Message
		if ls := s.findLocked(prevActive); ls != nil {
			restored = cloneMessages(ls.messages)
		}
		s.mu.Unlock()

		s.publishSessions()
		s.publishMessages(prevActive, restored)
		s.notifyError(err)
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

type SendOptions struct {
	Model     string
	ImageURLs []string
}

// SendPrompt appends the prompt to sessionID (the active session when empty,
// a new placeholder when there is none) and drains the reply stream. It
// returns the id of the session the exchange ended up in, which differs from
// the input when a placeholder was persisted by the backend.
func (s *Store) SendPrompt(ctx context.Context, text, sessionID string, opts SendOptions) (string, error) {
	return s.send(ctx, text, sessionID, opts.ImageURLs, nil, func(chatID string) (*Stream, error) {
		return s.api.Chat(ctx, model.ChatRequest{
			Prompt:    text,
			ChatID:    chatID,
			Model:     opts.Model,
			ImageURLs: opts.ImageURLs,
		})
	})
}

// SendMulti is SendPrompt against several models at once. The responses keep
// the order of models no matter which model answers first.
func (s *Store) SendMulti(ctx context.Context, text, sessionID string, models []string) (string, error) {
	return s.send(ctx, text, sessionID, nil, models, func(chatID string) (*Stream, error) {
		return s.api.MultiChat(ctx, model.MultiChatRequest{
			Prompt: text,
			ChatID: chatID,
			Models: models,
		})
	})
}

func (s *Store) send(ctx context.Context, text, sessionID string, images, models []string, open func(chatID string) (*Stream, error)) (string, error) {
	now := s.now()
	userID, assistantID := model.NewMessageIDs(now)

	s.mu.Lock()
	if s.streamingID != "" {
		s.mu.Unlock()
		return "", ErrStreamInProgress
	}
	target := s.targetLocked(sessionID)
	if target == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	target.messages = append(target.messages, userMessage(userID, text, images, now))
	target.summary.MessageCount = len(target.messages)
	target.summary.UpdatedAt = now
	target.gen++
	localID := target.summary.ID
	s.streamingID = localID
	s.mu.Unlock()

	s.publish(localID)

	remoteID := localID
	if IsPlaceholder(localID) {
		remoteID = ""
	}
	st, err := open(remoteID)
	if err != nil {
		finalID := s.finish(ctx, localID, "")
		s.notifyError(err)
		return finalID, fmt.Errorf("send prompt: %w", err)
	}
	defer st.Close()

	log := logger.WithFields(map[string]interface{}{"session_id": localID})
	chatID := st.ChatID
	var streamErr error
	for {
		e, err := st.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = fmt.Errorf("read stream: %w", err)
			break
		}

		switch e.Kind {
		case stream.KindError:
			streamErr = errors.New(e.Text)
		case stream.KindComplete:
			if e.ChatID != "" {
				chatID = e.ChatID
			}
			if e.MessageID != "" {
				s.renameMessage(localID, assistantID, e.MessageID)
				assistantID = e.MessageID
			}
		default:
			s.applyEvent(localID, assistantID, models, e)
		}
	}

	finalID := s.finish(ctx, localID, chatID)
	if streamErr != nil {
		log.Warnf("reply stream ended with error: %v", streamErr)
		s.notifyError(streamErr)
		return finalID, streamErr
	}
	return finalID, nil
}

// targetLocked resolves the session a prompt goes to.
func (s *Store) targetLocked(sessionID string) *localSession {
	if sessionID == "" {
		sessionID = s.activeID
	}
	if sessionID != "" {
		return s.findLocked(sessionID)
	}
	ls := s.newPlaceholderLocked()
	s.sessions = append([]*localSession{ls}, s.sessions...)
	s.activeID = ls.summary.ID
	return ls
}

func userMessage(id, text string, images []string, now time.Time) model.Message {
	parts := []model.Part{model.TextPart(text)}
	for _, u := range images {
		parts = append(parts, model.ImagePart(u))
	}
	return model.Message{ID: id, Role: model.RoleUser, Parts: parts, CreatedAt: now}
}

// applyEvent folds e into the assistant message, creating it on the first
// event with one empty response per requested model.
func (s *Store) applyEvent(sessionID, assistantID string, models []string, e stream.Event) {
	s.mu.Lock()
	ls := s.findLocked(sessionID)
	if ls == nil {
		s.mu.Unlock()
		return
	}
	i := indexOfMessage(ls.messages, assistantID)
	if i < 0 {
		ls.messages = append(ls.messages, assistantMessage(assistantID, models, s.now()))
		ls.summary.MessageCount = len(ls.messages)
		i = len(ls.messages) - 1
	}
	reducer.ApplyToMessage(&ls.messages[i], e)
	ls.gen++

	active := s.activeID == sessionID
	var snapshot []model.Message
	if active {
		snapshot = cloneMessages(ls.messages)
	}
	s.mu.Unlock()

	if active {
		s.publishMessages(sessionID, snapshot)
	}
}

func assistantMessage(id string, models []string, now time.Time) model.Message {
	msg := model.Message{ID: id, Role: model.RoleAssistant, Parts: []model.Part{}, CreatedAt: now}
	for _, m := range models {
		if m = strings.TrimSpace(m); m == "" || msg.Response(m) != nil {
			continue
		}
		msg.IsMultiModel = true
		msg.MultiModelResponses = append(msg.MultiModelResponses, model.ModelResponse{
			Model: m,
			Parts: []model.Part{},
			Show:  true,
		})
	}
	return msg
}

func (s *Store) renameMessage(sessionID, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls := s.findLocked(sessionID); ls != nil {
		if i := indexOfMessage(ls.messages, from); i >= 0 {
			ls.messages[i].ID = to
			ls.gen++
		}
	}
}

// finish clears the streaming pointer, derives a title for placeholder
// titles and maps a placeholder session onto the one the backend created.
func (s *Store) finish(ctx context.Context, localID, chatID string) string {
	s.mu.Lock()
	s.streamingID = ""
	if ls := s.findLocked(localID); ls != nil {
		ls.gen++
		if isPlaceholderTitle(ls.summary.Title) {
			if text, ok := firstUserText(ls.messages); ok {
				ls.summary.Title = model.DeriveTitle(text)
			}
		}
	}
	s.mu.Unlock()

	finalID := localID
	if IsPlaceholder(localID) && chatID != "" {
		s.adopt(ctx, localID, chatID)
		finalID = chatID
	}
	s.publish(finalID)
	return finalID
}

// adopt replaces the placeholder with the backend session chatID, refreshing
// the session list. Messages already streamed locally move over with it.
func (s *Store) adopt(ctx context.Context, placeholderID, chatID string) {
	remote, err := s.api.ListSessions(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholder := s.findLocked(placeholderID)
	if err != nil {
		logger.Warnf("refresh sessions after first message failed: %v", err)
		if placeholder != nil {
			placeholder.summary.ID = chatID
		}
	} else {
		next := make([]*localSession, 0, len(remote)+1)
		for _, old := range s.sessions {
			if IsPlaceholder(old.summary.ID) && old.summary.ID != placeholderID {
				next = append(next, old)
			}
		}
		for _, r := range remote {
			ls := &localSession{summary: r}
			switch {
			case r.ID == chatID && placeholder != nil:
				ls.messages = placeholder.messages
				ls.gen = placeholder.gen
				if isPlaceholderTitle(r.Title) {
					ls.summary.Title = placeholder.summary.Title
				}
			default:
				if cached := s.findLocked(r.ID); cached != nil {
					ls.messages = cached.messages
					ls.gen = cached.gen
				}
			}
			next = append(next, ls)
		}
		if len(next) == 0 && placeholder != nil {
			placeholder.summary.ID = chatID
			next = append(next, placeholder)
		}
		s.sessions = next
	}

	if s.activeID == placeholderID {
		s.activeID = chatID
	}
	if s.findLocked(s.activeID) == nil && len(s.sessions) > 0 {
		s.activeID = s.sessions[0].summary.ID
	}
}

// Compare runs the judged comparison for text and appends the winner.
func (s *Store) Compare(ctx context.Context, text, sessionID, instructions string) (*model.CompareResponse, error) {
	now := s.now()
	userID, _ := model.NewMessageIDs(now)

	s.mu.Lock()
	if s.streamingID != "" {
		s.mu.Unlock()
		return nil, ErrStreamInProgress
	}
	target := s.targetLocked(sessionID)
	if target == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	target.messages = append(target.messages, userMessage(userID, text, nil, now))
	target.summary.MessageCount = len(target.messages)
	target.gen++
	localID := target.summary.ID
	s.streamingID = localID
	s.mu.Unlock()
	s.publish(localID)

	remoteID := localID
	if IsPlaceholder(localID) {
		remoteID = ""
	}
	resp, err := s.api.Compare(ctx, model.CompareRequest{
		Prompt:       text,
		ChatID:       remoteID,
		Instructions: instructions,
	})
	if err != nil {
		s.finish(ctx, localID, "")
		s.notifyError(err)
		return nil, fmt.Errorf("compare: %w", err)
	}

	s.mu.Lock()
	if ls := s.findLocked(localID); ls != nil {
		ls.messages = append(ls.messages, resp.Message)
		ls.summary.MessageCount = len(ls.messages)
		ls.gen++
	}
	s.mu.Unlock()

	s.finish(ctx, localID, resp.ChatID)
	return resp, nil
}

// SelectPreferred commits modelID as the answer of a multi-model message on
// the backend and mirrors the selection locally.
func (s *Store) SelectPreferred(ctx context.Context, sessionID, messageID, modelID string) error {
	_, err := s.api.SelectModel(ctx, model.SelectModelRequest{
		ChatID:        sessionID,
		MessageID:     messageID,
		SelectedModel: modelID,
	})
	if err != nil {
		s.notifyError(err)
		return fmt.Errorf("select model: %w", err)
	}

	s.mu.Lock()
	ls := s.findLocked(sessionID)
	if ls == nil {
		s.mu.Unlock()
		return nil
	}
	if i := indexOfMessage(ls.messages, messageID); i >= 0 {
		if err := ls.messages[i].SelectModel(modelID); err != nil {
			logger.Warnf("local selection of %s out of sync: %v", modelID, err)
		}
		ls.gen++
	}
	s.mu.Unlock()

	s.publish(sessionID)
	return nil
}

func (s *Store) findLocked(id string) *localSession {
	if i := s.indexLocked(id); i >= 0 {
		return s.sessions[i]
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i, ls := range s.sessions {
		if ls.summary.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) summariesLocked() []model.SessionSummary {
	out := make([]model.SessionSummary, len(s.sessions))
	for i, ls := range s.sessions {
		out[i] = ls.summary
	}
	return out
}

// publish sends the session list, and the messages of sessionID when it is active.
func (s *Store) publish(sessionID string) {
	s.mu.Lock()
	active := s.activeID == sessionID
	var msgs []model.Message
	if ls := s.findLocked(sessionID); ls != nil && active {
		msgs = cloneMessages(ls.messages)
	}
	s.mu.Unlock()

	s.publishSessions()
	if active {
		s.publishMessages(sessionID, msgs)
	}
}

func (s *Store) publishSessions() {
	s.mu.Lock()
	sessions := s.summariesLocked()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.OnSessions(sessions)
	}
}

func (s *Store) publishMessages(sessionID string, messages []model.Message) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.OnMessages(sessionID, messages)
	}
}

func (s *Store) notifyError(err error) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.OnError(err)
	}
}

func indexOfMessage(messages []model.Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessages(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

func isPlaceholderTitle(title string) bool {
	return title == "" || title == model.DefaultTitle
}

func firstUserText(messages []model.Message) (string, bool) {
	s := model.Session{Messages: messages}
	return s.FirstUserText()
}
