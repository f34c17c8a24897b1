package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat-backend/internal/config"
	"aichat-backend/internal/model"
	"aichat-backend/internal/multimodel"
	"aichat-backend/internal/provider"
	"aichat-backend/internal/storage"
	"aichat-backend/internal/stream"
)

type fakeModel struct {
	mu     sync.Mutex
	turns  [][]*schema.Message
	err    error
	calls  int
	inputs [][]*schema.Message
	tools  []*schema.ToolInfo
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.turns) {
		return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("", nil)}), nil
	}
	turn := f.turns[f.calls]
	f.calls++
	return schema.StreamReaderFromArray(turn), nil
}

func (f *fakeModel) BindTools(tools []*schema.ToolInfo) error {
	f.tools = tools
	return nil
}

type fakeFactory struct {
	models map[string]*fakeModel
}

func (f *fakeFactory) ChatModel(ctx context.Context, modelID string, tools []*schema.ToolInfo) (einoModel.ChatModel, error) {
	m, ok := f.models[modelID]
	if !ok {
		return nil, provider.ErrUnknownModel
	}
	if err := m.BindTools(tools); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *fakeFactory) DefaultModel() string { return "default" }

type fakeJudge struct {
	answer string
	err    error
	req    provider.StructuredRequest
}

func (j *fakeJudge) StructuredCompletion(ctx context.Context, req provider.StructuredRequest, out any) error {
	j.req = req
	if j.err != nil {
		return j.err
	}
	return json.Unmarshal([]byte(j.answer), out)
}

type fakeTools struct {
	run func(name, args string) (string, error)
	// hang makes Run block until its context ends.
	hang bool
}

func (t *fakeTools) Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{{Name: "current_time", Desc: "Returns the current time"}}
}

func (t *fakeTools) Run(ctx context.Context, name, args string) (string, error) {
	if t.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return t.run(name, args)
}

func text(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: s}
}

func toolChunk(index int, id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index:    &index,
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Agent: config.AgentConfig{
			SystemPrompt:       "You are helpful.",
			JudgePrompt:        "Pick the best.",
			MaxHistoryMessages: 20,
			MaxSteps:           4,
			EnableTools:        true,
		},
		Models: config.ModelsConfig{
			MultiDefault: []string{"A", "B"},
			Comparison:   []string{"A", "B", "C"},
			Judge:        "J",
		},
		Storage: config.StorageConfig{Type: "memory"},
		Session: config.SessionConfig{TTL: time.Hour, CleanupInterval: time.Minute},
	}
}

type fixture struct {
	svc     *ChatService
	store   *storage.MemoryStorage
	factory *fakeFactory
	judge   *fakeJudge
	tools   *fakeTools
}

func newFixture(models map[string]*fakeModel) *fixture {
	f := &fixture{
		store:   storage.NewMemoryStorage(),
		factory: &fakeFactory{models: models},
		judge:   &fakeJudge{},
		tools: &fakeTools{run: func(name, args string) (string, error) {
			return `{"time":"12:00"}`, nil
		}},
	}
	f.svc = NewChatService(testConfig(), f.store, f.factory, f.judge, f.tools)
	return f
}

func drain(ch <-chan stream.Event) []stream.Event {
	var out []stream.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func kinds(events []stream.Event) []stream.Kind {
	out := make([]stream.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestStreamChat_SimpleAnswer(t *testing.T) {
	f := newFixture(map[string]*fakeModel{
		"default": {turns: [][]*schema.Message{{text("4")}}},
	})

	chatID, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "What's 2+2?"})
	require.NoError(t, err)
	events := drain(ch)

	require.Len(t, events, 2)
	assert.Equal(t, stream.TextDelta("4"), events[0])
	assert.Equal(t, stream.KindComplete, events[1].Kind)
	assert.Equal(t, chatID, events[1].ChatID)

	session, err := f.store.GetSession(chatID)
	require.NoError(t, err)
	assert.Equal(t, "What's 2+2?", session.Title)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, model.RoleUser, session.Messages[0].Role)
	assert.Equal(t, []model.Part{model.TextPart("What's 2+2?")}, session.Messages[0].Parts)
	assert.Equal(t, model.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, []model.Part{model.TextPart("4")}, session.Messages[1].Parts)
	assert.Equal(t, events[1].MessageID, session.Messages[1].ID)

	input := f.factory.models["default"].inputs[0]
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, "What's 2+2?", input[1].Content)
}

func TestStreamChat_ToolLoop(t *testing.T) {
	m := &fakeModel{turns: [][]*schema.Message{
		{
			text("Let me check. "),
			toolChunk(0, "call_1", "current_time", `{"timezone":`),
			toolChunk(0, "", "", `"UTC"}`),
		},
		{text("It is noon.")},
	}}
	f := newFixture(map[string]*fakeModel{"default": m})
	var gotArgs string
	f.tools.run = func(name, args string) (string, error) {
		gotArgs = args
		return `{"time":"12:00"}`, nil
	}

	chatID, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "time?"})
	require.NoError(t, err)
	events := drain(ch)

	assert.Equal(t, []stream.Kind{
		stream.KindTextDelta,
		stream.KindToolCallStart,
		stream.KindToolCallComplete,
		stream.KindToolResult,
		stream.KindTextDelta,
		stream.KindComplete,
	}, kinds(events))
	assert.Equal(t, `{"timezone":"UTC"}`, gotArgs)
	assert.Equal(t, map[string]any{"timezone": "UTC"}, events[2].Args)

	session, err := f.store.GetSession(chatID)
	require.NoError(t, err)
	parts := session.Messages[1].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "Let me check. ", parts[0].Text)
	assert.Equal(t, model.PartToolCall, parts[1].Type)
	assert.Equal(t, "current_time", parts[1].ToolName)
	assert.Equal(t, map[string]any{"time": "12:00"}, parts[1].Result)
	assert.Equal(t, "It is noon.", parts[2].Text)

	require.Len(t, m.inputs, 2)
	second := m.inputs[1]
	last := second[len(second)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	require.Len(t, second[len(second)-2].ToolCalls, 1)
	assert.Len(t, m.tools, 1)
}

func TestStreamChat_ToolErrorBecomesResult(t *testing.T) {
	m := &fakeModel{turns: [][]*schema.Message{
		{toolChunk(0, "call_1", "current_time", `{}`)},
		{text("Sorry.")},
	}}
	f := newFixture(map[string]*fakeModel{"default": m})
	f.tools.run = func(name, args string) (string, error) {
		return "", errors.New("calendar offline")
	}

	chatID, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "x"})
	require.NoError(t, err)
	events := drain(ch)
	assert.Equal(t, map[string]any{"error": "calendar offline"}, events[2].Result)

	session, err := f.store.GetSession(chatID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "calendar offline"}, session.Messages[1].Parts[0].Result)
}

func TestStreamChat_ToolTimeout(t *testing.T) {
	m := &fakeModel{turns: [][]*schema.Message{
		{toolChunk(0, "call_1", "current_time", `{}`)},
		{text("It timed out.")},
	}}
	f := newFixture(map[string]*fakeModel{"default": m})
	f.svc.cfg.Agent.ToolTimeout = 20 * time.Millisecond
	f.tools.hang = true

	done := make(chan []stream.Event)
	go func() {
		_, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "x"})
		if err != nil {
			done <- nil
			return
		}
		done <- drain(ch)
	}()

	var events []stream.Event
	select {
	case events = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hanging tool stalled the agent loop")
	}
	require.NotEmpty(t, events)
	assert.Equal(t, map[string]any{"error": context.DeadlineExceeded.Error()}, events[2].Result)
	assert.Equal(t, stream.KindComplete, events[len(events)-1].Kind)
}

func TestStreamChat_ProviderFailureKeepsPrompt(t *testing.T) {
	f := newFixture(map[string]*fakeModel{
		"default": {err: errors.New("upstream 500")},
	})

	chatID, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "hello there friend"})
	require.NoError(t, err)
	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindError, events[0].Kind)
	assert.Contains(t, events[0].Text, "upstream 500")

	session, err := f.store.GetSession(chatID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, model.RoleUser, session.Messages[0].Role)
}

func TestStreamChat_ExistingSessionGetsTitle(t *testing.T) {
	f := newFixture(map[string]*fakeModel{
		"default": {turns: [][]*schema.Message{{text("hi")}}},
	})
	session, err := f.svc.CreateSession("")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, session.Title)

	_, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{
		Prompt:    "Plan a trip to Lisbon",
		ChatID:    session.ID,
		ImageURLs: []string{"https://img.example/a.png"},
	})
	require.NoError(t, err)
	drain(ch)

	got, err := f.store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan a trip to Lisbon", got.Title)
	assert.Equal(t, model.ImagePart("https://img.example/a.png"), got.Messages[0].Parts[1])

	input := f.factory.models["default"].inputs[0]
	user := input[len(input)-1]
	require.Len(t, user.MultiContent, 2)
	assert.Equal(t, "https://img.example/a.png", user.MultiContent[1].ImageURL.URL)
}

func TestStreamChat_UnknownSession(t *testing.T) {
	f := newFixture(map[string]*fakeModel{"default": {}})
	_, _, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "x", ChatID: "nope"})
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestStreamChat_UnknownModelFailsBeforeStoring(t *testing.T) {
	f := newFixture(map[string]*fakeModel{"default": {}})

	chatID, ch, err := f.svc.StreamChat(context.Background(), model.ChatRequest{Prompt: "x", Model: "nope"})
	assert.ErrorIs(t, err, provider.ErrUnknownModel)
	assert.Empty(t, chatID)
	assert.Nil(t, ch)

	sessions, err := f.store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStreamMultiChat_IsolatesFailures(t *testing.T) {
	f := newFixture(map[string]*fakeModel{
		"A": {err: errors.New("boom")},
		"B": {turns: [][]*schema.Message{{text("ok")}}},
	})

	chatID, ch, err := f.svc.StreamMultiChat(context.Background(), model.MultiChatRequest{
		Prompt: "compare",
		Models: []string{"A", "B"},
	})
	require.NoError(t, err)
	events := drain(ch)

	last := events[len(events)-1]
	assert.Equal(t, stream.KindComplete, last.Kind)
	assert.Equal(t, chatID, last.ChatID)

	session, err := f.store.GetSession(chatID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	msg := session.Messages[1]
	assert.True(t, msg.IsMultiModel)
	assert.Equal(t, last.MessageID, msg.ID)
	require.Len(t, msg.MultiModelResponses, 2)
	assert.Equal(t, "A", msg.MultiModelResponses[0].Model)
	assert.Equal(t, []model.Part{model.TextPart("Error: Failed to get response from A")}, msg.MultiModelResponses[0].Parts)
	assert.Equal(t, []model.Part{model.TextPart("ok")}, msg.MultiModelResponses[1].Parts)
	assert.False(t, msg.MultiModelResponses[0].Selected)
	assert.False(t, msg.MultiModelResponses[1].Selected)
}

func TestStreamMultiChat_RejectsDuplicates(t *testing.T) {
	f := newFixture(nil)
	_, _, err := f.svc.StreamMultiChat(context.Background(), model.MultiChatRequest{
		Prompt: "x",
		Models: []string{"A", "A"},
	})
	assert.ErrorIs(t, err, multimodel.ErrDuplicateModel)
}

func TestSelectModel(t *testing.T) {
	f := newFixture(map[string]*fakeModel{
		"A": {turns: [][]*schema.Message{{text("a")}}},
		"B": {turns: [][]*schema.Message{{text("b")}}},
	})
	chatID, ch, err := f.svc.StreamMultiChat(context.Background(), model.MultiChatRequest{Prompt: "x"})
	require.NoError(t, err)
	events := drain(ch)
	messageID := events[len(events)-1].MessageID

	req := model.SelectModelRequest{ChatID: chatID, MessageID: messageID, SelectedModel: "B"}
	for i := 0; i < 2; i++ {
		resp, err := f.svc.SelectModel(req)
		require.NoError(t, err)
		assert.Equal(t, "B", resp.SelectedModel)
	}

	session, err := f.store.GetSession(chatID)
	require.NoError(t, err)
	selected := 0
	for _, r := range session.Messages[1].MultiModelResponses {
		if r.Selected {
			selected++
			assert.Equal(t, "B", r.Model)
		} else {
			assert.False(t, r.Show)
		}
	}
	assert.Equal(t, 1, selected)

	_, err = f.svc.SelectModel(model.SelectModelRequest{ChatID: chatID, MessageID: "404", SelectedModel: "B"})
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	_, err = f.svc.SelectModel(model.SelectModelRequest{ChatID: chatID, MessageID: messageID, SelectedModel: "Z"})
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func comparisonModels() map[string]*fakeModel {
	return map[string]*fakeModel{
		"A": {turns: [][]*schema.Message{{text("answer a")}}},
		"B": {turns: [][]*schema.Message{{text("answer b")}}},
		"C": {turns: [][]*schema.Message{{text("answer c")}}},
	}
}

func TestCompare_PersistsWinner(t *testing.T) {
	f := newFixture(comparisonModels())
	f.judge.answer = `{"selectedOption":2,"reasoning":"most precise"}`

	resp, err := f.svc.Compare(context.Background(), model.CompareRequest{
		Prompt:       "Explain TCP",
		Instructions: "prefer brevity",
	})
	require.NoError(t, err)
	assert.Equal(t, "B", resp.ComparisonResult.SelectedModel)
	assert.Equal(t, "most precise", resp.ComparisonResult.Reasoning)
	assert.Equal(t, []string{"A", "B", "C"}, resp.ComparisonResult.AllModels)

	assert.Equal(t, "J", f.judge.req.Model)
	assert.Contains(t, f.judge.req.Prompt, "prefer brevity")
	assert.Contains(t, f.judge.req.Prompt, "Option 3:\nanswer c")

	session, err := f.store.GetSession(resp.ChatID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	winner := session.Messages[1]
	assert.Equal(t, []model.Part{model.TextPart("answer b")}, winner.Parts)
	require.NotNil(t, winner.Metadata)
	assert.Equal(t, "B", winner.Metadata.SelectedModel)
	assert.Equal(t, []string{"A", "B", "C"}, winner.Metadata.ComparedModels)
}

func TestCompare_JudgeFailures(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		err    error
	}{
		{name: "out of range", answer: `{"selectedOption":4,"reasoning":"?"}`},
		{name: "zero", answer: `{"selectedOption":0,"reasoning":"?"}`},
		{name: "malformed", err: provider.ErrStructuredOutput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(comparisonModels())
			f.judge.answer = tc.answer
			f.judge.err = tc.err

			session, err := f.svc.CreateSession("")
			require.NoError(t, err)
			_, err = f.svc.Compare(context.Background(), model.CompareRequest{Prompt: "x", ChatID: session.ID})
			assert.ErrorIs(t, err, ErrJudgeOutput)

			got, err := f.store.GetSession(session.ID)
			require.NoError(t, err)
			assert.Len(t, got.Messages, 1)
		})
	}
}

func TestCompare_CandidateFailure(t *testing.T) {
	models := comparisonModels()
	models["C"].err = errors.New("timeout")
	f := newFixture(models)
	f.judge.answer = `{"selectedOption":1,"reasoning":"-"}`

	_, err := f.svc.Compare(context.Background(), model.CompareRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrCandidateFailed)
}

func TestCompare_NeedsThreeModels(t *testing.T) {
	f := newFixture(comparisonModels())
	f.svc.cfg.Models.Comparison = []string{"A", "B"}
	_, err := f.svc.Compare(context.Background(), model.CompareRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrComparisonModels)
}

func TestSessionCRUD(t *testing.T) {
	f := newFixture(nil)
	a, err := f.svc.CreateSession("  Groceries ")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", a.Title)
	_, err = f.svc.CreateSession("")
	require.NoError(t, err)

	renamed, err := f.svc.RenameSession(a.ID, "Shopping")
	require.NoError(t, err)
	assert.Equal(t, "Shopping", renamed.Title)

	list, err := f.svc.ListSessions()
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	health, err := f.svc.Health()
	require.NoError(t, err)
	assert.Equal(t, 2, health.Sessions)

	require.NoError(t, f.svc.DeleteSession(a.ID))
	list, err = f.svc.ListSessions()
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.DeleteSession(list[0].ID), storage.ErrLastSession)
	assert.ErrorIs(t, f.svc.DeleteSession("missing"), storage.ErrSessionNotFound)
}

func TestCleanupExpired_KeepsLastSession(t *testing.T) {
	f := newFixture(nil)
	old := time.Now().Add(-2 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.store.CreateSession(&model.Session{ID: id, Title: id, CreatedAt: old, UpdatedAt: old}))
	}
	fresh := time.Now()
	require.NoError(t, f.store.CreateSession(&model.Session{ID: "fresh", Title: "fresh", CreatedAt: fresh, UpdatedAt: fresh}))

	assert.Equal(t, 3, f.svc.CleanupExpired())
	list, err := f.svc.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)

	f.svc.now = func() time.Time { return fresh.Add(24 * time.Hour) }
	assert.Equal(t, 0, f.svc.CleanupExpired())
	list, err = f.svc.ListSessions()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
