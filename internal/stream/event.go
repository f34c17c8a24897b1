package stream

// Kind is the decoded type of a chat event.
type Kind string

const (
	KindTextDelta        Kind = "text-delta"
	KindToolCallStart    Kind = "tool-call-start"
	KindToolCallComplete Kind = "tool-call-complete"
	KindToolResult       Kind = "tool-result"

	// Multi-model framing.
	KindModelComplete Kind = "model-complete"
	KindModelError    Kind = "model-error"
	KindComplete      Kind = "complete"

	KindError Kind = "error"
)

// Event is one decoded chat event. Model is set when the event belongs to one
// model of a multi-model stream.
type Event struct {
	Kind  Kind
	Model string

	// Text carries the delta of a text event or the message of an error event.
	Text string

	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     any

	MessageID string
	ChatID    string
}

func TextDelta(delta string) Event {
	return Event{Kind: KindTextDelta, Text: delta}
}

func ToolCallStart(id, name string) Event {
	return Event{Kind: KindToolCallStart, ToolCallID: id, ToolName: name, Args: map[string]any{}}
}

func ToolCallComplete(id, name string, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{Kind: KindToolCallComplete, ToolCallID: id, ToolName: name, Args: args}
}

func ToolResult(id string, result any) Event {
	return Event{Kind: KindToolResult, ToolCallID: id, Result: result}
}

func ModelComplete(model string) Event {
	return Event{Kind: KindModelComplete, Model: model}
}

func ModelError(model, msg string) Event {
	return Event{Kind: KindModelError, Model: model, Text: msg}
}

func Complete(messageID, chatID string) Event {
	return Event{Kind: KindComplete, MessageID: messageID, ChatID: chatID}
}

func Error(msg string) Event {
	return Event{Kind: KindError, Text: msg}
}

// WithModel returns a copy of e tagged with model.
func (e Event) WithModel(model string) Event {
	e.Model = model
	return e
}

// Frame renders e in the wire shape the decoder reads back.
func (e Event) Frame() map[string]any {
	f := map[string]any{}
	switch e.Kind {
	case KindTextDelta:
		f["type"] = "text-delta"
		f["delta"] = e.Text
	case KindToolCallStart:
		f["type"] = "tool-input-start"
		f["toolCallId"] = e.ToolCallID
		f["toolName"] = e.ToolName
	case KindToolCallComplete:
		f["type"] = "tool-input-available"
		f["toolCallId"] = e.ToolCallID
		f["toolName"] = e.ToolName
		f["input"] = e.Args
	case KindToolResult:
		f["type"] = "tool-output-available"
		f["toolCallId"] = e.ToolCallID
		f["output"] = e.Result
	case KindModelComplete:
		f["type"] = "model-complete"
	case KindModelError:
		f["type"] = "model-error"
		f["error"] = e.Text
	case KindComplete:
		f["type"] = "complete"
		f["messageId"] = e.MessageID
		f["chatId"] = e.ChatID
	case KindError:
		f["type"] = "error"
		f["error"] = e.Text
	}
	if e.Model != "" {
		f["model"] = e.Model
	}
	return f
}
