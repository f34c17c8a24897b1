// Package reducer folds decoded stream events into message parts.
//
// Single-model and multi-model messages share one implementation: an event
// without a model tag mutates the message's own parts, a tagged event mutates
// the parts of that model's response.
package reducer

import (
	"fmt"

	"aichat-backend/internal/model"
	"aichat-backend/internal/stream"
)

// ApplyTextDelta appends delta to the trailing text part, or starts a new
// text part when the last part is anything else.
func ApplyTextDelta(parts []model.Part, delta string) []model.Part {
	if n := len(parts); n > 0 && parts[n-1].Type == model.PartText {
		parts[n-1].Text += delta
		return parts
	}
	return append(parts, model.TextPart(delta))
}

// ApplyToolCall upserts the tool-call part keyed by id. An existing part keeps
// its result; name and args are only overwritten when the event carries them.
func ApplyToolCall(parts []model.Part, id, name string, args map[string]any) []model.Part {
	if i := findToolCall(parts, id); i >= 0 {
		if name != "" {
			parts[i].ToolName = name
		}
		if args != nil {
			parts[i].Args = args
		}
		return parts
	}
	if args == nil {
		args = map[string]any{}
	}
	return append(parts, model.Part{
		Type:       model.PartToolCall,
		ToolCallID: id,
		ToolName:   name,
		Args:       args,
	})
}

// ApplyToolResult stores result on the matching tool-call part. Results for
// unknown ids are dropped.
func ApplyToolResult(parts []model.Part, id string, result any) []model.Part {
	if i := findToolCall(parts, id); i >= 0 {
		parts[i].Result = result
	}
	return parts
}

func findToolCall(parts []model.Part, id string) int {
	for i := range parts {
		if parts[i].Type == model.PartToolCall && parts[i].ToolCallID == id {
			return i
		}
	}
	return -1
}

// Apply folds one content event into parts. Framing events leave parts unchanged.
func Apply(parts []model.Part, e stream.Event) []model.Part {
	switch e.Kind {
	case stream.KindTextDelta:
		return ApplyTextDelta(parts, e.Text)
	case stream.KindToolCallStart, stream.KindToolCallComplete:
		return ApplyToolCall(parts, e.ToolCallID, e.ToolName, e.Args)
	case stream.KindToolResult:
		return ApplyToolResult(parts, e.ToolCallID, e.Result)
	}
	return parts
}

func Reduce(parts []model.Part, events []stream.Event) []model.Part {
	for _, e := range events {
		parts = Apply(parts, e)
	}
	return parts
}

// ModelErrorText is the placeholder that replaces a failed model's answer.
func ModelErrorText(modelID string) string {
	return fmt.Sprintf("Error: Failed to get response from %s", modelID)
}

// ApplyToMessage routes e to msg.Parts or, for model-tagged events, to the
// matching model response, creating it on first use.
func ApplyToMessage(msg *model.Message, e stream.Event) {
	if e.Model == "" {
		msg.Parts = Apply(msg.Parts, e)
		return
	}

	msg.IsMultiModel = true
	r := msg.Response(e.Model)
	if r == nil {
		msg.MultiModelResponses = append(msg.MultiModelResponses, model.ModelResponse{
			Model: e.Model,
			Parts: []model.Part{},
			Show:  true,
		})
		r = &msg.MultiModelResponses[len(msg.MultiModelResponses)-1]
	}

	if e.Kind == stream.KindModelError {
		r.Parts = []model.Part{model.TextPart(ModelErrorText(e.Model))}
		return
	}
	r.Parts = Apply(r.Parts, e)
}
