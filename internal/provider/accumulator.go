package provider

import (
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// TurnAccumulator assembles one streamed assistant turn. Tool-call fragments
// are merged by their stream index; a fragment with a new id at a known index
// opens a separate call.
type TurnAccumulator struct {
	content strings.Builder
	calls   []*schema.ToolCall
	byIndex map[int]*schema.ToolCall
}

func NewTurnAccumulator() *TurnAccumulator {
	return &TurnAccumulator{byIndex: map[int]*schema.ToolCall{}}
}

// Add merges chunk and returns the tool calls whose id appeared for the first time.
func (a *TurnAccumulator) Add(chunk *schema.Message) []schema.ToolCall {
	if chunk == nil {
		return nil
	}
	a.content.WriteString(chunk.Content)

	var started []schema.ToolCall
	for i, tc := range chunk.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}

		cur, ok := a.byIndex[idx]
		if !ok || (tc.ID != "" && cur.ID != "" && tc.ID != cur.ID) {
			n := schema.ToolCall{Index: &idx, ID: tc.ID, Type: tc.Type}
			cur = &n
			a.byIndex[idx] = cur
			a.calls = append(a.calls, cur)
			if tc.ID != "" {
				started = append(started, *cur)
			}
		} else if cur.ID == "" && tc.ID != "" {
			cur.ID = tc.ID
			started = append(started, *cur)
		}

		if tc.Type != "" {
			cur.Type = tc.Type
		}
		if tc.Function.Name != "" {
			cur.Function.Name = tc.Function.Name
		}
		cur.Function.Arguments += tc.Function.Arguments

		for j := range started {
			if started[j].ID == cur.ID {
				started[j].Function.Name = cur.Function.Name
			}
		}
	}
	return started
}

func (a *TurnAccumulator) Content() string {
	return a.content.String()
}

// Message returns the assembled turn with tool calls in stream order.
func (a *TurnAccumulator) Message() *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: a.content.String()}
	calls := make([]*schema.ToolCall, len(a.calls))
	copy(calls, a.calls)
	sort.SliceStable(calls, func(i, j int) bool { return *calls[i].Index < *calls[j].Index })
	for _, c := range calls {
		tc := *c
		if tc.Type == "" {
			tc.Type = "function"
		}
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			tc.Function.Arguments = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return msg
}
