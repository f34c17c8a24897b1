package model

import (
	"errors"
	"strconv"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartType string

const (
	PartText     PartType = "text"
	PartToolCall PartType = "tool-call"
	// PartToolResult only appears transiently while streaming; persisted results live on the tool-call part.
	PartToolResult PartType = "tool-result"
	PartImage      PartType = "image"
)

var ErrModelNotFound = errors.New("model response not found")

// Part is one unit of message content. Which fields are meaningful depends on Type.
type Part struct {
	Type PartType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool-call / tool-result
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     any            `json:"result,omitempty"`

	// image
	Image string `json:"image,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func ImagePart(url string) Part {
	return Part{Type: PartImage, Image: url}
}

// ModelResponse is one candidate answer of a multi-model message.
type ModelResponse struct {
	Model    string `json:"model"`
	Parts    []Part `json:"parts"`
	Show     bool   `json:"show"`
	Selected bool   `json:"selected"`
}

// ComparisonMetadata is attached to the winning message of a judged comparison.
type ComparisonMetadata struct {
	SelectedModel  string   `json:"selectedModel"`
	Reasoning      string   `json:"reasoning"`
	ComparedModels []string `json:"comparedModels"`
}

type Message struct {
	ID                  string              `json:"id"`
	Role                Role                `json:"role"`
	Parts               []Part              `json:"parts"`
	IsMultiModel        bool                `json:"isMultiModel,omitempty"`
	MultiModelResponses []ModelResponse     `json:"multiModelResponses,omitempty"`
	Metadata            *ComparisonMetadata `json:"metadata,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
}

// NewMessageIDs derives the user and assistant ids for one prompt from the
// same instant; the assistant id is offset by one so both stay distinct and ordered.
func NewMessageIDs(now time.Time) (userID, assistantID string) {
	ms := now.UnixMilli()
	return strconv.FormatInt(ms, 10), strconv.FormatInt(ms+1, 10)
}

// Response returns the candidate for modelID, or nil.
func (m *Message) Response(modelID string) *ModelResponse {
	for i := range m.MultiModelResponses {
		if m.MultiModelResponses[i].Model == modelID {
			return &m.MultiModelResponses[i]
		}
	}
	return nil
}

// SelectModel marks modelID as the preferred answer and hides every other
// candidate. Calling it again with the same model is a no-op.
func (m *Message) SelectModel(modelID string) error {
	if m.Response(modelID) == nil {
		return ErrModelNotFound
	}
	for i := range m.MultiModelResponses {
		r := &m.MultiModelResponses[i]
		chosen := r.Model == modelID
		r.Selected = chosen
		r.Show = chosen
	}
	return nil
}

// SelectedResponse returns the committed candidate of a multi-model message, if any.
func (m *Message) SelectedResponse() *ModelResponse {
	for i := range m.MultiModelResponses {
		if m.MultiModelResponses[i].Selected {
			return &m.MultiModelResponses[i]
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with m. Part args and results are
// treated as immutable once set, so they are shared.
func (m Message) Clone() Message {
	out := m
	out.Parts = cloneParts(m.Parts)
	if m.MultiModelResponses != nil {
		out.MultiModelResponses = make([]ModelResponse, len(m.MultiModelResponses))
		for i, r := range m.MultiModelResponses {
			r.Parts = cloneParts(r.Parts)
			out.MultiModelResponses[i] = r
		}
	}
	if m.Metadata != nil {
		md := *m.Metadata
		md.ComparedModels = append([]string(nil), m.Metadata.ComparedModels...)
		out.Metadata = &md
	}
	return out
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	copy(out, parts)
	return out
}
