package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multiMessage() *Message {
	return &Message{
		ID:           "m1",
		Role:         RoleAssistant,
		IsMultiModel: true,
		MultiModelResponses: []ModelResponse{
			{Model: "A", Parts: []Part{TextPart("a")}, Show: true},
			{Model: "B", Parts: []Part{TextPart("b")}, Show: true},
			{Model: "C", Parts: []Part{TextPart("c")}, Show: true},
		},
	}
}

func TestSelectModel(t *testing.T) {
	m := multiMessage()

	require.NoError(t, m.SelectModel("B"))
	require.NoError(t, m.SelectModel("B"))

	selected := 0
	for _, r := range m.MultiModelResponses {
		if r.Selected {
			selected++
			assert.Equal(t, "B", r.Model)
			assert.True(t, r.Show)
		} else {
			assert.False(t, r.Show)
		}
	}
	assert.Equal(t, 1, selected)
	assert.Equal(t, "B", m.SelectedResponse().Model)
}

func TestSelectModelSwitchesChoice(t *testing.T) {
	m := multiMessage()
	require.NoError(t, m.SelectModel("A"))
	require.NoError(t, m.SelectModel("C"))

	assert.False(t, m.Response("A").Selected)
	assert.False(t, m.Response("A").Show)
	assert.True(t, m.Response("C").Selected)
}

func TestSelectModelUnknown(t *testing.T) {
	m := multiMessage()
	assert.ErrorIs(t, m.SelectModel("Z"), ErrModelNotFound)
	for _, r := range m.MultiModelResponses {
		assert.False(t, r.Selected)
		assert.True(t, r.Show)
	}
}

func TestNewMessageIDs(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	user, assistant := NewMessageIDs(at)
	assert.Equal(t, "1700000000000", user)
	assert.Equal(t, "1700000000001", assistant)
}

func TestMessageCloneDetachesResponses(t *testing.T) {
	m := multiMessage()
	m.Metadata = &ComparisonMetadata{SelectedModel: "A", ComparedModels: []string{"A", "B", "C"}}
	c := m.Clone()

	c.MultiModelResponses[0].Parts[0].Text = "x"
	c.Metadata.ComparedModels[0] = "Z"

	assert.Equal(t, "a", m.MultiModelResponses[0].Parts[0].Text)
	assert.Equal(t, "A", m.Metadata.ComparedModels[0])
}
