package stream

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	sent := []Event{
		TextDelta("Hello "),
		ToolCallStart("c1", "clock"),
		ToolCallComplete("c1", "clock", map[string]any{"tz": "UTC"}),
		ToolResult("c1", "12:00"),
		TextDelta("done").WithModel("A"),
		ModelError("B", "timeout"),
		ModelComplete("A"),
		Complete("m1", "s1"),
	}
	for _, e := range sent {
		require.NoError(t, w.Send(e))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	assert.True(t, strings.HasSuffix(rec.Body.String(), "[DONE]\n\n"))

	got, err := DecodeAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}
