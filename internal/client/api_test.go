package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat-backend/internal/model"
)

func TestAPI_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, nil, "prompt is required")
	}))
	defer srv.Close()
	api := NewAPI(srv.URL, time.Second)

	_, err := api.ListSessions(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "backend returned 400: prompt is required", apiErr.Error())

	_, err = api.Chat(context.Background(), model.ChatRequest{Prompt: ""})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "prompt is required", apiErr.Message)
}

func TestAPI_StreamReadsChatID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Chat-Id", "c-42")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"type\":\"text-delta\",\"delta\":\"hi\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	st, err := NewAPI(srv.URL, time.Second).Chat(context.Background(), model.ChatRequest{Prompt: "x"})
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, "c-42", st.ChatID)

	e, err := st.Next()
	require.NoError(t, err)
	assert.Equal(t, "hi", e.Text)
}

func TestAPI_CallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeEnvelope(w, http.StatusOK, []model.SessionSummary{}, "")
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL, 10*time.Millisecond).ListSessions(context.Background())
	assert.Error(t, err)
}
