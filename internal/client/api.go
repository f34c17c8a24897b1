// Package client talks to the chat backend and keeps the local session state
// a front end renders from.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"aichat-backend/internal/model"
	"aichat-backend/internal/stream"
)

const chatIDHeader = "X-Chat-Id"

// APIError is a non-2xx answer of the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

type API struct {
	client  *resty.Client
	timeout time.Duration
}

// NewAPI builds a client for baseURL. timeout bounds the non-streaming calls
// only; streams live as long as their context.
func NewAPI(baseURL string, timeout time.Duration) *API {
	return &API{
		client:  resty.New().SetBaseURL(baseURL).SetHeader("Accept", "application/json"),
		timeout: timeout,
	}
}

func (a *API) request(ctx context.Context) (*resty.Request, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if a.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
	}
	return a.client.R().SetContext(ctx), cancel
}

func call[T any](a *API, ctx context.Context, method, url string, body any) (T, error) {
	var zero T
	req, cancel := a.request(ctx)
	defer cancel()

	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	res, err := req.Execute(method, url)
	if err != nil {
		return zero, err
	}

	var env envelope[T]
	if jsonErr := json.Unmarshal(res.Body(), &env); jsonErr != nil && res.IsSuccess() {
		return zero, fmt.Errorf("decode %s %s: %w", method, url, jsonErr)
	}
	if !res.IsSuccess() || !env.Success {
		return zero, &APIError{Status: res.StatusCode(), Message: env.Message}
	}
	return env.Data, nil
}

func (a *API) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	return call[[]model.SessionSummary](a, ctx, http.MethodGet, "/api/chats", nil)
}

func (a *API) CreateSession(ctx context.Context, title string) (*model.Session, error) {
	s, err := call[model.Session](a, ctx, http.MethodPost, "/api/chats", model.CreateSessionRequest{Title: title})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *API) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s, err := call[model.Session](a, ctx, http.MethodGet, "/api/chats/"+id, nil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *API) DeleteSession(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](a, ctx, http.MethodDelete, "/api/chats/"+id, nil)
	return err
}

func (a *API) RenameSession(ctx context.Context, id, title string) error {
	_, err := call[json.RawMessage](a, ctx, http.MethodPut, "/api/chats/"+id, model.RenameSessionRequest{Title: title})
	return err
}

func (a *API) Compare(ctx context.Context, req model.CompareRequest) (*model.CompareResponse, error) {
	resp, err := call[model.CompareResponse](a, ctx, http.MethodPost, "/api/chat/compare", req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) SelectModel(ctx context.Context, req model.SelectModelRequest) (*model.SelectModelResponse, error) {
	resp, err := call[model.SelectModelResponse](a, ctx, http.MethodPost, "/api/chat/select", req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream is an open reply stream.
type Stream struct {
	// ChatID is the session the backend writes the reply into.
	ChatID string
	body   io.ReadCloser
	dec    *stream.Decoder
}

// Next returns the next event, or io.EOF once the backend closed the stream.
func (s *Stream) Next() (stream.Event, error) {
	return s.dec.Next()
}

func (s *Stream) Close() error {
	return s.body.Close()
}

func (a *API) Chat(ctx context.Context, req model.ChatRequest) (*Stream, error) {
	return a.openStream(ctx, "/api/chat", req)
}

func (a *API) MultiChat(ctx context.Context, req model.MultiChatRequest) (*Stream, error) {
	return a.openStream(ctx, "/api/chat/multi", req)
}

func (a *API) openStream(ctx context.Context, url string, body any) (*Stream, error) {
	res, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(url)
	if err != nil {
		return nil, err
	}

	raw := res.RawBody()
	if !res.IsSuccess() {
		defer raw.Close()
		var env envelope[json.RawMessage]
		data, _ := io.ReadAll(io.LimitReader(raw, 1<<16))
		_ = json.Unmarshal(data, &env)
		return nil, &APIError{Status: res.StatusCode(), Message: env.Message}
	}
	if raw == nil {
		return nil, errors.New("backend returned no stream body")
	}

	return &Stream{
		ChatID: res.Header().Get(chatIDHeader),
		body:   raw,
		dec:    stream.NewDecoder(raw),
	}, nil
}
