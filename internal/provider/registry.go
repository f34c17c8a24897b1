// Package provider resolves model identifiers to chat model backends.
//
// Identifiers prefixed with "ark:" or "qwen:" are served by the matching
// eino-ext model; everything else goes to the OpenAI-compatible aggregator.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"aichat-backend/internal/config"
	"aichat-backend/pkg/logger"
)

const (
	arkPrefix  = "ark:"
	qwenPrefix = "qwen:"
)

var (
	ErrUnknownModel          = errors.New("unknown model")
	ErrProviderNotConfigured = errors.New("provider not configured")
)

type Registry struct {
	cfg        *config.Config
	aggregator *openai.Client
	qwenClient *http.Client
}

func NewRegistry(cfg *config.Config) *Registry {
	clientConfig := openai.DefaultConfig(cfg.Aggregator.APIKey)
	clientConfig.BaseURL = cfg.Aggregator.BaseURL
	clientConfig.HTTPClient = newHTTPClient("aggregator", cfg.Aggregator.Timeout, cfg.Aggregator.DebugRequest, map[string]string{
		"HTTP-Referer": cfg.Aggregator.SiteURL,
		"X-Title":      cfg.Aggregator.SiteName,
	})

	return &Registry{
		cfg:        cfg,
		aggregator: openai.NewClientWithConfig(clientConfig),
		qwenClient: newHTTPClient("qwen", cfg.Qwen.Timeout, cfg.Aggregator.DebugRequest, nil),
	}
}

func (r *Registry) DefaultModel() string {
	return r.cfg.Aggregator.DefaultModel
}

// ChatModel builds a fresh model instance for modelID with tools bound. A new
// instance per call keeps tool bindings from leaking between requests.
func (r *Registry) ChatModel(ctx context.Context, modelID string, tools []*schema.ToolInfo) (einoModel.ChatModel, error) {
	if modelID == "" {
		modelID = r.DefaultModel()
	}

	var (
		m   einoModel.ChatModel
		err error
	)
	switch {
	case strings.HasPrefix(modelID, arkPrefix):
		m, err = r.newArkModel(ctx, strings.TrimPrefix(modelID, arkPrefix))
	case strings.HasPrefix(modelID, qwenPrefix):
		m, err = r.newQwenModel(ctx, strings.TrimPrefix(modelID, qwenPrefix))
	default:
		m = newAggregatorChatModel(r.aggregator, modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", modelID, err)
	}

	if len(tools) > 0 {
		if err := m.BindTools(tools); err != nil {
			return nil, fmt.Errorf("bind tools to %s: %w", modelID, err)
		}
	}
	return m, nil
}

func (r *Registry) newArkModel(ctx context.Context, name string) (einoModel.ChatModel, error) {
	if name == "" {
		return nil, ErrUnknownModel
	}
	if r.cfg.Ark.APIKey == "" {
		return nil, fmt.Errorf("ark: %w", ErrProviderNotConfigured)
	}
	logger.Debugf("creating ark model %s", name)

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: r.cfg.Ark.BaseURL,
		APIKey:  r.cfg.Ark.APIKey,
		Model:   name,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	})
}

func (r *Registry) newQwenModel(ctx context.Context, name string) (einoModel.ChatModel, error) {
	if name == "" {
		return nil, ErrUnknownModel
	}
	qc := r.cfg.Qwen
	if qc.APIKey == "" {
		return nil, fmt.Errorf("qwen: %w", ErrProviderNotConfigured)
	}
	logger.Debugf("creating qwen model %s at %s", name, qc.BaseURL)

	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     qc.BaseURL,
		APIKey:      qc.APIKey,
		Model:       name,
		MaxTokens:   &qc.MaxTokens,
		Temperature: &qc.Temperature,
		TopP:        &qc.TopP,
		Timeout:     qc.Timeout,
		HTTPClient:  r.qwenClient,
	})
}
