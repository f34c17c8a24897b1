// Package multimodel fans one prompt out to several models and folds their
// tagged event streams into a single multi-model message.
package multimodel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"aichat-backend/internal/model"
	"aichat-backend/internal/reducer"
	"aichat-backend/internal/stream"
	"aichat-backend/pkg/logger"
)

var (
	ErrNoModels       = errors.New("at least one model is required")
	ErrDuplicateModel = errors.New("duplicate model")
)

// Source produces the event stream of one model. Events passed to emit need
// not carry a model tag; the orchestrator adds it.
type Source func(ctx context.Context, modelID string, emit func(stream.Event)) error

// Finalize persists the assembled message before the completion event goes out.
type Finalize func(msg *model.Message) error

type Request struct {
	ChatID    string
	MessageID string
	Models    []string
}

type Result struct {
	Message *model.Message
	// Errors holds the failure of every model that did not finish cleanly.
	Errors map[string]error
}

type Orchestrator struct {
	source Source
}

func New(source Source) *Orchestrator {
	return &Orchestrator{source: source}
}

// Run streams every model concurrently and waits for all of them. A failing
// model gets an error placeholder and never aborts its siblings. emit receives
// events one at a time, in arrival order per model.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit func(stream.Event), finalize Finalize) (*Result, error) {
	if err := ValidateModels(req.Models); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:                  req.MessageID,
		Role:                model.RoleAssistant,
		Parts:               []model.Part{},
		IsMultiModel:        true,
		MultiModelResponses: make([]model.ModelResponse, 0, len(req.Models)),
		CreatedAt:           time.Now(),
	}
	for _, m := range req.Models {
		msg.MultiModelResponses = append(msg.MultiModelResponses, model.ModelResponse{
			Model: m,
			Parts: []model.Part{},
			Show:  true,
		})
	}

	var (
		mu   sync.Mutex
		errs = map[string]error{}
	)
	deliver := func(e stream.Event) {
		mu.Lock()
		defer mu.Unlock()
		reducer.ApplyToMessage(msg, e)
		if emit != nil {
			emit(e)
		}
	}

	var wg conc.WaitGroup
	for _, m := range req.Models {
		wg.Go(func() {
			err := o.runOne(ctx, m, deliver)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"model":      m,
					"message_id": req.MessageID,
				}).Warnf("model stream failed: %v", err)

				mu.Lock()
				errs[m] = err
				mu.Unlock()
				deliver(stream.ModelError(m, err.Error()))
			}
			deliver(stream.ModelComplete(m))
		})
	}
	wg.Wait()

	if finalize != nil {
		if err := finalize(msg); err != nil {
			if emit != nil {
				emit(stream.Error(err.Error()))
			}
			return nil, fmt.Errorf("finalize multi-model message: %w", err)
		}
	}
	if emit != nil {
		emit(stream.Complete(msg.ID, req.ChatID))
	}

	return &Result{Message: msg, Errors: errs}, nil
}

// runOne isolates a single model: a panic in its source is reported as that model's error.
func (o *Orchestrator) runOne(ctx context.Context, modelID string, deliver func(stream.Event)) error {
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() {
		err = o.source(ctx, modelID, func(e stream.Event) {
			deliver(e.WithModel(modelID))
		})
	})
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

// ValidateModels rejects an empty model list and repeated model ids.
func ValidateModels(models []string) error {
	if len(models) == 0 {
		return ErrNoModels
	}
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if _, ok := seen[m]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, m)
		}
		seen[m] = struct{}{}
	}
	return nil
}
