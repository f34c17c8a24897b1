package stream

import (
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"
)

// Writer emits events as `data: <json>` frames and flushes after each one.
// It is safe for concurrent use, so several producers may share one response.
type Writer struct {
	mu sync.Mutex
	w  http.ResponseWriter
}

func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w}
}

func (s *Writer) Send(e Event) error {
	return s.write(e.Frame())
}

func (s *Writer) write(data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sse.Encode(s.w, sse.Event{Data: data}); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Close writes the [DONE] sentinel. Readers must not depend on it.
func (s *Writer) Close() error {
	return s.write(doneSentinel)
}
