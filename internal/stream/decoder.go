package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"aichat-backend/pkg/logger"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	readSize     = 4096
)

// LineBuffer splits arbitrarily chunked input into lines terminated by \n or
// \r\n, carrying the incomplete tail over to the next Feed.
type LineBuffer struct {
	carry []byte
}

func (b *LineBuffer) Feed(chunk []byte) []string {
	b.carry = append(b.carry, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(b.carry, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(b.carry[:i], []byte{'\r'})))
		b.carry = b.carry[i+1:]
	}
	// Compact so the backing array does not grow with the whole stream.
	if len(b.carry) == 0 {
		b.carry = nil
	} else {
		b.carry = append([]byte(nil), b.carry...)
	}
	return lines
}

// Flush returns whatever is left once the input has ended.
func (b *LineBuffer) Flush() (string, bool) {
	if len(b.carry) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(b.carry, []byte{'\r'}))
	b.carry = nil
	return line, true
}

// ParseLine turns one logical line into an event. Malformed input never
// fails: it falls back to a text delta carrying the raw payload.
func ParseLine(line string) (Event, bool) {
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return TextDelta(line), true
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" || payload == doneSentinel {
		return Event{}, false
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		logger.Debugf("stream: payload is not JSON, treating as text: %v", err)
		return TextDelta(payload), true
	}
	return parsePayload(v)
}

func parsePayload(v any) (Event, bool) {
	if s, ok := v.(string); ok {
		return TextDelta(s), true
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Event{}, false
	}

	e, ok := matchShape(obj)
	if !ok {
		return Event{}, false
	}
	if model, isString := obj["model"].(string); isString {
		e.Model = model
	}
	return e, true
}

// matchShape checks the known frame shapes in precedence order; the first match wins.
func matchShape(obj map[string]any) (Event, bool) {
	typ, _ := obj["type"].(string)
	id := stringField(obj, "toolCallId")
	name := stringField(obj, "toolName")

	if delta, ok := obj["delta"].(string); ok && typ == "text-delta" {
		return TextDelta(delta), true
	}
	switch typ {
	case "tool-input-available":
		return ToolCallComplete(id, name, argsOf(obj["input"])), true
	case "tool-input-start":
		return ToolCallStart(id, name), true
	case "tool-output-available":
		return ToolResult(id, obj["output"]), true
	}
	if delta, ok := obj["textDelta"].(string); ok && typ == "text-delta" {
		return TextDelta(delta), true
	}
	switch typ {
	case "tool-call":
		return ToolCallComplete(id, name, argsOf(obj["args"])), true
	case "tool-result":
		return ToolResult(id, obj["result"]), true
	case "model-complete":
		return ModelComplete(stringField(obj, "model")), true
	case "model-error":
		return ModelError(stringField(obj, "model"), stringField(obj, "error")), true
	case "complete":
		return Complete(stringField(obj, "messageId"), stringField(obj, "chatId")), true
	case "error":
		return Error(stringField(obj, "error")), true
	}
	return Event{}, false
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func argsOf(v any) map[string]any {
	switch a := v.(type) {
	case map[string]any:
		return a
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"value": a}
	}
}

// Decoder reads events from a byte stream. Only transport read errors are
// returned; the end of the stream is reported as io.EOF.
type Decoder struct {
	r       io.Reader
	lines   LineBuffer
	chunk   []byte
	pending []Event
	err     error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, chunk: make([]byte, readSize)}
}

func (d *Decoder) Next() (Event, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return Event{}, d.err
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			for _, line := range d.lines.Feed(d.chunk[:n]) {
				d.queue(line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if rest, ok := d.lines.Flush(); ok {
					d.queue(rest)
				}
				d.err = io.EOF
			} else {
				d.err = err
			}
		}
	}
	e := d.pending[0]
	d.pending = d.pending[1:]
	return e, nil
}

func (d *Decoder) queue(line string) {
	if e, ok := ParseLine(line); ok {
		d.pending = append(d.pending, e)
	}
}

// DecodeAll drains r. Events decoded before a transport error are returned with it.
func DecodeAll(r io.Reader) ([]Event, error) {
	d := NewDecoder(r)
	var events []Event
	for {
		e, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}
