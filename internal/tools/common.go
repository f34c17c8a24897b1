package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// parseArgs decodes the model-supplied JSON arguments into dst and checks its
// validate tags. Empty input is treated as an empty object.
func parseArgs(argumentsInJSON string, dst any) error {
	if strings.TrimSpace(argumentsInJSON) == "" {
		argumentsInJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), dst); err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(b), nil
}

// ResultValue turns a tool's string output into the value stored on the
// tool-call part: decoded JSON when it parses, the raw string otherwise.
func ResultValue(output string) any {
	var v any
	if err := json.Unmarshal([]byte(output), &v); err != nil {
		return output
	}
	return v
}

// ErrorResult is the stored result of a tool call that failed.
func ErrorResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
