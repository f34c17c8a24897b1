package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// mcpResultHandler turns an MCP result flagged IsError into a Go error so the
// failure reaches the chat as a failed tool step instead of a normal output.
func mcpResultHandler(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
	if result == nil || !result.IsError {
		return result, nil
	}
	return nil, fmt.Errorf("mcp tool %s failed: %s", name, extractErrorMessage(result))
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	msg := ""
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok && text.Text != "" {
			msg = text.Text
			break
		}
		if text, ok := content.(*mcp.TextContent); ok && text.Text != "" {
			msg = text.Text
			break
		}
	}
	if msg == "" {
		return "tool reported an error without details"
	}
	return enhanceErrorMessage(msg)
}

// enhanceErrorMessage appends a short hint for failure classes the model can act on.
func enhanceErrorMessage(msg string) string {
	switch {
	case containsAny(msg, "permission denied", "access denied", "forbidden", "unauthorized", "eacces"):
		return msg + " (hint: the server refused access; do not retry with the same input)"
	case containsAny(msg, "no such file or directory", "enoent", "file not found", "cannot access"):
		return msg + " (hint: the path does not exist on the tool server; use a path relative to its working directory)"
	}
	return msg
}

func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
