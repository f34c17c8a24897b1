// Package tools provides the capabilities a model may call during a chat turn.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"aichat-backend/internal/config"
	"aichat-backend/pkg/logger"
)

var ErrToolNotFound = errors.New("tool not found")

// Toolbox indexes invokable tools by name.
type Toolbox struct {
	infos   []*schema.ToolInfo
	byName  map[string]tool.InvokableTool
	servers []*mcpServer
}

// NewToolbox indexes ts. Tools that cannot be invoked directly are skipped;
// a later tool with a duplicate name is skipped too.
func NewToolbox(ctx context.Context, ts []tool.BaseTool) (*Toolbox, error) {
	tb := &Toolbox{byName: map[string]tool.InvokableTool{}}
	for _, t := range ts {
		if err := tb.add(ctx, t); err != nil {
			return nil, err
		}
	}
	return tb, nil
}

func (tb *Toolbox) add(ctx context.Context, t tool.BaseTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("read tool info: %w", err)
	}
	inv, ok := t.(tool.InvokableTool)
	if !ok {
		logger.Warnf("tool %s is not invokable, skipping", info.Name)
		return nil
	}
	if _, dup := tb.byName[info.Name]; dup {
		logger.Warnf("duplicate tool name %s, keeping the first", info.Name)
		return nil
	}
	tb.byName[info.Name] = inv
	tb.infos = append(tb.infos, info)
	return nil
}

// Load assembles the configured tool set: the clock always, Google tools when
// enabled, then every reachable MCP server.
func Load(ctx context.Context, cfg config.ToolsConfig) (*Toolbox, error) {
	ts := []tool.BaseTool{NewClockTool()}

	if cfg.Calendar.Enabled {
		cal, err := NewCalendarTools(ctx, cfg.Calendar)
		if err != nil {
			return nil, err
		}
		ts = append(ts, cal...)
	}
	if cfg.Email.Enabled {
		mail, err := NewSendEmailTool(ctx, cfg.Email)
		if err != nil {
			return nil, err
		}
		ts = append(ts, mail)
	}

	servers := loadMCPServers(ctx, cfg.MCP)
	for _, s := range servers {
		ts = append(ts, s.tools...)
	}

	tb, err := NewToolbox(ctx, ts)
	if err != nil {
		for _, s := range servers {
			_ = s.Close()
		}
		return nil, err
	}
	tb.servers = servers
	logger.Infof("tool box ready with %d tools", tb.Len())
	return tb, nil
}

func (tb *Toolbox) Infos() []*schema.ToolInfo {
	if tb == nil {
		return nil
	}
	return tb.infos
}

func (tb *Toolbox) Len() int {
	if tb == nil {
		return 0
	}
	return len(tb.infos)
}

func (tb *Toolbox) Names() []string {
	names := make([]string, 0, tb.Len())
	for _, info := range tb.Infos() {
		names = append(names, info.Name)
	}
	return names
}

// Run invokes the named tool with JSON arguments.
func (tb *Toolbox) Run(ctx context.Context, name, argumentsInJSON string) (string, error) {
	if tb == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	t, ok := tb.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.InvokableRun(ctx, argumentsInJSON)
}

// Close disconnects MCP servers.
func (tb *Toolbox) Close() error {
	if tb == nil {
		return nil
	}
	var errs []error
	for _, s := range tb.servers {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mcp server %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
