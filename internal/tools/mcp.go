package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	einoMcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"aichat-backend/internal/config"
	"aichat-backend/pkg/logger"
)

const defaultMCPTimeout = 30 * time.Second

// mcpServer is a connected MCP server and the tools it exposes.
type mcpServer struct {
	name  string
	cli   *client.Client
	tools []tool.BaseTool
}

func (s *mcpServer) Close() error {
	return s.cli.Close()
}

// connectMCP starts the client for one configured server, then performs the
// initialize handshake and lists its tools within the server's timeout. The
// SSE stream itself lives until the server is closed.
func connectMCP(ctx context.Context, cfg config.MCPServerConfig) (*mcpServer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMCPTimeout
	}

	cli, err := newMCPClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "aichat-" + cfg.Name,
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initRequest); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", cfg.Name, err)
	}

	tools, err := einoMcp.GetTools(ctx, &einoMcp.Config{
		Cli:                   cli,
		ToolNameList:          cfg.Tools,
		ToolCallResultHandler: mcpResultHandler,
	})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("list tools of mcp server %s: %w", cfg.Name, err)
	}

	return &mcpServer{name: cfg.Name, cli: cli, tools: tools}, nil
}

func newMCPClient(cfg config.MCPServerConfig) (*client.Client, error) {
	switch cfg.Transport {
	case "sse":
		cli, err := client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("create mcp client %s: %w", cfg.Name, err)
		}
		// The stream must outlive every call made through cli, so it is not
		// tied to the handshake context.
		if err := cli.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("start mcp client %s: %w", cfg.Name, err)
		}
		return cli, nil
	case "stdio":
		command, err := expandPath(cfg.Command)
		if err != nil {
			return nil, err
		}
		// stdio clients start their subprocess on creation.
		cli, err := client.NewStdioMCPClient(command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("create mcp client %s: %w", cfg.Name, err)
		}
		return cli, nil
	default:
		return nil, fmt.Errorf("mcp server %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}
}

// loadMCPServers connects every configured server. A server that fails is
// logged and skipped so one broken integration does not take the chat down.
func loadMCPServers(ctx context.Context, servers []config.MCPServerConfig) []*mcpServer {
	var out []*mcpServer
	for _, sc := range servers {
		s, err := connectMCP(ctx, sc)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"server":    sc.Name,
				"transport": sc.Transport,
			}).Warnf("mcp tools not available: %v", err)
			continue
		}
		logger.Infof("mcp server %s loaded %d tools", sc.Name, len(s.tools))
		out = append(out, s)
	}
	return out
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
