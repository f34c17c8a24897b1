package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aichat-backend/internal/client"
	"aichat-backend/internal/model"
	"aichat-backend/pkg/logger"
)

type options struct {
	server  string
	timeout time.Duration
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the chat backend from a terminal",
		Long: `Send prompts to one or several models, compare answers with a judge
and manage the stored conversations.

Examples:
  chat ask "What's 2+2?"
  chat multi --models gpt-4o,claude-3.5 "Explain goroutines"
  chat compare "Write a haiku about Go"
  chat sessions`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			return logger.InitWithOutput(level, "text", os.Stderr)
		},
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("CHAT_SERVER", "http://localhost:8080"), "backend base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout for non-streaming calls")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newAskCmd(opts),
		newMultiCmd(opts),
		newCompareCmd(opts),
		newPickCmd(opts),
		newSessionsCmd(opts),
		newShowCmd(opts),
		newNewCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printer logs store activity. Messages are printed once the command
// finishes and errors are returned by the command itself.
type printer struct{}

func (printer) OnSessions(s []model.SessionSummary) {
	logger.Debugf("%d sessions", len(s))
}

func (printer) OnMessages(id string, m []model.Message) {
	logger.Debugf("session %s now has %d messages", id, len(m))
}

func (printer) OnError(err error) {
	logger.Debugf("store error: %v", err)
}

// openStore loads the session list and selects sessionID when given.
func openStore(ctx context.Context, opts *options, sessionID string) (*client.Store, error) {
	store := client.NewStore(client.NewAPI(strings.TrimRight(opts.server, "/"), opts.timeout))
	store.Subscribe(printer{})
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	if sessionID != "" {
		if err := store.SelectSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// printLastReply prints the newest assistant message of sessionID.
func printLastReply(store *client.Store, sessionID string) {
	msgs := store.Messages(sessionID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			fmt.Println(renderMessage(msgs[i]))
			break
		}
	}
	fmt.Println(metaStyle.Render("session " + sessionID))
}
