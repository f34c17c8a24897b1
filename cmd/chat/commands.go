package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aichat-backend/internal/client"
)

func newAskCmd(opts *options) *cobra.Command {
	var (
		session string
		modelID string
		images  []string
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a prompt and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, opts, session)
			if err != nil {
				return err
			}
			id, err := store.SendPrompt(ctx, strings.Join(args, " "), session, client.SendOptions{
				Model:     modelID,
				ImageURLs: images,
			})
			printLastReply(store, id)
			return err
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session to continue (defaults to the most recent)")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "model id (defaults to the backend default)")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image URL to attach, repeatable")
	return cmd
}

func newMultiCmd(opts *options) *cobra.Command {
	var (
		session string
		models  []string
	)
	cmd := &cobra.Command{
		Use:   "multi <prompt>",
		Short: "Ask several models at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, opts, session)
			if err != nil {
				return err
			}
			id, err := store.SendMulti(ctx, strings.Join(args, " "), session, models)
			printLastReply(store, id)
			return err
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session to continue")
	cmd.Flags().StringSliceVar(&models, "models", nil, "comma separated model ids (defaults to the backend set)")
	return cmd
}

func newCompareCmd(opts *options) *cobra.Command {
	var (
		session      string
		instructions string
	)
	cmd := &cobra.Command{
		Use:   "compare <prompt>",
		Short: "Let three models answer and a judge pick the best",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, opts, session)
			if err != nil {
				return err
			}
			resp, err := store.Compare(ctx, strings.Join(args, " "), session, instructions)
			if err != nil {
				return err
			}
			fmt.Println(renderMessage(resp.Message))
			fmt.Println(metaStyle.Render(fmt.Sprintf("compared %s", strings.Join(resp.ComparisonResult.AllModels, ", "))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "session to continue")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra evaluation instructions for the judge")
	return cmd
}

func newPickCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pick <session-id> <message-id> <model>",
		Short: "Keep one answer of a multi-model reply",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, opts, args[0])
			if err != nil {
				return err
			}
			if err := store.SelectPreferred(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Println(metaStyle.Render(fmt.Sprintf("kept %s for %s", args[2], args[1])))
			return nil
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			fmt.Println(renderSessions(store.Sessions(), store.ActiveID()))
			return nil
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a whole conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			for _, m := range store.Messages(args[0]) {
				fmt.Println(renderMessage(m))
			}
			return nil
		},
	}
}

func newNewCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			s, err := store.NewSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(s.ID)
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts, "")
			if err != nil {
				return err
			}
			if err := store.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(metaStyle.Render("deleted " + args[0]))
			return nil
		},
	}
}
