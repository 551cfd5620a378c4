package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/chatgate/internal/chat"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	var sessionID, title string
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt through the configured LLM and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// Logs go to stderr so the reply stays clean on stdout.
			logger, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			res, err := a.service.HandleTurn(ctx, chat.TurnRequest{
				SessionID: sessionID,
				Title:     title,
				Prompt:    strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			return printTurn(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: new session)")
	cmd.Flags().StringVar(&title, "title", "", "title recorded when the session is created")
	return cmd
}

func printTurn(w io.Writer, res *chat.TurnResult) error {
	if res.BudgetExceeded {
		return errors.New(res.Error)
	}
	fmt.Fprintln(w, res.Reply)
	fmt.Fprintf(w, "\n[session %s, model %s]\n", res.SessionID, res.Model)
	return nil
}
