package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/chatgate/internal/router"
)

func newRouteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "route <prompt>",
		Short: "Show the model and token cap a prompt would get, without calling the LLM",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")
			decision := router.New(cfg.Router).Route(prompt)
			guard, err := newGuard(cfg)
			if err != nil {
				return err
			}
			budget, err := describeBudget(guard, cfg.Chat.SystemPrompt, prompt, decision.Model)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:      %s\n", decision.Model)
			fmt.Fprintf(out, "rule:       %s\n", decision.Rule)
			fmt.Fprintf(out, "words:      %d\n", decision.Words)
			fmt.Fprintf(out, "max_tokens: %s\n", budget)
			return nil
		},
	}
}
