package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/doctor"
)

func newDoctorCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput, offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, API key, tokenizer, store and network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loadErr := loadConfig(flags)
			var cfgPtr *config.Config
			if loadErr == nil {
				cfgPtr = &cfg
			}
			diag := doctor.Run(cmd.Context(), cfgPtr, doctor.Options{
				Version:     Version,
				LoadErr:     loadErr,
				SkipNetwork: offline,
			})

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(diag); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "chatgate doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
				fmt.Fprintf(out, "System: %s/%s (%s)\n---\n", diag.System.OS, diag.System.Arch, diag.System.Go)
				for _, res := range diag.Results {
					fmt.Fprintf(out, "[%s] %-14s %s\n", res.Status, res.Name+":", res.Message)
					if res.Detail != "" {
						fmt.Fprintf(out, "       %s\n", res.Detail)
					}
				}
			}
			if diag.Failed() {
				return errors.New("doctor found failing checks")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the DNS check")
	return cmd
}
