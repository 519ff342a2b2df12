package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/glance/config"
	"github.com/mohammad-safakhou/glance/internal/copilot"
	"github.com/mohammad-safakhou/glance/internal/telemetry"
	"github.com/mohammad-safakhou/glance/provider"
	"github.com/mohammad-safakhou/glance/session"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var sessionID string
	var outFile string
	var ask = &cobra.Command{
		Use:   "ask [message]",
		Short: "Run a single copilot turn and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()
			if cfg.General.DefaultTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.General.DefaultTimeout)
				defer cancel()
			}

			tele := telemetry.NewTelemetry(cfg.Telemetry)
			sessions, err := session.NewStore(ctx, cfg.Session)
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			prov, err := provider.NewProvider(cfg.LLM, tele)
			if err != nil {
				return fmt.Errorf("llm provider: %w", err)
			}
			cop := copilot.New(*cfg, sessions, prov, tele)

			res, err := cop.Chat(ctx, sessionID, args[0], copilot.Overrides{})
			if err != nil {
				return err
			}

			fmt.Println(res.Markdown)
			if res.Warning != "" {
				fmt.Fprintf(os.Stderr, "warning: %s\n", res.Warning)
			}
			if res.Dashboard != nil && outFile != "" {
				if err := os.WriteFile(outFile, []byte(res.Dashboard.Content), 0o644); err != nil {
					return fmt.Errorf("write dashboard: %w", err)
				}
				fmt.Fprintf(os.Stderr, "dashboard written to %s\n", outFile)
			}
			fmt.Fprintf(os.Stderr, "session: %s tokens: %d cost: %.4f\n", res.SessionID, res.TokensUsed, res.Cost)
			return nil
		},
	}
	ask.Flags().StringVar(&sessionID, "session", "", "session id (empty starts a new session)")
	ask.Flags().StringVar(&outFile, "out", "", "write the dashboard HTML to this file")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}
