package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/cinemate/internal/app"
	"github.com/ent0n29/cinemate/internal/config"
	"github.com/ent0n29/cinemate/internal/logging"
)

var (
	logLevel string
	envFiles []string

	built *app.BuildResult

	rootCmd = &cobra.Command{
		Use:           "cinemate-cli",
		Short:         "Talk to the movie recommendation assistant from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := logging.New(logging.Config{Level: logLevel, Format: "console", Output: cmd.ErrOrStderr()})
			built, err = app.Build(cmd.Context(), cfg, logger)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if built == nil {
				return nil
			}
			return built.Cleanup()
		},
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), built.Engine, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	askCmd = &cobra.Command{
		Use:   "ask <movie> [questions...]",
		Short: "Research a movie, then ask follow-up questions about it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd.Context(), built.Engine, args, cmd.OutOrStdout())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env.local, .env)")
	rootCmd.AddCommand(chatCmd, askCmd)
}

func normalizeCommand(line string) string {
	return strings.ToLower(strings.TrimSpace(line))
}
