// Package main is the entry point for the tierllm CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/tierllm/internal/config"
	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tierllm",
		Short:         "Memory-pressure-adaptive local LLM runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("data-dir", "", "Persistent data directory")
	root.AddCommand(versionCmd(), startCmd(), chatCmd(), statusCmd(), configCmd(), initCmd(), serviceCmd())
	return root
}

// runParams builds app.RunParams from the persistent flags.
func runParams(cmd *cobra.Command) (app.RunParams, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	levelName, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return app.RunParams{}, fmt.Errorf("invalid --log-level %q: %w", levelName, err)
	}
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		LogLevel:   level,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("tierllm %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, mod := range mods {
				fmt.Printf("  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start tierllm with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), params)
		},
	}
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print memory classification, parameters and model state",
		Long: "Without --url, status provisions the configured modules and samples memory " +
			"locally without loading the model. With --url it queries a running gateway.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, _ := cmd.Flags().GetString("url")
			if url != "" {
				return remoteStatus(cmd.Context(), cmd.OutOrStdout(), url)
			}

			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			rt, err := app.Build(cmd.Context(), params)
			if err != nil {
				return err
			}
			defer rt.Close()

			m, err := rt.Manager()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m.Status())
		},
	}
	cmd.Flags().String("url", "", "Gateway base URL of a running instance, e.g. http://127.0.0.1:8090")
	return cmd
}

func remoteStatus(ctx context.Context, out io.Writer, base string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query gateway: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision modules without loading the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			params.ConfigPath = args[0]

			rt, err := app.Build(cmd.Context(), params)
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Printf("Configuration OK (%d modules)\n", len(rt.ModuleIDs))
			for _, id := range rt.ModuleIDs {
				marker := ""
				if id == config.ManagerModule {
					if m, err := rt.Manager(); err == nil {
						st := m.Status()
						marker = fmt.Sprintf(" (profile %s, dialect %s, tier %s)", st.Profile, st.Dialect, st.MemoryTier)
					}
				}
				fmt.Printf("  %s%s\n", id, marker)
			}
			return nil
		},
	})
	return cmd
}
