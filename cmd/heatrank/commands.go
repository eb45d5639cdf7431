package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"heatrank/internal/app"
	"heatrank/plugins/heatrank"
)

const defaultConfigPath = "./config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "heatrank",
		Short:         "Maoyan heat rank poller and notifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  # Run the host (systemd aware)
  heatrank run --config /etc/heatrank/config.yaml

  # Fetch once and print what would be sent
  heatrank poll --dry-run

  # Print the plugin config schema
  heatrank schema`,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to config file (YAML or JSON)")

	root.AddCommand(newRunCmd(), newPollCmd(), newSchemaCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the host and keep polling on schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			return runHost(cmd.Context(), cfgPath)
		},
	}
}

func runHost(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(parent); err != nil {
		_ = a.Close()
		return fmt.Errorf("start: %w", err)
	}
	// Not running under systemd is not an error.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopAppStop
	select {
	case s := <-sigs:
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-parent.Done():
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func newPollCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch the ranking once and notify",
		Long: `Fetch the ranking once using the plugin config from the config file.
With --dry-run the formatted message is printed and nothing is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			payload, err := a.PollOnce(ctx, dryRun)
			if payload.Title != "" || payload.Body != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n", payload.Title, payload.Body)
			}
			if err != nil {
				if errors.Is(err, heatrank.ErrNotConfigured) {
					return fmt.Errorf("%w (check plugins.%s in %s)", err, heatrank.PluginName, cfgPath)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the message without sending it")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin config schema as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(heatrank.Schema())
		},
	}
}
