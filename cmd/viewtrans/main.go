// Command viewtrans runs the translation daemon and drives it over its
// HTTP API.
//
// Usage:
//
//	viewtrans run --config viewtrans.yaml      # run the daemon
//	viewtrans start docs --addr 127.0.0.1:8417 # start translating tab "docs"
//	viewtrans stop docs                        # stop it
//	viewtrans status                           # table of every tab
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/viewtrans/viewtrans"
)

var (
	addr      string
	logLevel  string
	logFormat string
	output    string
)

var rootCmd = &cobra.Command{
	Use:           "viewtrans",
	Short:         "Translate the visible text of browser tabs in place",
	Version:       viewtrans.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Example: `  # Run the daemon
  viewtrans run --config viewtrans.yaml

  # Start and stop translation of a tab
  viewtrans start docs
  viewtrans stop docs --addr 10.0.0.5:8417

  # Per-tab counters
  viewtrans status -o json`,
}

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: browser, sessions, HTTP and MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(os.Stderr, logFormat, logLevel)
			if err != nil {
				return err
			}

			cfg := viewtrans.DefaultConfig()
			if configPath != "" {
				if cfg, err = viewtrans.LoadConfigFile(configPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := viewtrans.NewDaemon(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("viewtrans: starting", "version", viewtrans.Version, "pages", len(cfg.Pages), "addr", cfg.HTTP.Addr)
			return d.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to viewtrans.yaml or .toml")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format: json or pretty")
	return cmd
}

func newTabCmd(use, short string, start bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tab-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(addr)
			st, err := c.Command(cmd.Context(), args[0], start)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), output, []viewtrans.Stats{st})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [tab-id]",
		Short: "Show the translation state of every tab, or of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(addr)
			var (
				tabs []viewtrans.Stats
				err  error
			)
			if len(args) == 1 {
				var st viewtrans.Stats
				st, err = c.Tab(cmd.Context(), args[0])
				tabs = []viewtrans.Stats{st}
			} else {
				tabs, err = c.Tabs(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), output, tabs)
		},
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&addr, "addr", "127.0.0.1:8417", "daemon HTTP address")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVarP(&output, "output", "o", "table", "output format: table or json")

	rootCmd.AddCommand(
		newRunCmd(),
		newTabCmd("start", "Start translating a tab", true),
		newTabCmd("stop", "Stop translating a tab", false),
		newStatusCmd(),
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "viewtrans:", err)
		os.Exit(1)
	}
}
