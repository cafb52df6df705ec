// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package cli implements possyncctl, the administrative command line client
// for a running POSSync server.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Environment variables read as flag defaults.
const (
	EnvServer = "POSSYNC_SERVER"
	EnvToken  = "POSSYNC_TOKEN"
)

const defaultServer = "http://localhost:8470"

// Version is set at build time with -ldflags.
var Version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func (o *globalOptions) client() *Client {
	return NewClient(o.server, o.token, o.timeout)
}

// NewRootCmd builds the command tree. out receives command output.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "possyncctl",
		Short: "Administer a POSSync server",
		Long: `possyncctl talks to the POSSync HTTP API.

Inspect a tenant's sync status and attempt journal, check whether a sync is
allowed, resume a paused tenant, trigger a sync, and administer the tenant
context cache.

The server and token default to $POSSYNC_SERVER and $POSSYNC_TOKEN. Use
"possyncctl token" to mint a token from the server's JWT secret.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateFormat(opts.output)
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr(EnvServer, defaultServer), "POSSync server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv(EnvToken), "Bearer token")
	flags.StringVarP(&opts.output, "output", "o", FormatTable, fmt.Sprintf("Output format (%s, %s)", FormatTable, FormatJSON))
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	_ = root.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{FormatTable, FormatJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newLogsCmd(opts))
	root.AddCommand(newCanSyncCmd(opts))
	root.AddCommand(newResumeCmd(opts))
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newCacheCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("possyncctl version %s\n", Version)
		},
	}
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd(os.Stdout).Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
