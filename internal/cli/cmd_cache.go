// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type cacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Invalidations int64   `json:"invalidations"`
	Evictions     int64   `json:"evictions"`
	Size          int     `json:"size"`
	HitRate       float64 `json:"hit_rate"`
}

type flushResult struct {
	Removed int `json:"removed"`
}

type integrityResult struct {
	UserID     string `json:"user_id"`
	Consistent bool   `json:"consistent"`
}

func newCacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Administer the tenant context cache",
	}
	cmd.AddCommand(newCacheStatsCmd(opts))
	cmd.AddCommand(newCacheFlushCmd(opts))
	cmd.AddCommand(newCacheValidateCmd(opts))
	return cmd
}

func newCacheStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit, miss and size counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s cacheStats
			if err := opts.client().Do(cmd.Context(), http.MethodGet, "/tenant/cache/stats", nil, nil, &s); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			return writeFields(cmd.OutOrStdout(), []field{
				{"Size", strconv.Itoa(s.Size)},
				{"Hits", strconv.FormatInt(s.Hits, 10)},
				{"Misses", strconv.FormatInt(s.Misses, 10)},
				{"Hit rate", fmt.Sprintf("%.1f%%", s.HitRate*100)},
				{"Sets", strconv.FormatInt(s.Sets, 10)},
				{"Invalidations", strconv.FormatInt(s.Invalidations, 10)},
				{"Evictions", strconv.FormatInt(s.Evictions, 10)},
			})
		},
	}
}

func newCacheFlushCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Remove every cached tenant context (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res flushResult
			if err := opts.client().Do(cmd.Context(), http.MethodPost, "/tenant/cache/flush", nil, nil, &res); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", res.Removed)
			return err
		},
	}
}

func newCacheValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <user-id>",
		Short: "Check a user's cached contexts against their location group (admin)",
		Long: `Check every cached context of a user against the user's current
location group. An inconsistency is raised as a security event on the server
and the command exits with an error; "cache flush" clears the entries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res integrityResult
			path := "/tenant/cache/validate/" + url.PathEscape(args[0])
			if err := opts.client().Do(cmd.Context(), http.MethodPost, path, nil, nil, &res); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else if res.Consistent {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Cache for %s is consistent.\n", args[0]); err != nil {
					return err
				}
			}
			if !res.Consistent {
				return fmt.Errorf("cache for %s is inconsistent with its location group", args[0])
			}
			return nil
		},
	}
}
