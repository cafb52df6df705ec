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

	"github.com/tomtom215/possync/internal/models"
)

// tenantStatus is the /status payload: the status row plus breaker state.
type tenantStatus struct {
	models.TenantSyncStatus
	State string `json:"state"`
}

// decision is the /can-sync payload.
type decision struct {
	Allowed       bool   `json:"allowed"`
	State         string `json:"state"`
	Reason        string `json:"reason,omitempty"`
	NextAllowedAt string `json:"next_allowed_at,omitempty"`
	Resumed       bool   `json:"resumed,omitempty"`
}

// runResult is the /run payload.
type runResult struct {
	Allowed             bool                 `json:"allowed"`
	Reason              string               `json:"reason,omitempty"`
	AttemptID           string               `json:"attempt_id,omitempty"`
	Status              models.AttemptStatus `json:"status,omitempty"`
	Counts              models.SyncCounts    `json:"counts"`
	DurationMs          int64                `json:"duration_ms"`
	ErrorKind           string               `json:"error_kind,omitempty"`
	ErrorCode           string               `json:"error_code,omitempty"`
	ErrorMessage        string               `json:"error_message,omitempty"`
	ShouldRetry         bool                 `json:"should_retry"`
	NextRetryAt         string               `json:"next_retry_at,omitempty"`
	IsPaused            bool                 `json:"is_paused"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
}

func tenantPath(tenantID, action string) string {
	return "/sync/tenants/" + url.PathEscape(tenantID) + "/" + action
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Show a tenant's sync status and breaker state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st tenantStatus
			if err := opts.client().Do(cmd.Context(), http.MethodGet, tenantPath(args[0], "status"), nil, nil, &st); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			if st.TenantID == "" {
				st.TenantID = args[0]
			}
			return writeFields(cmd.OutOrStdout(), statusFields(&st.TenantSyncStatus, st.State))
		},
	}
}

func newLogsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit  int
		status string
	)

	cmd := &cobra.Command{
		Use:   "logs <tenant-id>",
		Short: "List a tenant's sync attempts, newest first",
		Long: `List a tenant's sync attempts, newest first.

Examples:
  possyncctl logs tenant-42
  possyncctl logs tenant-42 --limit 10 --status error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if status != "" {
				if _, err := models.ParseAttemptStatus(status); err != nil {
					return err
				}
				query.Set("status", status)
			}

			var attempts []models.SyncAttempt
			if err := opts.client().Do(cmd.Context(), http.MethodGet, tenantPath(args[0], "logs"), query, nil, &attempts); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), attempts)
			}
			return writeAttempts(cmd.OutOrStdout(), attempts)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum attempts to list (server default 50, at most 500)")
	cmd.Flags().StringVar(&status, "status", "", "Only attempts with this status (success, error, retry, paused)")
	return cmd
}

func newCanSyncCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "can-sync <tenant-id>",
		Short: "Ask whether a sync is currently allowed for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d decision
			if err := opts.client().Do(cmd.Context(), http.MethodGet, tenantPath(args[0], "can-sync"), nil, nil, &d); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			fields := []field{
				{"Allowed", strconv.FormatBool(d.Allowed)},
				{"State", d.State},
			}
			if d.Reason != "" {
				fields = append(fields, field{"Reason", d.Reason})
			}
			if d.NextAllowedAt != "" {
				fields = append(fields, field{"Next allowed", d.NextAllowedAt})
			}
			return writeFields(cmd.OutOrStdout(), fields)
		},
	}
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <tenant-id>",
		Short: "Resume a paused tenant (admin)",
		Long: `Resume a paused tenant. This clears the pause and the consecutive
failure count regardless of the cooldown. Requires the admin role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st tenantStatus
			if err := opts.client().Do(cmd.Context(), http.MethodPost, tenantPath(args[0], "resume"), nil, nil, &st); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s resumed.\n", args[0])
			return err
		},
	}
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		posType   string
		operation string
	)

	cmd := &cobra.Command{
		Use:   "run <tenant-id>",
		Short: "Run one sync attempt for a tenant",
		Long: `Run one sync attempt for a tenant through the reliability engine.

A paused tenant is not synced; the result reports why and when the next
attempt is allowed.

Examples:
  possyncctl run tenant-42 --pos square
  possyncctl run tenant-42 --pos toast --op fetch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := models.ParseOperation(operation); err != nil {
				return err
			}
			body := map[string]string{"pos_type": posType, "operation": operation}

			var res runResult
			if err := opts.client().Do(cmd.Context(), http.MethodPost, tenantPath(args[0], "run"), nil, body, &res); err != nil {
				return err
			}
			if opts.output == FormatJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeFields(cmd.OutOrStdout(), runFields(&res))
		},
	}

	cmd.Flags().StringVar(&posType, "pos", "", "POS type of the adapter to run (required)")
	cmd.Flags().StringVar(&operation, "op", string(models.OperationSync), "Operation (fetch, map, sync, auth, retry)")
	_ = cmd.MarkFlagRequired("pos")
	return cmd
}

func runFields(res *runResult) []field {
	if !res.Allowed {
		fields := []field{{"Allowed", "false"}, {"Paused", strconv.FormatBool(res.IsPaused)}}
		if res.Reason != "" {
			fields = append(fields, field{"Reason", res.Reason})
		}
		return fields
	}
	fields := []field{
		{"Attempt", res.AttemptID},
		{"Status", string(res.Status)},
		{"Duration", strconv.FormatInt(res.DurationMs, 10) + "ms"},
		{"Records", fmt.Sprintf("%d processed, %d ok, %d failed",
			res.Counts.RecordsProcessed, res.Counts.RecordsSuccess, res.Counts.RecordsFailed)},
		{"Consecutive failures", strconv.Itoa(res.ConsecutiveFailures)},
	}
	if res.ErrorCode != "" {
		fields = append(fields, field{"Error", res.ErrorCode + ": " + res.ErrorMessage})
	}
	if res.ShouldRetry && res.NextRetryAt != "" {
		fields = append(fields, field{"Next retry", res.NextRetryAt})
	}
	if res.IsPaused {
		fields = append(fields, field{"Paused", "true"})
	}
	return fields
}
