// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/models"
)

// Output formats accepted by --output.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// field is one row of a key/value table.
type field struct {
	key   string
	value string
}

func validateFormat(format string) error {
	if format != FormatTable && format != FormatJSON {
		return fmt.Errorf("unsupported format %q, must be one of: %s, %s", format, FormatTable, FormatJSON)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeFields prints fields as two aligned columns.
func writeFields(w io.Writer, fields []field) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, f := range fields {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", f.key, f.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writeAttempts(w io.Writer, attempts []models.SyncAttempt) error {
	if len(attempts) == 0 {
		_, err := fmt.Fprintln(w, "No sync attempts.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tPOS\tOPERATION\tSTATUS\tSTARTED\tDURATION\tRECORDS\tRETRY\tERROR"); err != nil {
		return err
	}
	for i := range attempts {
		a := &attempts[i]
		records := fmt.Sprintf("%d/%d", a.RecordsSuccess, a.RecordsProcessed)
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\t%d\t%s\n",
			a.ID, a.POSType, a.Operation, orDash(string(a.Status)), formatTime(&a.StartedAt),
			a.DurationMs, records, a.RetryCount, orDash(a.ErrorCode)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func statusFields(st *models.TenantSyncStatus, state string) []field {
	fields := []field{
		{"Tenant", st.TenantID},
		{"State", state},
		{"POS type", orDash(st.POSType)},
		{"Paused", strconv.FormatBool(st.IsPaused)},
		{"Consecutive failures", strconv.Itoa(st.ConsecutiveFailures)},
		{"Total syncs", strconv.FormatInt(st.TotalSyncs, 10)},
		{"Total failures", strconv.FormatInt(st.TotalFailures, 10)},
		{"Last sync", formatTime(st.LastSyncAt)},
		{"Last success", formatTime(st.LastSuccessAt)},
		{"Last failure", formatTime(st.LastFailureAt)},
	}
	if st.IsPaused {
		fields = append(fields,
			field{"Pause reason", orDash(st.PauseReason)},
			field{"Next allowed sync", formatTime(st.NextAllowedSyncAt)},
		)
	}
	if st.LastErrorCode != "" {
		fields = append(fields, field{"Last error", st.LastErrorCode + " (" + st.LastErrorKind + ")"})
	}
	return fields
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
