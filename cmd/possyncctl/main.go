// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Command possyncctl is the administrative client for a POSSync server.
package main

import (
	"fmt"
	"os"

	"github.com/tomtom215/possync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
