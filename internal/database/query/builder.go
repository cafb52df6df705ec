// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package query builds parameterized WHERE clauses for the SQL stores.
package query

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder accumulates AND-joined conditions and their arguments.
//
//	wb := query.NewWhereBuilder().
//		AddTenant(tenantID).
//		AddStatus("retry")
//	where, args := wb.BuildWithPrefix()
//	// WHERE tenant_id = ? AND status = ?
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates an empty builder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// AddClause adds a raw condition with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddTenant filters on tenant_id; an empty tenant adds nothing.
func (wb *WhereBuilder) AddTenant(tenantID string) *WhereBuilder {
	if tenantID == "" {
		return wb
	}
	return wb.AddClause("tenant_id = ?", tenantID)
}

// AddStatus filters on status; an empty status adds nothing.
func (wb *WhereBuilder) AddStatus(status string) *WhereBuilder {
	if status == "" {
		return wb
	}
	return wb.AddClause("status = ?", status)
}

// AddStartedBefore filters on started_at < cutoff.
func (wb *WhereBuilder) AddStartedBefore(cutoff time.Time) *WhereBuilder {
	return wb.AddClause("started_at < ?", cutoff)
}

// AddIn adds "column IN (?, ...)"; an empty list adds nothing.
func (wb *WhereBuilder) AddIn(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return wb.AddClause(fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args...)
}

// Build returns the joined conditions, or "1=1" when there are none.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns Build prefixed with "WHERE ".
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	where, args := wb.Build()
	return "WHERE " + where, args
}
