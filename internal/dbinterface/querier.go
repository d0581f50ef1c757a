// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"strings"
)

// TxQuerier is satisfied by *sql.DB and *sql.Tx.
type TxQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Querier can also open transactions.
type Querier interface {
	TxQuerier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BuildQueryWithPlaceholders fills the single %s in template with rows groups
// of perRow placeholders, e.g. "(?,?),(?,?)".
func BuildQueryWithPlaceholders(template string, perRow, rows int) string {
	var group strings.Builder
	group.WriteByte('(')
	for i := range perRow {
		if i > 0 {
			group.WriteByte(',')
		}
		group.WriteByte('?')
	}
	group.WriteByte(')')
	g := group.String()

	var sb strings.Builder
	sb.Grow(rows * (len(g) + 1))
	for i := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g)
	}
	return strings.Replace(template, "%s", sb.String(), 1)
}

// inClause returns "(?,?,...)" with n placeholders.
func inClause(n int) string {
	return BuildQueryWithPlaceholders("%s", n, 1)
}
