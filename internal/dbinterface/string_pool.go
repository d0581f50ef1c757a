// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// SQLite's default SQLITE_MAX_VARIABLE_NUMBER is 999.
const maxParams = 900

// InternStrings stores each value in string_pool once and returns the IDs in
// input order. Empty values are rejected.
func InternStrings(ctx context.Context, tx TxQuerier, values ...string) ([]int64, error) {
	if len(values) == 0 {
		return []int64{}, nil
	}

	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for i, v := range values {
		if v == "" {
			return nil, fmt.Errorf("value at index %d is empty", i)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}

	const queryTemplate = "INSERT OR IGNORE INTO string_pool (value) VALUES %s"
	for chunk := range slices.Chunk(unique, maxParams) {
		args := make([]any, len(chunk))
		for j, v := range chunk {
			args[j] = v
		}
		query := BuildQueryWithPlaceholders(queryTemplate, 1, len(chunk))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("failed to batch insert strings: %w", err)
		}
	}

	ids, err := GetStringID(ctx, tx, values...)
	if err != nil {
		return nil, err
	}

	result := make([]int64, len(ids))
	for i, id := range ids {
		if !id.Valid {
			return nil, fmt.Errorf("failed to get ID for interned string %q", values[i])
		}
		result[i] = id.Int64
	}
	return result, nil
}

// GetStringID looks values up without creating them. Missing and empty values
// come back as invalid.
func GetStringID(ctx context.Context, tx TxQuerier, values ...string) ([]sql.NullInt64, error) {
	results := make([]sql.NullInt64, len(values))
	if len(values) == 0 {
		return results, nil
	}

	if len(values) == 1 {
		if values[0] == "" {
			return results, nil
		}
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM string_pool WHERE value = ?", values[0]).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get string ID from pool: %w", err)
		}
		results[0] = sql.NullInt64{Int64: id, Valid: true}
		return results, nil
	}

	positions := make(map[string][]int, len(values))
	var lookup []string
	for i, v := range values {
		if v == "" {
			continue
		}
		if _, ok := positions[v]; !ok {
			lookup = append(lookup, v)
		}
		positions[v] = append(positions[v], i)
	}

	for chunk := range slices.Chunk(lookup, maxParams) {
		args := make([]any, len(chunk))
		for j, v := range chunk {
			args[j] = v
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, value FROM string_pool WHERE value IN "+inClause(len(chunk)), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query string pool: %w", err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan string pool row: %w", err)
			}
			for _, idx := range positions[value] {
				results[idx] = sql.NullInt64{Int64: id, Valid: true}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating string pool rows: %w", err)
		}
		rows.Close()
	}

	return results, nil
}

// GetString resolves IDs back to their values in input order.
func GetString(ctx context.Context, tx TxQuerier, ids ...int64) ([]string, error) {
	results := make([]string, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	positions := make(map[int64][]int, len(ids))
	var lookup []int64
	for i, id := range ids {
		if _, ok := positions[id]; !ok {
			lookup = append(lookup, id)
		}
		positions[id] = append(positions[id], i)
	}

	found := 0
	for chunk := range slices.Chunk(lookup, maxParams) {
		args := make([]any, len(chunk))
		for j, id := range chunk {
			args[j] = id
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, value FROM string_pool WHERE id IN "+inClause(len(chunk)), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query string pool: %w", err)
		}
		for rows.Next() {
			var id int64
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan string pool row: %w", err)
			}
			found++
			for _, idx := range positions[id] {
				results[idx] = value
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating string pool rows: %w", err)
		}
		rows.Close()
	}

	if found != len(lookup) {
		return nil, fmt.Errorf("failed to get string from pool: %d of %d ids missing", len(lookup)-found, len(lookup))
	}
	return results, nil
}
