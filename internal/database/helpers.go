// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
)

// scanFunc is a function that scans a single row into a result type
type scanFunc[T any] func(*sql.Rows) (T, error)

// queryAndScan executes a query and scans all rows using the provided scan function
func queryAndScan[T any](ctx context.Context, db *sql.DB, query string, args []interface{}, scan scanFunc[T]) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// marshalJSONField marshals a value for storage in a JSON column
func marshalJSONField(v interface{}, fieldName string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", fieldName, err)
	}
	return string(data), nil
}

// parseJSONFieldInto unmarshals a nullable JSON column into target.
// A NULL or empty column leaves target untouched.
func parseJSONFieldInto(src sql.NullString, target interface{}, fieldName string) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", fieldName, err)
	}
	return nil
}

// nullableString converts an empty string to a NULL column value
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
