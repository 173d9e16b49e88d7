// Package store implements the sqlite data access layer. Each store wraps a
// single table (or a join rooted at one) and returns nil, nil for missing rows.
package store

import "database/sql"

// timestampLayout matches sqlite's CURRENT_TIMESTAMP so stored values sort
// and compare as text.
const timestampLayout = "2006-01-02 15:04:05"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
