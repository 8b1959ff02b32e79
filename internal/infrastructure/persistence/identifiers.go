package persistence

import (
	"fmt"
	"strings"

	"github.com/diarco/connexa-sync/internal/domain/staging"
)

// Identifiers cannot be bound as parameters. Every schema, table and column
// name that reaches SQL text passes the allow-list and is quoted per dialect.

// pgQualified returns "schema"."table" for PostgreSQL
func pgQualified(qualified string) (string, error) {
	schema, table, found := strings.Cut(qualified, ".")
	if !found {
		return "", fmt.Errorf("table %q must be qualified as schema.table", qualified)
	}
	if !staging.ValidIdentifier(schema) || !staging.ValidIdentifier(table) {
		return "", fmt.Errorf("table %q contains an invalid identifier", qualified)
	}
	return `"` + schema + `"."` + table + `"`, nil
}

// msQuote returns [name] for SQL Server
func msQuote(name string) (string, error) {
	if !staging.ValidIdentifier(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "[" + name + "]", nil
}

// msQualified returns [schema].[table] for SQL Server
func msQualified(schema, table string) (string, error) {
	s, err := msQuote(schema)
	if err != nil {
		return "", err
	}
	t, err := msQuote(table)
	if err != nil {
		return "", err
	}
	return s + "." + t, nil
}

// msColumns quotes an ordered column list
func msColumns(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := msQuote(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}
