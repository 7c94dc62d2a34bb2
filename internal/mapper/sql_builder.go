package mapper

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// SQLBuilder generates the idempotent Postgres upserts used by the store
type SQLBuilder struct{}

// NewSQLBuilder initializes a new mapper instance
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{}
}

// BuildUpsert generates an INSERT ... ON CONFLICT DO UPDATE for one row.
//
// Columns are emitted in sorted order so the statement text is stable and
// pgx can reuse its prepared statement cache. The update only fires when a
// non-key column actually changed, so re-applying the same row leaves
// updated_at untouched.
func (b *SQLBuilder) BuildUpsert(tableName string, conflict []string, data map[string]any) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("no data provided for upsert on table %s", tableName)
	}
	if len(conflict) == 0 {
		return "", nil, fmt.Errorf("no conflict target for upsert on table %s", tableName)
	}
	for _, c := range conflict {
		if _, ok := data[c]; !ok {
			return "", nil, fmt.Errorf("conflict column %s missing from data for table %s", c, tableName)
		}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	var updates, current, incoming []string

	for i, k := range keys {
		col := strings.ToLower(k)
		columns = append(columns, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, b.formatValue(data[k]))

		if slices.Contains(conflict, k) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		current = append(current, fmt.Sprintf("%s.%s", tableName, col))
		incoming = append(incoming, "EXCLUDED."+col)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflict, ", "),
	)
	if len(updates) == 0 {
		return query + " DO NOTHING", args, nil
	}

	query += fmt.Sprintf(
		" DO UPDATE SET %s, updated_at = now() WHERE (%s) IS DISTINCT FROM (%s)",
		strings.Join(updates, ", "),
		strings.Join(current, ", "),
		strings.Join(incoming, ", "),
	)
	return query, args, nil
}

// formatValue handles the Go types pgx would otherwise encode differently
func (b *SQLBuilder) formatValue(v any) any {
	switch val := v.(type) {
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.Format("2006-01-02")
	case time.Time:
		return val.Format("2006-01-02")
	case *int:
		if val == nil {
			return nil
		}
		return *val
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}
