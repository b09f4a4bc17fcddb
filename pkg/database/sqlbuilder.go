package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// SetExcluded assigns column from the proposed row of an ON CONFLICT clause.
func SetExcluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

// OnConflictUpdate turns ib into an upsert. Both PostgreSQL and SQLite accept the syntax.
func OnConflictUpdate(ib *sqlbuilder.InsertBuilder, conflict []string, assignments ...string) *sqlbuilder.InsertBuilder {
	return ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(conflict, ", "), strings.Join(assignments, ", ")))
}

// OnConflictDoNothing turns ib into an insert that skips existing rows.
func OnConflictDoNothing(ib *sqlbuilder.InsertBuilder) *sqlbuilder.InsertBuilder {
	return ib.SQL("ON CONFLICT DO NOTHING")
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Strings converts ids to the []any shape sqlbuilder's In expects.
func Strings(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
