package sqlstore

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
)

// Dialect captures the engine differences the store cares about.
type Dialect struct {
	// DriverName is the database/sql driver name.
	DriverName string
	// Placeholder formats bind parameters.
	Placeholder sq.PlaceholderFormat
	// LockSuffix is appended to row-lock selects.
	LockSuffix string
	// Goose names the migration dialect.
	Goose goose.Dialect
	// SingleConnection pins the pool to one connection.
	SingleConnection bool
}

var (
	// SQLite uses modernc.org/sqlite. Writers serialize on the single connection.
	SQLite = Dialect{
		DriverName:       "sqlite",
		Placeholder:      sq.Question,
		Goose:            goose.DialectSQLite3,
		SingleConnection: true,
	}
	// Postgres uses github.com/lib/pq and takes real row locks.
	Postgres = Dialect{
		DriverName:  "postgres",
		Placeholder: sq.Dollar,
		LockSuffix:  "FOR UPDATE",
		Goose:       goose.DialectPostgres,
	}
)

// DialectFor resolves a configured driver name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", name)
	}
}

// sqliteDSN adds the pragmas the schema relies on unless the caller set them.
func sqliteDSN(dsn string) string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	var extra []string
	for _, p := range pragmas {
		name := p[len("_pragma="):strings.Index(p, "(")]
		if !strings.Contains(dsn, name) {
			extra = append(extra, p)
		}
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}
