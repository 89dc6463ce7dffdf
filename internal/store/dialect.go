package store

import (
	"regexp"
	"strings"
)

// Dialect identifies which SQL backend a Store is talking to.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// DriverName returns the database/sql driver name registered for a dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// migrations are authored once, in SQLite flavor, and mechanically rewritten
// for the other dialects per the Design Notes: a tiny dialect-aware emitter
// is the long-term answer, but migrations need to stay declarative and a
// single source string keeps the three backends from drifting.
var (
	autoincrementRe = regexp.MustCompile(`(?i)INTEGER\s+PRIMARY\s+KEY\s+AUTOINCREMENT`)
	blobRe          = regexp.MustCompile(`(?i)\bBLOB\b`)
	integerRe       = regexp.MustCompile(`(?i)\bINTEGER\b`)
	booleanSqliteRe = regexp.MustCompile(`(?i)\bBOOLEAN\b`)
)

// sqliteToPostgres mechanically rewrites a SQLite-flavored DDL string into
// Postgres-compatible DDL.
func sqliteToPostgres(ddl string) string {
	out := ddl
	out = autoincrementRe.ReplaceAllString(out, "SERIAL PRIMARY KEY")
	out = blobRe.ReplaceAllString(out, "BYTEA")
	out = integerRe.ReplaceAllString(out, "BIGINT")
	out = booleanSqliteRe.ReplaceAllString(out, "BOOLEAN")
	out = strings.ReplaceAll(out, "`", `"`)
	return out
}

// sqliteToMySQL mechanically rewrites a SQLite-flavored DDL string into
// MySQL-compatible DDL.
func sqliteToMySQL(ddl string) string {
	out := ddl
	out = autoincrementRe.ReplaceAllString(out, "INTEGER PRIMARY KEY AUTO_INCREMENT")
	out = blobRe.ReplaceAllString(out, "LONGBLOB")
	out = booleanSqliteRe.ReplaceAllString(out, "TINYINT(1)")
	return out
}

// RewriteDDL rewrites a SQLite-flavored migration source for the target
// dialect. SQLite DDL passes through unchanged (it is the reference
// dialect).
func RewriteDDL(dialect Dialect, sqliteDDL string) string {
	switch dialect {
	case DialectPostgres:
		return sqliteToPostgres(sqliteDDL)
	case DialectMySQL:
		return sqliteToMySQL(sqliteDDL)
	default:
		return sqliteDDL
	}
}

// Placeholder returns the positional-parameter placeholder for index i
// (1-based) in the dialect's native style ($1 for Postgres, ? elsewhere).
func (d Dialect) Placeholder(i int) string {
	if d == DialectPostgres {
		return "$" + itoa(i)
	}
	return "?"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
