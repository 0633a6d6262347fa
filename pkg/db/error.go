package db

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation    = "23505"
	mysqlDuplicateEntry  = 1062
	sqliteUniquePrefix   = "UNIQUE constraint failed"
	pgUniqueMessageTrail = "duplicate key value violates unique constraint"
)

var (
	pgConstraintRe    = regexp.MustCompile(`unique constraint "([^"]+)"`)
	mysqlKeyRe        = regexp.MustCompile(`for key '(?:[^'.]+\.)?([^']+)'`)
	sqliteColumnsRe   = regexp.MustCompile(`UNIQUE constraint failed: (.+?)(?: \(\d+\))?$`)
	sqliteColumnSplit = regexp.MustCompile(`\s*,\s*`)
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation on
// any of the supported dialects.
func IsDuplicateKeyErr(err error) bool {
	_, ok := DuplicateKey(err)
	return ok
}

// Violation names the unique constraint an insert or update tripped over.
// PostgreSQL and MySQL report the index name. SQLite only reports the
// table.column pairs, so Columns is set instead.
type Violation struct {
	Index   string
	Columns []string
}

// Matches reports whether the violation is on the named index, or on an
// index over exactly the given table.column list when only columns are known.
func (v Violation) Matches(index string, columns ...string) bool {
	if v.Index != "" {
		return v.Index == index
	}
	if len(columns) == 0 || len(columns) != len(v.Columns) {
		return false
	}
	for i := range columns {
		if v.Columns[i] != columns[i] {
			return false
		}
	}
	return true
}

// DuplicateKey extracts the violated unique constraint from err.
func DuplicateKey(err error) (Violation, bool) {
	if err == nil {
		return Violation{}, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return Violation{}, false
		}
		return Violation{Index: pgErr.ConstraintName}, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number != mysqlDuplicateEntry {
			return Violation{}, false
		}
		v := Violation{}
		if m := mysqlKeyRe.FindStringSubmatch(myErr.Message); m != nil {
			v.Index = m[1]
		}
		return v, true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, sqliteUniquePrefix):
		v := Violation{}
		if m := sqliteColumnsRe.FindStringSubmatch(msg); m != nil {
			v.Columns = sqliteColumnSplit.Split(strings.TrimSpace(m[1]), -1)
		}
		return v, true
	case strings.Contains(msg, pgUniqueMessageTrail):
		v := Violation{}
		if m := pgConstraintRe.FindStringSubmatch(msg); m != nil {
			v.Index = m[1]
		}
		return v, true
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Only set when the dialector translates errors; the index is lost.
		return Violation{}, true
	}
	return Violation{}, false
}
