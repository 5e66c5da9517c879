package db

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect captures the few differences between the SQL engines the
// relational store runs on.
type Dialect struct {
	Name     string
	numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true}
	SQLite   = Dialect{Name: "sqlite"}
)

// DialectByName resolves a STORAGE_BACKEND value.
func DialectByName(name string) (Dialect, bool) {
	switch name {
	case Postgres.Name:
		return Postgres, true
	case SQLite.Name:
		return SQLite, true
	}
	return Dialect{}, false
}

// Rebind rewrites "?" placeholders into "$1", "$2", ... for Postgres.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Timestamp converts t into the driver argument stored in created_at and
// updated_at columns (TIMESTAMPTZ on Postgres, TEXT on SQLite).
func (d Dialect) Timestamp(t time.Time) interface{} {
	if d.numbered {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// IsUniqueViolation reports a primary-key or unique-constraint collision.
func (d Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
