// Package sqlstore is the relational storage adapter. It runs the same SQL
// against Postgres (pgx through database/sql) and embedded SQLite, with the
// schema created by db.Migrator.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements storage.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	schema  storage.Schema
	clock   storage.Clock
}

type Option func(*Store)

func WithSchema(schema storage.Schema) Option {
	return func(s *Store) { s.schema = schema }
}

func WithClock(clock storage.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

func New(sqlDB *sql.DB, dialect db.Dialect, opts ...Option) *Store {
	s := &Store{
		db:      sqlDB,
		dialect: dialect,
		schema:  storage.DefaultSchema,
		clock:   storage.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func (s *Store) Create(ctx context.Context, entity string, fields storage.Fields) (*storage.Record, error) {
	e, err := s.schema.Entity(entity)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	vals, err := storage.Normalize(e, fields, false)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Unavailable("create "+entity, err)
	}
	defer tx.Rollback()

	if err := s.checkRefs(ctx, tx, e, vals); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, tx, e, vals, 0); err != nil {
		return nil, err
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX("id"), 0) + 1 FROM %s`, quote(e.Name)),
	).Scan(&id)
	if err != nil {
		return nil, storage.Unavailable("next id "+entity, err)
	}

	now := s.clock()
	cols := e.Columns()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		marks[i] = "?"
	}
	args = append(args, id)
	for _, f := range e.Fields {
		args = append(args, s.arg(f, vals[f.Name]))
	}
	args = append(args, s.dialect.Timestamp(now), s.dialect.Timestamp(now))

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quote(e.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		op := "insert " + entity
		if s.dialect.IsUniqueViolation(err) {
			// a concurrent writer took the same id or unique value; retryable
			op += " (concurrent writer)"
		}
		return nil, storage.Unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Unavailable("commit "+entity, err)
	}

	return &storage.Record{ID: id, Fields: vals, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) FindAll(ctx context.Context, entity string, q storage.Query) ([]*storage.Record, error) {
	e, err := s.schema.Entity(entity)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entity, err)
	}
	filter, err := storage.NormalizeFilter(e, q.Filter)
	if err != nil {
		return nil, err
	}
	column, err := storage.OrderColumn(e, q.OrderBy)
	if err != nil {
		return nil, err
	}

	where, args := s.where(e, filter)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY %s`,
		selectList(e), quote(e.Name), where, orderClause(column, q.Desc))
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, q.Offset)
	}

	records, err := s.query(ctx, s.db, e, query, args...)
	if err != nil {
		return nil, storage.Unavailable("find "+entity, err)
	}
	return records, nil
}

func (s *Store) FindOne(ctx context.Context, entity string, filter storage.Fields) (*storage.Record, error) {
	records, err := s.FindAll(ctx, entity, storage.Query{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *Store) Update(ctx context.Context, entity string, id int64, fields storage.Fields) (*storage.Record, error) {
	e, err := s.schema.Entity(entity)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	vals, err := storage.Normalize(e, fields, true)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Unavailable("update "+entity, err)
	}
	defer tx.Rollback()

	rec, err := s.byID(ctx, tx, e, id)
	if err != nil {
		return nil, storage.Unavailable("update "+entity, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("update %s %d: %w", entity, id, storage.ErrNotFound)
	}
	if err := s.checkRefs(ctx, tx, e, vals); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, tx, e, vals, id); err != nil {
		return nil, err
	}

	now := s.clock()
	sets := make([]string, 0, len(vals)+1)
	args := make([]interface{}, 0, len(vals)+2)
	for _, f := range e.Fields {
		v, ok := vals[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, quote(f.Name)+" = ?")
		args = append(args, s.arg(f, v))
		rec.Fields[f.Name] = v
	}
	sets = append(sets, `"updated_at" = ?`)
	args = append(args, s.dialect.Timestamp(now), id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = ?`, quote(e.Name), strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		return nil, storage.Unavailable("update "+entity, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Unavailable("commit "+entity, err)
	}

	rec.UpdatedAt = now
	return rec, nil
}

func (s *Store) CountEncounters(ctx context.Context, patientID int64, code *string, r storage.DateRange) (int, error) {
	query := `SELECT COUNT(*) FROM "encounter" WHERE "patient_id" = ? AND "date" >= ? AND "date" <= ?`
	args := []interface{}{patientID, r.From, r.To}
	if code != nil {
		query += ` AND "code" = ?`
		args = append(args, *code)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(&n); err != nil {
		return 0, storage.Unavailable("count encounters", err)
	}
	return int(n), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storage.Unavailable("ping", err)
	}
	return nil
}

// Close releases the database handle. A Postgres pool behind it is owned
// by the caller and stays open.
func (s *Store) Close() error {
	return s.db.Close()
}

// arg converts a normalised value into a driver argument. Zero references
// and empty dates are stored as NULL.
func (s *Store) arg(f storage.Field, v interface{}) interface{} {
	switch {
	case f.Ref != "":
		if n, _ := v.(int64); n == 0 {
			return nil
		}
	case f.Kind == storage.KindDate:
		if d, _ := v.(string); d == "" {
			return nil
		}
	}
	return v
}

func (s *Store) where(e storage.Entity, filter storage.Fields) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}
	// deterministic clause order keeps statements cacheable
	var conds []string
	var args []interface{}
	for _, col := range e.Columns() {
		v, ok := filter[col]
		if !ok {
			continue
		}
		if col == "id" {
			conds = append(conds, `"id" = ?`)
			args = append(args, v)
			continue
		}
		f, _ := e.Field(col)
		if a := s.arg(f, v); a == nil {
			conds = append(conds, quote(col)+" IS NULL")
			continue
		}
		conds = append(conds, quote(col)+" = ?")
		args = append(args, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(column string, desc bool) string {
	if column == "id" {
		if desc {
			return `"id" DESC`
		}
		return `"id"`
	}
	// NULL sorts like the zero value the workbook adapter compares with
	if desc {
		return quote(column) + ` DESC NULLS LAST, "id"`
	}
	return quote(column) + ` ASC NULLS FIRST, "id"`
}

func selectList(e storage.Entity) string {
	cols := e.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

func (s *Store) byID(ctx context.Context, q queryable, e storage.Entity, id int64) (*storage.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE "id" = ?`, selectList(e), quote(e.Name))
	records, err := s.query(ctx, q, e, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *Store) query(ctx context.Context, q queryable, e storage.Entity, query string, args ...interface{}) ([]*storage.Record, error) {
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*storage.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(rows *sql.Rows, e storage.Entity) (*storage.Record, error) {
	n := len(e.Fields) + 3
	raw := make([]interface{}, n)
	dest := make([]interface{}, n)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	id, err := storage.Coerce(storage.KindInt, raw[0])
	if err != nil {
		return nil, fmt.Errorf("scan %s id: %w", e.Name, err)
	}
	rec := &storage.Record{ID: id.(int64), Fields: make(storage.Fields, len(e.Fields))}
	for i, f := range e.Fields {
		v, err := storage.Coerce(f.Kind, raw[i+1])
		if err != nil {
			return nil, fmt.Errorf("scan %s.%s: %w", e.Name, f.Name, err)
		}
		rec.Fields[f.Name] = v
	}
	if rec.CreatedAt, err = storage.ParseTimestamp(raw[n-2]); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = storage.ParseTimestamp(raw[n-1]); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) checkRefs(ctx context.Context, q queryable, e storage.Entity, vals storage.Fields) error {
	for _, f := range e.Fields {
		if f.Ref == "" {
			continue
		}
		id, _ := vals[f.Name].(int64)
		if id == 0 {
			continue
		}
		var one int
		err := q.QueryRowContext(ctx,
			s.dialect.Rebind(fmt.Sprintf(`SELECT 1 FROM %s WHERE "id" = ?`, quote(f.Ref))), id,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s.%s references %s %d: %w", e.Name, f.Name, f.Ref, id, storage.ErrNotFound)
		}
		if err != nil {
			return storage.Unavailable("check "+f.Ref, err)
		}
	}
	return nil
}

func (s *Store) checkUnique(ctx context.Context, q queryable, e storage.Entity, vals storage.Fields, self int64) error {
	for _, f := range e.Fields {
		if !f.Unique {
			continue
		}
		v, ok := vals[f.Name]
		if !ok {
			continue
		}
		var other int64
		err := q.QueryRowContext(ctx,
			s.dialect.Rebind(fmt.Sprintf(`SELECT "id" FROM %s WHERE %s = ? AND "id" <> ?`, quote(e.Name), quote(f.Name))),
			v, self,
		).Scan(&other)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return storage.Unavailable("check unique "+e.Name, err)
		}
		return fmt.Errorf("%s.%s %v already used by id %d: %w", e.Name, f.Name, v, other, storage.ErrConflict)
	}
	return nil
}
