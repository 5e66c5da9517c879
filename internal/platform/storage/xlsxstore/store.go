// Package xlsxstore is the spreadsheet-file storage adapter: one workbook,
// one sheet per entity, row 1 holding the column names. Every operation is a
// whole-file read (and, for writes, a rewrite) under an exclusive lock.
package xlsxstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

const DefaultLockTimeout = 5 * time.Second

// Store implements storage.Store over an .xlsx workbook.
type Store struct {
	path        string
	schema      storage.Schema
	clock       storage.Clock
	lockTimeout time.Duration
	sem         chan struct{}
	logger      zerolog.Logger
}

type Option func(*Store)

func WithSchema(schema storage.Schema) Option {
	return func(s *Store) { s.schema = schema }
}

func WithClock(clock storage.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger.With().Str("component", "xlsxstore").Logger() }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New opens the workbook at path, creating it (and any missing sheet or
// header column) first.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		schema:      storage.DefaultSchema,
		clock:       storage.SystemClock,
		lockTimeout: DefaultLockTimeout,
		sem:         make(chan struct{}, 1),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	release, err := s.acquire(context.Background())
	if err != nil {
		return nil, err
	}
	defer release()
	if err := initWorkbook(path, s.schema); err != nil {
		return nil, storage.Unavailable("init workbook", err)
	}
	return s, nil
}

// Path returns the workbook location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read(ctx context.Context, op string, fn func(w *workbook) error) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	w, err := openWorkbook(s.path, s.schema)
	if err != nil {
		return storage.Unavailable(op, err)
	}
	defer w.Close()
	return fn(w)
}

func (s *Store) write(ctx context.Context, op string, fn func(w *workbook) error) error {
	return s.read(ctx, op, func(w *workbook) error {
		if err := fn(w); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return storage.Unavailable(op, err)
		}
		if err := w.save(s.path); err != nil {
			return storage.Unavailable(op, err)
		}
		return nil
	})
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

	op := "create " + entity
	var rec *storage.Record
	err = s.write(ctx, op, func(w *workbook) error {
		sh, err := w.sheet(entity)
		if err != nil {
			return storage.Unavailable(op, err)
		}
		if err := checkRefs(w, e, vals); err != nil {
			return err
		}
		if err := checkUnique(sh, vals, 0); err != nil {
			return err
		}

		now := s.clock()
		rec = &storage.Record{ID: sh.maxID() + 1, Fields: vals, CreatedAt: now, UpdatedAt: now}
		if err := w.write(sh, sh.nextRow(), rec); err != nil {
			return storage.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
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

	op := "find " + entity
	records := []*storage.Record{}
	err = s.read(ctx, op, func(w *workbook) error {
		sh, err := w.sheet(entity)
		if err != nil {
			return storage.Unavailable(op, err)
		}
		for _, r := range sh.rows {
			if storage.Matches(r.rec, filter) {
				records = append(records, r.rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	storage.SortRecords(records, column, q.Desc)
	return storage.Page(records, q.Limit, q.Offset), nil
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

	op := "update " + entity
	var rec *storage.Record
	err = s.write(ctx, op, func(w *workbook) error {
		sh, err := w.sheet(entity)
		if err != nil {
			return storage.Unavailable(op, err)
		}
		row := sh.byID(id)
		if row == nil {
			return fmt.Errorf("update %s %d: %w", entity, id, storage.ErrNotFound)
		}
		if err := checkRefs(w, e, vals); err != nil {
			return err
		}
		if err := checkUnique(sh, vals, id); err != nil {
			return err
		}

		rec = row.rec
		for name, v := range vals {
			rec.Fields[name] = v
		}
		rec.UpdatedAt = s.clock()
		if err := w.write(sh, row.num, rec); err != nil {
			return storage.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) CountEncounters(ctx context.Context, patientID int64, code *string, r storage.DateRange) (int, error) {
	op := "count encounters"
	n := 0
	err := s.read(ctx, op, func(w *workbook) error {
		sh, err := w.sheet(storage.EntityEncounter)
		if err != nil {
			return storage.Unavailable(op, err)
		}
		for _, row := range sh.rows {
			rec := row.rec
			if rec.Int("patient_id") != patientID || !r.Contains(rec.Str("date")) {
				continue
			}
			if code != nil && rec.Str("code") != *code {
				continue
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Ping verifies the workbook can be locked and opened.
func (s *Store) Ping(ctx context.Context) error {
	return s.read(ctx, "ping", func(*workbook) error { return nil })
}

// Close is a no-op; no handle outlives an operation.
func (s *Store) Close() error {
	return nil
}

func checkRefs(w *workbook, e storage.Entity, vals storage.Fields) error {
	for _, f := range e.Fields {
		if f.Ref == "" {
			continue
		}
		id, _ := vals[f.Name].(int64)
		if id == 0 {
			continue
		}
		ref, err := w.sheet(f.Ref)
		if err != nil {
			return storage.Unavailable("check "+f.Ref, err)
		}
		if ref.byID(id) == nil {
			return fmt.Errorf("%s.%s references %s %d: %w", e.Name, f.Name, f.Ref, id, storage.ErrNotFound)
		}
	}
	return nil
}

func checkUnique(sh *sheet, vals storage.Fields, self int64) error {
	for _, f := range sh.entity.Fields {
		if !f.Unique {
			continue
		}
		v, ok := vals[f.Name]
		if !ok {
			continue
		}
		for _, r := range sh.rows {
			if r.rec.ID != self && r.rec.Fields[f.Name] == v {
				return fmt.Errorf("%s.%s %v already used by id %d: %w", sh.entity.Name, f.Name, v, r.rec.ID, storage.ErrConflict)
			}
		}
	}
	return nil
}
