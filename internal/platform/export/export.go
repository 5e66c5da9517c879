// Package export renders the whole record store as a report workbook, one
// sheet per entity plus a summary sheet, and publishes it to a blob store.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/occhealth/occhealth/internal/platform/blobstore"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

const (
	SummarySheet = "summary"
	KeyPrefix    = "exports"
)

// SheetCount is one summary row.
type SheetCount struct {
	Entity string `json:"entity"`
	Rows   int    `json:"rows"`
}

type Summary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Sheets      []SheetCount `json:"sheets"`
}

func (s *Summary) Total() int {
	n := 0
	for _, sc := range s.Sheets {
		n += sc.Rows
	}
	return n
}

type Exporter struct {
	store  storage.Store
	schema storage.Schema
	blobs  blobstore.BlobStore
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Exporter)

func WithSchema(schema storage.Schema) Option {
	return func(x *Exporter) { x.schema = schema }
}

func WithClock(now func() time.Time) Option {
	return func(x *Exporter) { x.now = now }
}

// New builds an exporter. blobs may be nil when only Write is used.
func New(store storage.Store, blobs blobstore.BlobStore, logger zerolog.Logger, opts ...Option) *Exporter {
	x := &Exporter{
		store:  store,
		schema: storage.DefaultSchema,
		blobs:  blobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Write renders the workbook to w. Sheets follow Schema.Names, so
// referenced entities come before the records pointing at them.
func (x *Exporter) Write(ctx context.Context, w io.Writer) (*Summary, error) {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	sum := &Summary{GeneratedAt: x.now()}
	for _, name := range x.schema.Names() {
		recs, err := x.store.FindAll(ctx, name, storage.Query{})
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		if err := writeEntity(f, x.schema[name], recs, header); err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		sum.Sheets = append(sum.Sheets, SheetCount{Entity: name, Rows: len(recs)})
	}
	if err := writeSummary(f, sum, header); err != nil {
		return nil, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	x.logger.Info().Int("rows", sum.Total()).Int("sheets", len(sum.Sheets)).Msg("export rendered")
	return sum, nil
}

// Publish renders the workbook and stores it under a fresh key.
func (x *Exporter) Publish(ctx context.Context) (*blobstore.Object, *Summary, error) {
	if x.blobs == nil {
		return nil, nil, fmt.Errorf("export: no blob store configured")
	}
	var buf bytes.Buffer
	sum, err := x.Write(ctx, &buf)
	if err != nil {
		return nil, nil, err
	}
	name := fmt.Sprintf("occhealth-%s.xlsx", sum.GeneratedAt.Format("20060102-150405"))
	obj, err := x.blobs.Put(ctx, blobstore.NewKey(KeyPrefix, name, sum.GeneratedAt), blobstore.ContentTypeXLSX, &buf)
	if err != nil {
		return nil, nil, fmt.Errorf("publish export: %w", err)
	}
	x.logger.Info().Str("location", obj.Location).Int64("size", obj.Size).Msg("export published")
	return obj, sum, nil
}

func writeEntity(f *excelize.File, e storage.Entity, recs []*storage.Record, header int) error {
	if _, err := f.NewSheet(e.Name); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(e.Name)
	if err != nil {
		return err
	}
	cols := e.Columns()
	if err := sw.SetColWidth(1, len(cols), 18); err != nil {
		return err
	}
	head := make([]interface{}, len(cols))
	for i, c := range cols {
		head[i] = excelize.Cell{StyleID: header, Value: c}
	}
	if err := sw.SetRow("A1", head, excelize.RowOpts{Height: 18}); err != nil {
		return err
	}
	for i, rec := range recs {
		row := make([]interface{}, 0, len(cols))
		row = append(row, rec.ID)
		for _, fd := range e.Fields {
			row = append(row, rec.Fields[fd.Name])
		}
		row = append(row, storage.FormatTimestamp(rec.CreatedAt), storage.FormatTimestamp(rec.UpdatedAt))
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writeSummary(f *excelize.File, sum *Summary, header int) error {
	// the default sheet becomes the summary and stays first
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return err
	}
	rows := [][]interface{}{
		{excelize.Cell{StyleID: header, Value: "entity"}, excelize.Cell{StyleID: header, Value: "rows"}},
	}
	for _, sc := range sum.Sheets {
		rows = append(rows, []interface{}{sc.Entity, sc.Rows})
	}
	rows = append(rows,
		[]interface{}{"total", sum.Total()},
		[]interface{}{"generated_at", sum.GeneratedAt.Format(time.RFC3339)},
	)
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)
	return nil
}
