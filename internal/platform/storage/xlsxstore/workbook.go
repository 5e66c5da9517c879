package xlsxstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

// sheet is one entity's rows as parsed from the workbook.
type sheet struct {
	entity storage.Entity
	cols   map[string]int // column name -> 1-based column number
	rows   []sheetRow     // id order is insertion order
}

type sheetRow struct {
	num int // 1-based spreadsheet row
	rec *storage.Record
}

func (sh *sheet) maxID() int64 {
	var max int64
	for _, r := range sh.rows {
		if r.rec.ID > max {
			max = r.rec.ID
		}
	}
	return max
}

func (sh *sheet) byID(id int64) *sheetRow {
	for i := range sh.rows {
		if sh.rows[i].rec.ID == id {
			return &sh.rows[i]
		}
	}
	return nil
}

func (sh *sheet) nextRow() int {
	last := 1
	for _, r := range sh.rows {
		if r.num > last {
			last = r.num
		}
	}
	return last + 1
}

// workbook is one opened file plus the sheets parsed from it so far.
type workbook struct {
	f      *excelize.File
	schema storage.Schema
	sheets map[string]*sheet
}

func openWorkbook(path string, schema storage.Schema) (*workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &workbook{f: f, schema: schema, sheets: make(map[string]*sheet)}, nil
}

func (w *workbook) Close() error {
	return w.f.Close()
}

// sheet parses (once) the sheet of entity.
func (w *workbook) sheet(entity string) (*sheet, error) {
	if sh, ok := w.sheets[entity]; ok {
		return sh, nil
	}
	e, err := w.schema.Entity(entity)
	if err != nil {
		return nil, err
	}

	rows, err := w.f.GetRows(e.Name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("malformed workbook: sheet %s: %w", e.Name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("malformed workbook: sheet %s has no header", e.Name)
	}

	sh := &sheet{entity: e, cols: make(map[string]int)}
	for i, name := range rows[0] {
		sh.cols[strings.TrimSpace(name)] = i + 1
	}
	for _, col := range e.Columns() {
		if _, ok := sh.cols[col]; !ok {
			return nil, fmt.Errorf("malformed workbook: sheet %s lacks column %s", e.Name, col)
		}
	}

	for i, cells := range rows[1:] {
		num := i + 2
		rec, err := sh.parse(cells)
		if err != nil {
			return nil, fmt.Errorf("malformed workbook: %s row %d: %w", e.Name, num, err)
		}
		if rec == nil {
			continue
		}
		sh.rows = append(sh.rows, sheetRow{num: num, rec: rec})
	}
	w.sheets[entity] = sh
	return sh, nil
}

// parse returns nil for a blank row.
func (sh *sheet) parse(cells []string) (*storage.Record, error) {
	cell := func(col string) string {
		i := sh.cols[col] - 1
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	if strings.TrimSpace(cell("id")) == "" {
		return nil, nil
	}

	id, err := storage.Coerce(storage.KindInt, cell("id"))
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	rec := &storage.Record{ID: id.(int64), Fields: make(storage.Fields, len(sh.entity.Fields))}
	for _, f := range sh.entity.Fields {
		v, err := storage.Coerce(f.Kind, cell(f.Name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		rec.Fields[f.Name] = v
	}
	if rec.CreatedAt, err = parseStamp(cell("created_at")); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseStamp(cell("updated_at")); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return storage.ParseTimestamp(s)
}

// write stores rec into spreadsheet row num.
func (w *workbook) write(sh *sheet, num int, rec *storage.Record) error {
	set := func(col string, v interface{}) error {
		cell, err := excelize.CoordinatesToCellName(sh.cols[col], num)
		if err != nil {
			return err
		}
		switch t := v.(type) {
		case string:
			return w.f.SetCellStr(sh.entity.Name, cell, t)
		case bool:
			return w.f.SetCellBool(sh.entity.Name, cell, t)
		default:
			return w.f.SetCellValue(sh.entity.Name, cell, t)
		}
	}

	if err := set("id", rec.ID); err != nil {
		return err
	}
	for _, f := range sh.entity.Fields {
		if err := set(f.Name, rec.Fields[f.Name]); err != nil {
			return fmt.Errorf("set %s: %w", f.Name, err)
		}
	}
	if err := set("created_at", storage.FormatTimestamp(rec.CreatedAt)); err != nil {
		return err
	}
	return set("updated_at", storage.FormatTimestamp(rec.UpdatedAt))
}

// save writes the workbook to a temp file in the same directory and renames
// it over path, so readers never observe a half-written file.
func (w *workbook) save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".workbook-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := w.f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

var headerStyle = &excelize.Style{
	Font: &excelize.Font{Bold: true},
	Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	Border: []excelize.Border{
		{Type: "bottom", Color: "000000", Style: 1},
	},
}

// initWorkbook creates the file at path when missing, and adds any sheet or
// header column the schema declares but the file lacks. Existing rows are
// never touched.
func initWorkbook(path string, schema storage.Schema) error {
	var f *excelize.File
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create dirs: %w", err)
		}
		f = excelize.NewFile()
		created = true
	} else {
		if f, err = excelize.OpenFile(path); err != nil {
			return fmt.Errorf("open workbook: %w", err)
		}
	}
	defer f.Close()

	style, err := f.NewStyle(headerStyle)
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	changed := created
	for _, name := range schema.Names() {
		e := schema[name]
		idx, err := f.GetSheetIndex(name)
		if err != nil {
			return fmt.Errorf("sheet %s: %w", name, err)
		}
		if idx == -1 {
			if _, err := f.NewSheet(name); err != nil {
				return fmt.Errorf("create sheet %s: %w", name, err)
			}
			changed = true
		}
		header, err := headerRow(f, name)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(header))
		for _, h := range header {
			have[strings.TrimSpace(h)] = true
		}
		next := len(header) + 1
		for _, col := range e.Columns() {
			if have[col] {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(next, 1)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(name, cell, col); err != nil {
				return fmt.Errorf("set header %s.%s: %w", name, col, err)
			}
			if err := f.SetCellStyle(name, cell, cell, style); err != nil {
				return fmt.Errorf("style header %s.%s: %w", name, col, err)
			}
			next++
			changed = true
		}
	}
	if created {
		// drop the default sheet a new file starts with
		if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
			if err := f.DeleteSheet("Sheet1"); err != nil {
				return fmt.Errorf("delete default sheet: %w", err)
			}
		}
	}
	if !changed {
		return nil
	}
	return (&workbook{f: f}).save(path)
}

func headerRow(f *excelize.File, sheetName string) ([]string, error) {
	rows, err := f.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", sheetName, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Error()
	}
	return rows.Columns(excelize.Options{RawCellValue: true})
}
