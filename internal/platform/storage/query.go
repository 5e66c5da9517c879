package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/occhealth/occhealth/internal/platform/apperr"
)

// DateRange is an inclusive calendar range of "2006-01-02" dates.
type DateRange struct {
	From string
	To   string
}

func (r DateRange) Contains(date string) bool {
	return date >= r.From && date <= r.To
}

// MonthRange returns the calendar month containing date.
func MonthRange(date string) (DateRange, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return DateRange{}, apperr.Validation("date", "want YYYY-MM-DD, got %q", date)
	}
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateRange{From: first.Format(DateLayout), To: last.Format(DateLayout)}, nil
}

// YearRange returns the calendar year containing date.
func YearRange(date string) (DateRange, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return DateRange{}, apperr.Validation("date", "want YYYY-MM-DD, got %q", date)
	}
	return DateRange{
		From: fmt.Sprintf("%04d-01-01", d.Year()),
		To:   fmt.Sprintf("%04d-12-31", d.Year()),
	}, nil
}

// OrderColumn validates q.OrderBy against e and returns the column to sort
// on ("id" when unset).
func OrderColumn(e Entity, orderBy string) (string, error) {
	switch orderBy {
	case "", "id":
		return "id", nil
	case "created_at", "updated_at":
		return orderBy, nil
	}
	if _, ok := e.Field(orderBy); !ok {
		return "", apperr.Validation("order_by", "unknown field %q for %s", orderBy, e.Name)
	}
	return orderBy, nil
}

// Matches reports whether rec equals every normalised filter value.
func Matches(rec *Record, filter Fields) bool {
	for name, want := range filter {
		if name == "id" {
			if rec.ID != want.(int64) {
				return false
			}
			continue
		}
		if rec.Fields[name] != want {
			return false
		}
	}
	return true
}

// SortRecords orders records (already in id order) by column, keeping id
// order for ties, the same ordering the relational adapter emits with
// ORDER BY column, id.
func SortRecords(records []*Record, column string, desc bool) {
	if column == "id" {
		if desc {
			sort.SliceStable(records, func(i, j int) bool { return records[i].ID > records[j].ID })
		}
		return
	}
	key := func(r *Record) interface{} {
		switch column {
		case "created_at":
			return r.CreatedAt
		case "updated_at":
			return r.UpdatedAt
		}
		return r.Fields[column]
	}
	sort.SliceStable(records, func(i, j int) bool {
		c := compare(key(records[i]), key(records[j]))
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b interface{}) int {
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case int64:
		y, _ := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case bool:
		y, _ := b.(bool)
		switch {
		case !x && y:
			return -1
		case x && !y:
			return 1
		}
	case time.Time:
		y, _ := b.(time.Time)
		return x.Compare(y)
	}
	return 0
}

// Page applies offset and limit (0 = no limit).
func Page(records []*Record, limit, offset int) []*Record {
	if offset > 0 {
		if offset >= len(records) {
			return []*Record{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
