package storage

import (
	"fmt"
	"sort"
)

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	// KindDate holds a calendar date as "2006-01-02"; the empty string
	// means no date.
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field describes one persisted column.
type Field struct {
	Name     string
	Kind     Kind
	Ref      string // referenced entity; a zero value is stored as no reference
	Unique   bool
	Required bool
}

// Entity is one table (relational) or one sheet (workbook).
type Entity struct {
	Name   string
	Fields []Field
}

func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns the persisted column order: id, fields, timestamps.
func (e Entity) Columns() []string {
	cols := make([]string, 0, len(e.Fields)+3)
	cols = append(cols, "id")
	for _, f := range e.Fields {
		cols = append(cols, f.Name)
	}
	return append(cols, "created_at", "updated_at")
}

// Schema is the set of entities a store persists.
type Schema map[string]Entity

func (s Schema) Entity(name string) (Entity, error) {
	e, ok := s[name]
	if !ok {
		return Entity{}, fmt.Errorf("unknown entity type %q", name)
	}
	return e, nil
}

// Names returns entity names in a dependency-safe order (referenced
// entities first, then alphabetical).
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	// references form a DAG; depth is the longest reference chain.
	var depth func(string) int
	depth = func(n string) int {
		d := 0
		for _, f := range s[n].Fields {
			if f.Ref != "" && f.Ref != n {
				if r := depth(f.Ref) + 1; r > d {
					d = r
				}
			}
		}
		return d
	}
	sort.SliceStable(names, func(i, j int) bool { return depth(names[i]) < depth(names[j]) })
	return names
}

// Entity type names.
const (
	EntityPatient   = "patient"
	EntityDoctor    = "doctor"
	EntityCode      = "code"
	EntityEncounter = "encounter"
	EntityIncident  = "incident"
	EntityGloveUse  = "glove_use"
	EntityDiet      = "diet"
)

func str(name string) Field  { return Field{Name: name, Kind: KindString} }
func num(name string) Field  { return Field{Name: name, Kind: KindInt} }
func flag(name string) Field { return Field{Name: name, Kind: KindBool} }
func date(name string) Field { return Field{Name: name, Kind: KindDate} }

// patientSnapshot are the columns dependent records copy from the patient
// at encounter time.
var patientSnapshot = []Field{
	str("identification"), str("patient_name"), str("position"),
	str("work_area"), str("company"), str("phone"), str("address"),
}

func dependentFields(extra ...Field) []Field {
	fields := []Field{
		{Name: "patient_id", Kind: KindInt, Ref: EntityPatient, Required: true},
		{Name: "encounter_id", Kind: KindInt, Ref: EntityEncounter},
		{Name: "date", Kind: KindDate, Required: true},
	}
	fields = append(fields, patientSnapshot...)
	return append(fields, extra...)
}

// DefaultSchema is the persisted layout of the record keeper. The SQL
// migrations under internal/platform/db/migrations mirror it.
var DefaultSchema = Schema{
	EntityPatient: {Name: EntityPatient, Fields: []Field{
		{Name: "identification", Kind: KindString, Unique: true, Required: true},
		str("first_name"), str("last_name"), str("position"), str("work_area"),
		str("company"), str("gender"), str("phone"), str("email"), str("address"),
		str("disability_description"), str("vulnerable_description"),
		flag("vulnerable_reversible"),
	}},
	EntityDoctor: {Name: EntityDoctor, Fields: []Field{
		{Name: "name", Kind: KindString, Required: true},
		str("specialty"), str("license_number"), flag("active"),
	}},
	EntityCode: {Name: EntityCode, Fields: []Field{
		{Name: "code", Kind: KindString, Unique: true, Required: true},
		str("description"), str("category"), flag("active"),
	}},
	EntityEncounter: {Name: EntityEncounter, Fields: []Field{
		{Name: "patient_id", Kind: KindInt, Ref: EntityPatient, Required: true},
		{Name: "doctor_id", Kind: KindInt, Ref: EntityDoctor},
		{Name: "date", Kind: KindDate, Required: true},
		str("time"), str("consultation_type"),
		str("code"), str("code_description"),
		str("secondary_code"), str("secondary_description"),
		str("causes"), str("diagnosis"), str("prescription"),
		num("days_of_rest"),
		num("monthly_count_for_code"), num("monthly_count_total"), num("annual_count_total"),
	}},
	EntityIncident: {Name: EntityIncident, Fields: dependentFields(
		str("condition"), num("days_of_rest"),
	)},
	EntityGloveUse: {Name: EntityGloveUse, Fields: dependentFields(
		date("start_date"), date("end_date"),
	)},
	EntityDiet: {Name: EntityDiet, Fields: dependentFields(
		str("range_kind"), date("start_date"), date("end_date"), str("observation"),
	)},
}
