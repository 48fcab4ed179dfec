package export

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"LeadFlow/internal/state"
)

func sample() []state.Lead {
	return []state.Lead{
		{
			FullName:       "Ada Lovelace",
			Designation:    "Owner",
			Email:          "ada@engines.example",
			CompanyName:    "Engines Ltd",
			CompanyWebsite: "https://engines.example",
			CompanyDetails: "Builds analytical engines.",
			EmailSubject:   "Faster engines",
			EmailBody:      "Hello Ada",
		},
		{FullName: "Charles", SecurityError: true},
	}
}

func TestHeaderCoversEveryLeadField(t *testing.T) {
	if got := reflect.TypeOf(state.Lead{}).NumField(); got != len(Header) {
		t.Fatalf("header has %d columns, lead has %d fields", len(Header), got)
	}
	for i, field := range reflect.VisibleFields(reflect.TypeOf(state.Lead{})) {
		if tag := field.Tag.Get("json"); tag != Header[i] {
			t.Fatalf("column %d: header %q, json tag %q", i, Header[i], tag)
		}
	}
}

func TestRows(t *testing.T) {
	rows := Rows(sample())
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "Ada Lovelace" || rows[2][13] != "true" || rows[2][12] != "false" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if got := Rows(nil); len(got) != 1 {
		t.Fatalf("empty export must still carry a header")
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}

	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer book.Close()

	if sheets := book.GetSheetList(); len(sheets) != 1 || sheets[0] != SheetName {
		t.Fatalf("unexpected sheets: %v", sheets)
	}
	rows, err := book.GetRows(SheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if diff := cmp.Diff(Header, rows[0]); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	if rows[1][11] != "Hello Ada" {
		t.Fatalf("unexpected body cell: %v", rows[1])
	}
}

func TestSaveXLSXCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "leads.xlsx")
	if err := SaveXLSX(path, sample()); err != nil {
		t.Fatalf("save: %v", err)
	}
	book, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer book.Close()
	value, err := book.GetCellValue(SheetName, "A2")
	if err != nil || value != "Ada Lovelace" {
		t.Fatalf("unexpected A2: %q %v", value, err)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(Rows(sample()), records); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}
