package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"
)

var cellCleaner = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ")

func readDelimited(path string, comma rune) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("extract: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("extract: parse %s: %w", path, err)
	}
	return renderRows(rows), nil
}

// readWorkbook renders every sheet of an xlsx workbook, separating sheets
// with a blank line.
func readWorkbook(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: open %s: %w", path, err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("extract: read sheet %q of %s: %w", name, path, err)
		}
		sheets = append(sheets, renderRows(rows))
	}
	return strings.Join(sheets, "\n\n"), nil
}

// renderRows lays rows out as aligned plain-text columns.
func renderRows(rows [][]string) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cellCleaner.Replace(c)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}
