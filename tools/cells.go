package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

// ReadRangeTool returns the values of a range as JSON with numeric cleaning.
type ReadRangeTool struct {
	WB       *Workbook
	MaxRows  int
	MaxChars int
}

func (t *ReadRangeTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "read_excel_range",
		Description: "Read values from the sheet (currency marks are stripped). Without a range the selection is read.",
		Example:     map[string]interface{}{"range": "A1:B10"},
	}
}

func (t *ReadRangeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	var out string
	err := t.WB.View(func(f *excelize.File) error {
		rng, err := t.WB.resolve(f, argString(args, "range"))
		if err != nil {
			return err
		}
		grid, err := readGrid(f, rng)
		if err != nil {
			return err
		}
		out = serializeGrid(grid, orDefault(t.MaxRows, framework.DefaultSnapshotMaxRows), orDefault(t.MaxChars, framework.DefaultReadMaxChars))
		return nil
	})
	return out, err
}

// WriteTool writes a value, formula, list or grid starting at a cell.
type WriteTool struct {
	WB *Workbook
}

func (t *WriteTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "write_to_excel",
		Description: "Write data starting at a cell. Accepts a value, a formula (=...), a JSON list or 2-D list, or comma/tab separated lines.",
		Example:     map[string]interface{}{"startCell": "A1", "data": "value1,value2"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	start := argString(args, "startCell", "targetCell", "cell")
	if start == "" {
		start = "A1"
	}
	raw, ok := args["data"]
	if !ok || raw == nil {
		raw = args["value"]
	}
	rows, isFormula := normalizeWriteData(raw)
	if len(rows) == 0 {
		return "No data to write.", nil
	}
	var target string
	err := t.WB.Update(func(f *excelize.File) error {
		sheet := activeSheet(f)
		if name := argString(args, "sheet"); name != "" {
			if idx, err := f.GetSheetIndex(name); err == nil && idx >= 0 {
				sheet = name
			}
		}
		rng, err := ParseRange(start, sheet)
		if err != nil {
			return err
		}
		target = quoteSheet(rng.Sheet) + "!" + rng.TopLeft()
		for r, row := range rows {
			for c, value := range row {
				if err := setCell(f, rng.Sheet, rng.Cell(r, c), value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	kind := "data"
	if isFormula {
		kind = "formula"
	}
	return fmt.Sprintf("SUCCESS: Wrote %s to %s", kind, target), nil
}

// normalizeWriteData turns the loosely typed data argument into a padded grid.
func normalizeWriteData(raw interface{}) ([][]interface{}, bool) {
	var rows [][]interface{}
	isFormula := false
	switch v := raw.(type) {
	case nil:
		return nil, false
	case string:
		if strings.HasPrefix(strings.TrimSpace(v), "=") {
			formula := strings.ReplaceAll(strings.TrimSpace(v), `\"`, `"`)
			return [][]interface{}{{formula}}, true
		}
		rows = splitDelimited(v)
	case []interface{}:
		if len(v) == 0 {
			return nil, false
		}
		if _, nested := v[0].([]interface{}); nested {
			for _, item := range v {
				if row, ok := item.([]interface{}); ok {
					rows = append(rows, append([]interface{}(nil), row...))
				} else {
					rows = append(rows, []interface{}{item})
				}
			}
		} else {
			rows = [][]interface{}{append([]interface{}(nil), v...)}
		}
	default:
		rows = [][]interface{}{{v}}
	}
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return nil, false
	}
	for i := range rows {
		for len(rows[i]) < width {
			rows[i] = append(rows[i], "")
		}
	}
	return rows, isFormula
}

// splitDelimited splits lines and detects tab or comma delimiters from the
// first line. Numeric fields are converted.
func splitDelimited(text string) [][]interface{} {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	delimiter := ","
	if strings.Contains(lines[0], "\t") {
		delimiter = "\t"
	}
	rows := make([][]interface{}, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, delimiter)
		row := make([]interface{}, 0, len(fields))
		for _, field := range fields {
			field = strings.TrimSpace(field)
			if n, ok := strictNumber(field); ok {
				row = append(row, n)
				continue
			}
			row = append(row, field)
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteFormulaTool stores an arbitrary formula in one cell.
type WriteFormulaTool struct {
	WB *Workbook
}

func (t *WriteFormulaTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "write_formula",
		Description: "Write any Excel formula into a cell.",
		Example:     map[string]interface{}{"startCell": "C1", "formula": "=SUM(A1:A10)"},
	}
}

func (t *WriteFormulaTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	formula := strings.TrimSpace(argString(args, "formula"))
	if formula == "" {
		return "ERROR: formula is required.", nil
	}
	cell := argString(args, "startCell", "targetCell", "cell")
	if cell == "" {
		cell = "A1"
	}
	if !strings.HasPrefix(formula, "=") {
		formula = "=" + formula
	}
	if err := t.WB.SetCell(cell, formula); err != nil {
		return "", err
	}
	return "SUCCESS: Formula written.", nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
