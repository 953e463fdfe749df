package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

// SortTool reorders the rows of a range by one of its columns.
type SortTool struct {
	WB *Workbook
}

func (t *SortTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "sort_range",
		Description: "Sort the rows of a range by a zero-based column offset, ascending or descending.",
		Example:     map[string]interface{}{"range": "A1:B10", "column": 0, "ascending": true},
	}
}

type sortRow struct {
	index  int
	key    string
	num    float64
	isNum  bool
	values []string
	forms  []string
}

func (t *SortTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "range")
	if ref == "" {
		return "ERROR: range is required.", nil
	}
	column := argInt(args, "column", 0)
	ascending := true
	if v, ok := argBool(args, "ascending"); ok {
		ascending = v
	}
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		if column < 0 || column >= rng.Cols() {
			return fmt.Errorf("column %d outside range %s", column, rng.Ref())
		}
		rows := make([]sortRow, 0, rng.Rows())
		for r := 0; r < rng.Rows(); r++ {
			row := sortRow{index: r}
			for c := 0; c < rng.Cols(); c++ {
				cell := rng.Cell(r, c)
				v, err := f.GetCellValue(rng.Sheet, cell)
				if err != nil {
					return err
				}
				formula, _ := f.GetCellFormula(rng.Sheet, cell)
				row.values = append(row.values, v)
				row.forms = append(row.forms, formula)
			}
			keyCell := rng.Cell(r, column)
			if row.forms[column] != "" {
				row.key, _ = f.CalcCellValue(rng.Sheet, keyCell)
			} else {
				row.key = row.values[column]
			}
			row.num, row.isNum = strictNumber(row.key)
			rows = append(rows, row)
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if ascending {
				return lessCell(rows[i], rows[j])
			}
			return lessCell(rows[j], rows[i])
		})
		for r, row := range rows {
			delta := r - row.index
			for c := range row.values {
				cell := rng.Cell(r, c)
				if row.forms[c] != "" {
					if err := f.SetCellFormula(rng.Sheet, cell, shiftFormulaRows(row.forms[c], delta)); err != nil {
						return err
					}
					continue
				}
				var value interface{} = row.values[c]
				if n, ok := strictNumber(row.values[c]); ok {
					value = n
				}
				if err := f.SetCellValue(rng.Sheet, cell, value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "SUCCESS: Range sorted.", nil
}

// lessCell orders numbers before text, numbers numerically and text
// case-insensitively; blanks sort last.
func lessCell(a, b sortRow) bool {
	switch {
	case a.key == "" || b.key == "":
		return a.key != "" && b.key == ""
	case a.isNum && b.isNum:
		return a.num < b.num
	case a.isNum != b.isNum:
		return a.isNum
	default:
		return strings.ToLower(a.key) < strings.ToLower(b.key)
	}
}

// FilterTool applies an auto filter and hides rows that do not match.
type FilterTool struct {
	WB *Workbook
}

func (t *FilterTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "filter_range",
		Description: "Apply an auto filter keeping rows whose column (zero-based) equals criteria.",
		Example:     map[string]interface{}{"range": "A1:D10", "column": 0, "criteria": "value"},
	}
}

func (t *FilterTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "range")
	criteria := argString(args, "criteria")
	if ref == "" || criteria == "" {
		return "ERROR: range and criteria are required.", nil
	}
	column := argInt(args, "column", 0)
	hidden := 0
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		if column < 0 || column >= rng.Cols() {
			return fmt.Errorf("column %d outside range %s", column, rng.Ref())
		}
		colName, err := excelize.ColumnNumberToName(rng.StartCol + column)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(rng.Sheet, rng.Ref(), []excelize.AutoFilterOptions{{
			Column:     colName,
			Expression: "x == " + criteria,
		}}); err != nil {
			return err
		}
		// the header row stays visible; excelize records the filter but
		// leaves row visibility to the caller.
		for r := 1; r < rng.Rows(); r++ {
			v, err := f.GetCellValue(rng.Sheet, rng.Cell(r, column))
			if err != nil {
				return err
			}
			visible := strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(criteria))
			if !visible {
				hidden++
			}
			if err := f.SetRowVisible(rng.Sheet, rng.StartRow+r, visible); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: Filter applied (%d rows hidden).", hidden), nil
}
