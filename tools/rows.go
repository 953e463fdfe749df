package tools

import (
	"context"

	"github.com/xuri/excelize/v2"
)

// ColumnRows exposes the first column of a range to the batch runner and
// writes results into the column just right of the range.
type ColumnRows struct {
	WB    *Workbook
	Range CellRange
}

// NewColumnRows resolves ref, or the current selection when ref is empty.
func NewColumnRows(wb *Workbook, ref string) (*ColumnRows, error) {
	var rng CellRange
	err := wb.View(func(f *excelize.File) error {
		var err error
		rng, err = wb.resolve(f, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ColumnRows{WB: wb, Range: rng}, nil
}

// Values returns the displayed values of the first column, one per row.
func (c *ColumnRows) Values(ctx context.Context) ([]string, error) {
	var out []string
	err := c.WB.View(func(f *excelize.File) error {
		for r := 0; r < c.Range.Rows(); r++ {
			v, err := f.GetCellValue(c.Range.Sheet, c.Range.Cell(r, 0))
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// WriteResult stores text next to row (zero-based).
func (c *ColumnRows) WriteResult(ctx context.Context, row int, text string) error {
	return c.WB.Update(func(f *excelize.File) error {
		return f.SetCellValue(c.Range.Sheet, c.TargetCell(row), text)
	})
}

// TargetCell names the output cell for row.
func (c *ColumnRows) TargetCell(row int) string {
	return c.Range.Cell(row, c.Range.Cols())
}

// Address renders the input range.
func (c *ColumnRows) Address() string { return c.Range.Address() }
