package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CellRange is a rectangular block of cells, 1-based and inclusive.
type CellRange struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ParseRange parses "A1", "A1:C5" or "Sheet!A1:C5". The sheet defaults to
// fallback when the reference does not name one.
func ParseRange(ref, fallback string) (CellRange, error) {
	ref = strings.TrimSpace(ref)
	sheet := fallback
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		sheet = strings.Trim(ref[:i], "'")
		ref = ref[i+1:]
	}
	if ref == "" {
		return CellRange{}, fmt.Errorf("empty range")
	}
	first, second, isBlock := strings.Cut(strings.ReplaceAll(ref, "$", ""), ":")
	col1, row1, err := excelize.CellNameToCoordinates(strings.ToUpper(first))
	if err != nil {
		return CellRange{}, fmt.Errorf("invalid range %q: %w", ref, err)
	}
	col2, row2 := col1, row1
	if isBlock {
		col2, row2, err = excelize.CellNameToCoordinates(strings.ToUpper(second))
		if err != nil {
			return CellRange{}, fmt.Errorf("invalid range %q: %w", ref, err)
		}
	}
	if col2 < col1 {
		col1, col2 = col2, col1
	}
	if row2 < row1 {
		row1, row2 = row2, row1
	}
	return CellRange{Sheet: sheet, StartCol: col1, StartRow: row1, EndCol: col2, EndRow: row2}, nil
}

// Rows returns the number of rows covered.
func (r CellRange) Rows() int { return r.EndRow - r.StartRow + 1 }

// Cols returns the number of columns covered.
func (r CellRange) Cols() int { return r.EndCol - r.StartCol + 1 }

// Cell returns the name of the cell at the zero-based offset inside the range.
func (r CellRange) Cell(rowOffset, colOffset int) string {
	name, _ := excelize.CoordinatesToCellName(r.StartCol+colOffset, r.StartRow+rowOffset)
	return name
}

// TopLeft and BottomRight name the corner cells.
func (r CellRange) TopLeft() string     { return r.Cell(0, 0) }
func (r CellRange) BottomRight() string { return r.Cell(r.Rows()-1, r.Cols()-1) }

// Ref renders the range without a sheet prefix.
func (r CellRange) Ref() string {
	if r.Rows() == 1 && r.Cols() == 1 {
		return r.TopLeft()
	}
	return r.TopLeft() + ":" + r.BottomRight()
}

// Address renders the range with its sheet, e.g. Sheet1!A1:B2.
func (r CellRange) Address() string {
	return quoteSheet(r.Sheet) + "!" + r.Ref()
}

// absolute renders a sheet-qualified absolute reference for chart series.
func (r CellRange) absolute() string {
	first, _ := excelize.CoordinatesToCellName(r.StartCol, r.StartRow, true)
	if r.Rows() == 1 && r.Cols() == 1 {
		return quoteSheet(r.Sheet) + "!" + first
	}
	last, _ := excelize.CoordinatesToCellName(r.EndCol, r.EndRow, true)
	return quoteSheet(r.Sheet) + "!" + first + ":" + last
}

// Column returns the single-column sub-range at the zero-based offset,
// restricted to rows [fromRow, EndRow].
func (r CellRange) Column(offset, fromRow int) CellRange {
	col := r.StartCol + offset
	return CellRange{Sheet: r.Sheet, StartCol: col, EndCol: col, StartRow: fromRow, EndRow: r.EndRow}
}

func quoteSheet(name string) string {
	if strings.ContainsAny(name, " -'!") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

var currencyStripper = strings.NewReplacer("円", "", "¥", "", "$", "", ",", "", " ", "", "\t", "", "　", "")

// CleanNumber strips currency marks, separators and whitespace and parses the
// remainder.
func CleanNumber(s string) (float64, bool) {
	cleaned := currencyStripper.Replace(strings.TrimSpace(s))
	return leadingFloat(cleaned)
}

// LooseNumber keeps only digits, signs and dots before parsing; "12,000円"
// and "approx 3.5kg" both yield numbers.
func LooseNumber(s string) (float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, false
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return leadingFloat(b.String())
}

var leadingFloatPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// leadingFloat parses the longest numeric prefix of s.
func leadingFloat(s string) (float64, bool) {
	match := leadingFloatPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// strictNumber reports whether s is a plain number as written.
func strictNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var cellRefPattern = regexp.MustCompile(`(\$?)([A-Z]{1,3})(\$?)([0-9]+)`)

// shiftFormulaRows moves every relative row reference in formula by delta.
// Absolute rows ($1), function names and string literals are left alone.
func shiftFormulaRows(formula string, delta int) string {
	if delta == 0 {
		return formula
	}
	var b strings.Builder
	last := 0
	for _, m := range cellRefPattern.FindAllStringSubmatchIndex(formula, -1) {
		start, end := m[0], m[1]
		if inStringLiteral(formula, start) || !isRefBoundary(formula, start, end) {
			continue
		}
		if m[6] != m[7] {
			continue
		}
		row, err := strconv.Atoi(formula[m[8]:m[9]])
		if err != nil || row+delta < 1 {
			continue
		}
		b.WriteString(formula[last:m[8]])
		b.WriteString(strconv.Itoa(row + delta))
		last = end
	}
	b.WriteString(formula[last:])
	return b.String()
}

func isRefBoundary(s string, start, end int) bool {
	if start > 0 {
		prev := s[start-1]
		if isIdentByte(prev) || prev == '.' {
			return false
		}
	}
	if end < len(s) {
		next := s[end]
		if isIdentByte(next) || next == '(' {
			return false
		}
	}
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func inStringLiteral(s string, pos int) bool {
	return strings.Count(s[:pos], `"`)%2 == 1
}
