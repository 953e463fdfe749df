package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// Workbook is the host document every tool operates on. Access is serialized
// by a mutex and every mutation is flushed to disk when the workbook has a
// path.
type Workbook struct {
	mu        sync.Mutex
	file      *excelize.File
	path      string
	selection string
}

// OpenWorkbook opens path, creating an empty workbook when it does not exist.
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f = excelize.NewFile()
		if err := f.SaveAs(path); err != nil {
			return nil, fmt.Errorf("create workbook: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{file: f, path: path}, nil
}

// NewMemoryWorkbook returns a workbook that is never written to disk.
func NewMemoryWorkbook() *Workbook {
	return &Workbook{file: excelize.NewFile()}
}

// Path returns the backing file, or "" for in-memory workbooks.
func (w *Workbook) Path() string { return w.path }

// Close releases the underlying file.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// View runs fn with exclusive read access.
func (w *Workbook) View(fn func(f *excelize.File) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.file)
}

// Update runs fn with exclusive access and saves the workbook afterwards.
// Changes applied before fn fails are kept; the workbook is not transactional.
func (w *Workbook) Update(fn func(f *excelize.File) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fnErr := fn(w.file)
	if err := w.saveLocked(); err != nil {
		return errors.Join(fnErr, err)
	}
	return fnErr
}

// Save flushes the workbook to disk.
func (w *Workbook) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveLocked()
}

func (w *Workbook) saveLocked() error {
	if w.path == "" {
		return nil
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// ActiveSheet returns the name of the active worksheet.
func (w *Workbook) ActiveSheet() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return activeSheet(w.file)
}

func activeSheet(f *excelize.File) string {
	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		if sheets := f.GetSheetList(); len(sheets) > 0 {
			return sheets[0]
		}
	}
	return name
}

// Select records the range the user is working on. An empty ref clears it.
func (w *Workbook) Select(ref string) error {
	if ref == "" {
		w.mu.Lock()
		w.selection = ""
		w.mu.Unlock()
		return nil
	}
	rng, err := ParseRange(ref, w.ActiveSheet())
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if idx, err := w.file.GetSheetIndex(rng.Sheet); err != nil || idx < 0 {
		return fmt.Errorf("sheet %q not found", rng.Sheet)
	}
	w.selection = rng.Address()
	return nil
}

// Selection returns the selected range, falling back to A1 of the active
// sheet.
func (w *Workbook) Selection() CellRange {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectionLocked()
}

func (w *Workbook) selectionLocked() CellRange {
	sheet := activeSheet(w.file)
	if w.selection != "" {
		if rng, err := ParseRange(w.selection, sheet); err == nil {
			return rng
		}
	}
	rng, _ := ParseRange("A1", sheet)
	return rng
}

// resolve parses ref against the active sheet, or returns the selection when
// ref is empty.
func (w *Workbook) resolve(f *excelize.File, ref string) (CellRange, error) {
	if ref == "" {
		return w.selectionLocked(), nil
	}
	return ParseRange(ref, activeSheet(f))
}

// readGrid returns the displayed value of each cell in rng.
func readGrid(f *excelize.File, rng CellRange) ([][]string, error) {
	grid := make([][]string, 0, rng.Rows())
	for r := 0; r < rng.Rows(); r++ {
		row := make([]string, 0, rng.Cols())
		for c := 0; c < rng.Cols(); c++ {
			v, err := f.GetCellValue(rng.Sheet, rng.Cell(r, c))
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		grid = append(grid, row)
	}
	return grid, nil
}

// cellNumber evaluates formulas before coercing the value.
func cellNumber(f *excelize.File, sheet, cell string) (float64, bool) {
	formula, _ := f.GetCellFormula(sheet, cell)
	var raw string
	if formula != "" {
		raw, _ = f.CalcCellValue(sheet, cell)
	} else {
		raw, _ = f.GetCellValue(sheet, cell)
	}
	return LooseNumber(raw)
}

// cleanGrid converts numeric-looking cells into numbers for prompt snapshots.
func cleanGrid(grid [][]string) [][]interface{} {
	out := make([][]interface{}, 0, len(grid))
	for _, row := range grid {
		cleaned := make([]interface{}, 0, len(row))
		for _, cell := range row {
			if n, ok := LooseNumber(cell); ok {
				cleaned = append(cleaned, n)
				continue
			}
			cleaned = append(cleaned, cell)
		}
		out = append(out, cleaned)
	}
	return out
}

// serializeGrid renders at most maxRows rows as JSON, clipped at maxChars.
func serializeGrid(grid [][]string, maxRows, maxChars int) string {
	values := cleanGrid(grid)
	if maxRows > 0 && len(values) > maxRows {
		values = append(values[:maxRows:maxRows], []interface{}{"...(truncated)"})
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	text := string(encoded)
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars]) + "...(truncated)"
	}
	return text
}

// Snapshot serializes the current selection for inclusion in a prompt. It
// returns "" when nothing is selected or the selection is empty.
func (w *Workbook) Snapshot(maxRows, maxChars int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selection == "" {
		return "", nil
	}
	rng := w.selectionLocked()
	grid, err := readGrid(w.file, rng)
	if err != nil {
		return "", err
	}
	empty := true
	for _, row := range grid {
		for _, cell := range row {
			if cell != "" {
				empty = false
			}
		}
	}
	if empty {
		return "", nil
	}
	return fmt.Sprintf("Address: %s\nValues: %s", rng.Address(), serializeGrid(grid, maxRows, maxChars)), nil
}

// WriteActiveCell stores text in the top-left cell of the selection.
func (w *Workbook) WriteActiveCell(text string) (string, error) {
	var addr string
	err := w.Update(func(f *excelize.File) error {
		rng := w.selectionLocked()
		cell := rng.TopLeft()
		addr = quoteSheet(rng.Sheet) + "!" + cell
		return f.SetCellValue(rng.Sheet, cell, text)
	})
	return addr, err
}

// CellValue reads one cell; ref may carry a sheet prefix.
func (w *Workbook) CellValue(ref string) (string, error) {
	var out string
	err := w.View(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		out, err = f.GetCellValue(rng.Sheet, rng.TopLeft())
		return err
	})
	return out, err
}

// SetCell writes one value; ref may carry a sheet prefix. Strings starting
// with "=" are stored as formulas.
func (w *Workbook) SetCell(ref string, value interface{}) error {
	return w.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		return setCell(f, rng.Sheet, rng.TopLeft(), value)
	})
}
