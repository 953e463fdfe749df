package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

func run(t *testing.T, tool framework.Tool, args map[string]interface{}) string {
	t.Helper()
	out, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)
	return out
}

func cell(t *testing.T, wb *Workbook, ref string) string {
	t.Helper()
	v, err := wb.CellValue(ref)
	require.NoError(t, err)
	return v
}

func formulaAt(t *testing.T, wb *Workbook, ref string) string {
	t.Helper()
	var out string
	require.NoError(t, wb.View(func(f *excelize.File) error {
		var err error
		out, err = f.GetCellFormula("Sheet1", ref)
		return err
	}))
	return out
}

func TestParseRange(t *testing.T) {
	rng, err := ParseRange("b2:a1", "Sheet1")
	require.NoError(t, err)
	assert.Equal(t, CellRange{Sheet: "Sheet1", StartCol: 1, StartRow: 1, EndCol: 2, EndRow: 2}, rng)
	assert.Equal(t, "Sheet1!A1:B2", rng.Address())

	rng, err = ParseRange("'My Data'!$C$3", "Sheet1")
	require.NoError(t, err)
	assert.Equal(t, "My Data", rng.Sheet)
	assert.Equal(t, "'My Data'!C3", rng.Address())
	assert.Equal(t, "'My Data'!$C$3", rng.absolute())

	_, err = ParseRange("not a cell", "Sheet1")
	assert.Error(t, err)
}

func TestNumberCleaning(t *testing.T) {
	n, ok := CleanNumber("12,000円")
	assert.True(t, ok)
	assert.Equal(t, 12000.0, n)

	n, ok = CleanNumber("¥ 1,500.5")
	assert.True(t, ok)
	assert.Equal(t, 1500.5, n)

	_, ok = CleanNumber("Laptop")
	assert.False(t, ok)

	n, ok = LooseNumber("approx -3.5kg")
	assert.True(t, ok)
	assert.Equal(t, -3.5, n)

	_, ok = LooseNumber("-")
	assert.False(t, ok)
}

func TestShiftFormulaRows(t *testing.T) {
	assert.Equal(t, "B5*C5", shiftFormulaRows("B3*C3", 2))
	assert.Equal(t, "SUM($A$1:A2)", shiftFormulaRows("SUM($A$1:A4)", -2))
	assert.Equal(t, `LOG10(A3)&"B2"`, shiftFormulaRows(`LOG10(A2)&"B2"`, 1))
	assert.Equal(t, "A$2+B3", shiftFormulaRows("A$2+B2", 1))
}

func TestNormalizeWriteData(t *testing.T) {
	rows, formula := normalizeWriteData(`=SUMIF(A1:A3,\"x\",B1:B3)`)
	assert.True(t, formula)
	assert.Equal(t, [][]interface{}{{`=SUMIF(A1:A3,"x",B1:B3)`}}, rows)

	rows, formula = normalizeWriteData("name,qty\napple,3\n\nbanana")
	assert.False(t, formula)
	assert.Equal(t, [][]interface{}{{"name", "qty"}, {"apple", 3.0}, {"banana", ""}}, rows)

	rows, _ = normalizeWriteData("a\tb,c\n1\t2")
	assert.Equal(t, [][]interface{}{{"a", "b,c"}, {1.0, 2.0}}, rows)

	rows, _ = normalizeWriteData([]interface{}{1.0, "x"})
	assert.Equal(t, [][]interface{}{{1.0, "x"}}, rows)

	rows, _ = normalizeWriteData([]interface{}{[]interface{}{1.0}, []interface{}{2.0, 3.0}})
	assert.Equal(t, [][]interface{}{{1.0, ""}, {2.0, 3.0}}, rows)

	rows, _ = normalizeWriteData("")
	assert.Empty(t, rows)
}

func TestWriteTool(t *testing.T) {
	wb := NewMemoryWorkbook()
	tool := &WriteTool{WB: wb}

	out := run(t, tool, map[string]interface{}{"startCell": "B2", "data": "x,y"})
	assert.Equal(t, "SUCCESS: Wrote data to Sheet1!B2", out)

	out = run(t, tool, map[string]interface{}{"targetCell": "A1", "value": "hello"})
	assert.Equal(t, "SUCCESS: Wrote data to Sheet1!A1", out)
	assert.Equal(t, "hello", cell(t, wb, "A1"))

	out = run(t, tool, map[string]interface{}{"startCell": "C1", "data": "=SUM(A2:A3)"})
	assert.Equal(t, "SUCCESS: Wrote formula to Sheet1!C1", out)
	assert.Equal(t, "SUM(A2:A3)", formulaAt(t, wb, "C1"))

	run(t, tool, map[string]interface{}{"startCell": "E1", "data": []interface{}{[]interface{}{1.0, 2.0}, []interface{}{3.0}}})
	assert.Equal(t, "2", cell(t, wb, "F1"))
	assert.Equal(t, "3", cell(t, wb, "E2"))

	assert.Equal(t, "No data to write.", run(t, tool, map[string]interface{}{"startCell": "A1"}))
}

func TestWriteToolFallsBackToActiveSheet(t *testing.T) {
	wb := NewMemoryWorkbook()
	out := run(t, &WriteTool{WB: wb}, map[string]interface{}{"sheet": "Missing", "cell": "A2", "data": "x"})
	assert.Equal(t, "SUCCESS: Wrote data to Sheet1!A2", out)
}

func TestCalculateTool(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": []interface{}{
		[]interface{}{"1,000円"}, []interface{}{"2,500円"}, []interface{}{"note"}, []interface{}{500.0},
	}})
	tool := &CalculateTool{WB: wb}

	assert.Equal(t, "SUCCESS: SUM=4000 written to A5", run(t, tool, map[string]interface{}{"sourceRange": "A1:A4", "targetCell": "A5"}))
	assert.Equal(t, "4000", cell(t, wb, "A5"))
	assert.Equal(t, "SUCCESS: MAX=2500 written to B1", run(t, tool, map[string]interface{}{"sourceRange": "A1:A4", "targetCell": "B1", "operation": "max"}))
	assert.Equal(t, "SUCCESS: COUNT=3 written to B2", run(t, tool, map[string]interface{}{"sourceRange": "A1:A4", "targetCell": "B2", "operation": "COUNT"}))
	assert.Equal(t, "ERROR: No numeric data found.", run(t, tool, map[string]interface{}{"sourceRange": "Z1:Z3", "targetCell": "B3"}))
}

func TestPatternFormula(t *testing.T) {
	assert.Equal(t, `=SUMPRODUCT(VALUE(SUBSTITUTE(SUBSTITUTE(SUBSTITUTE(C2:C11,"円",""),"¥",""),",","")))`, PatternFormula("SUM_CURRENCY", "C2:C11", "", "", ""))
	assert.Equal(t, `=COUNTIF(A1:A9,">5")`, PatternFormula("countif", "A1:A9", "", ">5", ""))
	assert.Equal(t, "=INDEX(B1:B9,MATCH(E1,A1:A9,0))", PatternFormula("INDEX_MATCH", "A1:A9", "B1:B9", "", "E1"))
	assert.Equal(t, "=SUM(A1:A10)", PatternFormula("UNKNOWN", "", "", "", ""))
	assert.Equal(t, `=MAX(VALUE(SUBSTITUTE(SUBSTITUTE(B2:B5,"円",""),"¥","")))`, SmartFormula("max", "B2:B5"))
}

func TestFormulaGeneratorTool(t *testing.T) {
	wb := NewMemoryWorkbook()
	out := run(t, &FormulaGeneratorTool{WB: wb}, map[string]interface{}{"targetCell": "D12", "pattern": "sum", "range1": "D2:D11"})
	assert.Equal(t, `SUCCESS: SUM → "=SUM(D2:D11)" at D12`, out)
	assert.Equal(t, "SUM(D2:D11)", formulaAt(t, wb, "D12"))

	assert.True(t, strings.HasPrefix(run(t, &FormulaGeneratorTool{WB: wb}, map[string]interface{}{"pattern": "SUM"}), "ERROR"))
}

func TestCleanNumbersTool(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": []interface{}{[]interface{}{"12,000円"}, []interface{}{"$5"}, []interface{}{"text"}}})

	assert.Equal(t, "SUCCESS: Converted to numbers.", run(t, &CleanNumbersTool{WB: wb}, map[string]interface{}{"range": "A1:A3"}))
	assert.Equal(t, "12000", cell(t, wb, "A1"))
	assert.Equal(t, "5", cell(t, wb, "A2"))
	assert.Equal(t, "text", cell(t, wb, "A3"))
}

func TestFormattingTools(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": "name,score\nann,3\nbob,9\ncid,5"})

	assert.Equal(t, "SUCCESS: Format applied.", run(t, &SetFormatTool{WB: wb}, map[string]interface{}{"range": "A1:B1", "bgColor": "#4472C4", "fontBold": true}))
	assert.Equal(t, "SUCCESS: Format applied.", run(t, &SetFormatTool{WB: wb}, map[string]interface{}{"range": "A1", "color": "#FFFFFF"}))
	require.NoError(t, wb.View(func(f *excelize.File) error {
		id, err := f.GetCellStyle("Sheet1", "A1")
		require.NoError(t, err)
		style, err := f.GetStyle(id)
		require.NoError(t, err)
		require.NotNil(t, style.Font)
		assert.True(t, style.Font.Bold)
		return nil
	}))

	for _, kind := range []string{"dataBar", "colorScale", "highlight"} {
		out := run(t, &ConditionalFormatTool{WB: wb}, map[string]interface{}{"range": "B2:B4", "type": kind, "threshold": 4.0})
		assert.Equal(t, "SUCCESS: Conditional format applied.", out, kind)
	}
	assert.Equal(t, "SUCCESS: Table created with style.", run(t, &TableStyleTool{WB: wb}, map[string]interface{}{"range": "A1:B4"}))
	assert.Equal(t, "SUCCESS: Chart created.", run(t, &ChartTool{WB: wb}, map[string]interface{}{"dataRange": "A1:B4", "chartType": "Pie"}))
}

func TestChartSeriesLayout(t *testing.T) {
	rng, err := ParseRange("A1:C5", "Sheet1")
	require.NoError(t, err)

	series := chartSeries(rng, excelize.Col)
	require.Len(t, series, 2)
	assert.Equal(t, "Sheet1!$B$1", series[0].Name)
	assert.Equal(t, "Sheet1!$A$2:$A$5", series[0].Categories)
	assert.Equal(t, "Sheet1!$C$2:$C$5", series[1].Values)

	assert.Len(t, chartSeries(rng, excelize.Pie), 1)
}

func TestSortTool(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": "b,20\na,30\nc,10"})
	run(t, &WriteFormulaTool{WB: wb}, map[string]interface{}{"startCell": "C1", "formula": "=B1*2"})
	run(t, &WriteFormulaTool{WB: wb}, map[string]interface{}{"startCell": "C2", "formula": "=B2*2"})
	run(t, &WriteFormulaTool{WB: wb}, map[string]interface{}{"startCell": "C3", "formula": "=B3*2"})

	assert.Equal(t, "SUCCESS: Range sorted.", run(t, &SortTool{WB: wb}, map[string]interface{}{"range": "A1:C3", "column": 1, "ascending": false}))

	assert.Equal(t, "a", cell(t, wb, "A1"))
	assert.Equal(t, "b", cell(t, wb, "A2"))
	assert.Equal(t, "c", cell(t, wb, "A3"))
	assert.Equal(t, "B1*2", formulaAt(t, wb, "C1"))
	assert.Equal(t, "B3*2", formulaAt(t, wb, "C3"))

	run(t, &SortTool{WB: wb}, map[string]interface{}{"range": "A1:C3"})
	assert.Equal(t, "a", cell(t, wb, "A1"))
	assert.Equal(t, "c", cell(t, wb, "A3"))
}

func TestFilterTool(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": "item,qty\nLaptop,1\nMouse,2\nlaptop,3"})

	out := run(t, &FilterTool{WB: wb}, map[string]interface{}{"range": "A1:B4", "column": 0, "criteria": "Laptop"})
	assert.Equal(t, "SUCCESS: Filter applied (1 rows hidden).", out)
	require.NoError(t, wb.View(func(f *excelize.File) error {
		visible, err := f.GetRowVisible("Sheet1", 3)
		require.NoError(t, err)
		assert.False(t, visible)
		visible, err = f.GetRowVisible("Sheet1", 4)
		require.NoError(t, err)
		assert.True(t, visible)
		return nil
	}))
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestImageTools(t *testing.T) {
	wb := NewMemoryWorkbook()

	out := run(t, &InsertImageTool{WB: wb}, map[string]interface{}{"base64": "data:image/png;base64," + pngBase64(t), "name": "logo"})
	assert.Equal(t, "SUCCESS: Image inserted into sheet.", out)
	assert.True(t, strings.HasPrefix(run(t, &InsertImageTool{WB: wb}, map[string]interface{}{"base64": "aGVsbG8="}), "ERROR"))

	out = run(t, &GenerateImageTool{WB: wb}, map[string]interface{}{"prompt": "a cat"})
	assert.Equal(t, "SUCCESS: Generated image for 'a cat'", out)
}

func TestSnapshotAndReadTruncation(t *testing.T) {
	wb := NewMemoryWorkbook()
	var rows []interface{}
	for i := 0; i < 30; i++ {
		rows = append(rows, []interface{}{"1,000円", float64(i)})
	}
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": rows})

	snap, err := wb.Snapshot(20, 1000)
	require.NoError(t, err)
	assert.Empty(t, snap)

	require.NoError(t, wb.Select("A1:B30"))
	snap, err = wb.Snapshot(20, 1000)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(snap, "Address: Sheet1!A1:B30\nValues: [[1000,0],"))
	assert.Contains(t, snap, `["...(truncated)"]`)

	snap, err = wb.Snapshot(20, 50)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(snap, "...(truncated)"))

	out := run(t, &ReadRangeTool{WB: wb, MaxRows: 2, MaxChars: 1500}, map[string]interface{}{})
	assert.Equal(t, `[[1000,0],[1000,1],["...(truncated)"]]`, out)
}

func TestSnapshotClipsOnRuneBoundary(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": []interface{}{[]interface{}{"東京都"}, []interface{}{"大阪府"}}})
	require.NoError(t, wb.Select("A1:A2"))

	snap, err := wb.Snapshot(20, 6)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(snap))
	assert.Equal(t, "Address: Sheet1!A1:A2\nValues: [[\"東京都...(truncated)", snap)
}

func TestColumnRows(t *testing.T) {
	wb := NewMemoryWorkbook()
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": []interface{}{[]interface{}{"x"}, []interface{}{""}, []interface{}{"z"}}})

	rows, err := NewColumnRows(wb, "A1:A3")
	require.NoError(t, err)
	values, err := rows.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "", "z"}, values)

	require.NoError(t, rows.WriteResult(context.Background(), 2, "done"))
	assert.Equal(t, "B3", rows.TargetCell(2))
	assert.Equal(t, "done", cell(t, wb, "B3"))
}

func TestWorkbookPersistsUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	wb, err := OpenWorkbook(path)
	require.NoError(t, err)
	run(t, &WriteTool{WB: wb}, map[string]interface{}{"startCell": "A1", "data": "saved"})
	addr, err := wb.WriteActiveCell("applied")
	require.NoError(t, err)
	assert.Equal(t, "Sheet1!A1", addr)
	require.NoError(t, wb.Close())

	reopened, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, "applied", cell(t, reopened, "A1"))
}

func TestRegistryTable(t *testing.T) {
	registry, err := NewRegistry(NewMemoryWorkbook(), framework.DefaultConfig("", ""))
	require.NoError(t, err)
	assert.Len(t, registry.Names(), 16)
	for _, name := range []string{"write_to_excel", "formula_generator", "set_format", "create_chart", "insert_image", "generate_image", "run_all_tests"} {
		assert.True(t, registry.Has(name), name)
	}
}

func TestSystemTestTool(t *testing.T) {
	wb := NewMemoryWorkbook()

	out := run(t, &SystemTestTool{WB: wb}, map[string]interface{}{"mode": "full"})

	assert.True(t, strings.HasPrefix(out, "SUCCESS: System Test Completed"), out)
	assert.Contains(t, out, "[11B. Multi-One] SUCCESS")
	assert.True(t, strings.HasPrefix(wb.ActiveSheet(), "Test_"))
	assert.Equal(t, "Finished", cell(t, wb, "F6"))
}
