package tools

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

var testProducts = []string{"Laptop", "Mouse", "Monitor", "Keyboard", "Headset", "Tablet", "Cable", "Charger", "Dock", "Webcam"}

// SystemTestTool exercises the whole tool chain on a fresh worksheet and
// reports every step.
type SystemTestTool struct {
	WB *Workbook
}

func (t *SystemTestTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "run_all_tests",
		Description: "Run the end-to-end system test of every tool on a new sheet.",
		Example:     map[string]interface{}{"mode": "full"},
	}
}

type diagnosticStep struct {
	label string
	tool  framework.Tool
	args  map[string]interface{}
}

func (t *SystemTestTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	sheet := fmt.Sprintf("Test_%d", time.Now().UnixMilli())
	if err := t.WB.Update(func(f *excelize.File) error {
		idx, err := f.NewSheet(sheet)
		if err != nil {
			return err
		}
		f.SetActiveSheet(idx)
		return nil
	}); err != nil {
		return fmt.Sprintf("ERROR: System test setup failed: %v", err), nil
	}

	steps := []diagnosticStep{
		{"1. Data Setup", &WriteTool{WB: t.WB}, map[string]interface{}{"startCell": "A1", "data": sampleSales()}},
		{"2. Cleaning", &CleanNumbersTool{WB: t.WB}, map[string]interface{}{"range": "B2:B21"}},
		{"3. Formula", &FormulaGeneratorTool{WB: t.WB}, map[string]interface{}{"targetCell": "D2", "pattern": "PRODUCT_CURRENCY", "range1": "B2:C2"}},
	}
	for row := 3; row <= 21; row++ {
		steps = append(steps, diagnosticStep{"", &WriteFormulaTool{WB: t.WB}, map[string]interface{}{
			"startCell": fmt.Sprintf("D%d", row),
			"formula":   fmt.Sprintf("=B%d*C%d", row, row),
		}})
	}
	steps = append(steps,
		diagnosticStep{"4. Formatting", &SetFormatTool{WB: t.WB}, map[string]interface{}{"range": "A1:D1", "fillColor": "#4472C4", "fontColor": "#FFFFFF", "bold": true}},
		diagnosticStep{"5. Table", &TableStyleTool{WB: t.WB}, map[string]interface{}{"range": "A1:D21", "styleName": "TableStyleMedium2"}},
		diagnosticStep{"6. Chart", &ChartTool{WB: t.WB}, map[string]interface{}{"dataRange": "A1:D21", "chartType": "ColumnClustered", "title": "System Test Chart", "position": "F8"}},
		diagnosticStep{"7. Cond. Format", &ConditionalFormatTool{WB: t.WB}, map[string]interface{}{"range": "C2:C21", "type": "dataBar", "color": "#00B050"}},
		diagnosticStep{"8. Sort", &SortTool{WB: t.WB}, map[string]interface{}{"range": "A2:D21", "column": 1, "ascending": false}},
		diagnosticStep{"9. Read Check", &ReadRangeTool{WB: t.WB}, map[string]interface{}{"range": "A1:D21"}},
		diagnosticStep{"10. Image Gen", &GenerateImageTool{WB: t.WB}, map[string]interface{}{"prompt": "Test Image"}},
		diagnosticStep{"11A. Multi-Multi", &WriteTool{WB: t.WB}, map[string]interface{}{"startCell": "F2", "data": []interface{}{[]interface{}{10.0, 20.0}, []interface{}{30.0, 40.0}, []interface{}{50.0, 60.0}}}},
		diagnosticStep{"11B. Multi-One", &WriteTool{WB: t.WB}, map[string]interface{}{"startCell": "F6", "data": "Finished"}},
	)

	var report []string
	for _, step := range steps {
		out, err := step.tool.Execute(ctx, step.args)
		if err != nil {
			return fmt.Sprintf("ERROR: System test failed at %s: %v\n\nDETAILS:\n%s", stepName(step), err, strings.Join(report, "\n")), nil
		}
		if step.label == "" {
			continue
		}
		if step.tool.Spec().Name == "read_excel_range" {
			if len(out) > 10 {
				out = "SUCCESS (Data Read)"
			} else {
				out = "WARNING (Read Empty?)"
			}
		}
		report = append(report, fmt.Sprintf("[%s] %s", step.label, out))
	}
	return fmt.Sprintf("SUCCESS: System Test Completed on '%s'\n\nDETAILS:\n%s", sheet, strings.Join(report, "\n")), nil
}

func stepName(step diagnosticStep) string {
	if step.label != "" {
		return step.label
	}
	return step.tool.Spec().Name
}

// sampleSales builds a tab separated table of 20 products with yen prices.
func sampleSales() string {
	var b strings.Builder
	b.WriteString("Product\tPrice\tQty\n")
	for i := 0; i < 20; i++ {
		price := (rand.Intn(100) + 10) * 1000
		qty := rand.Intn(5) + 1
		fmt.Fprintf(&b, "%s_%d\t%s円\t%d\n", testProducts[i%len(testProducts)], i+1, groupThousands(price), qty)
	}
	return b.String()
}

func groupThousands(n int) string {
	s := fmt.Sprint(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
