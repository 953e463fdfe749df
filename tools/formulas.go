package tools

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

// CalculateTool aggregates a range in Go and writes the number.
type CalculateTool struct {
	WB *Workbook
}

func (t *CalculateTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "calculate_and_write",
		Description: "Read a range, compute SUM/AVG/MAX/MIN/COUNT and write the result.",
		Example:     map[string]interface{}{"sourceRange": "B2:B11", "targetCell": "B12", "operation": "SUM"},
	}
}

func (t *CalculateTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	source := argString(args, "sourceRange", "range")
	target := argString(args, "targetCell", "startCell")
	if source == "" || target == "" {
		return "ERROR: sourceRange and targetCell are required.", nil
	}
	op := strings.ToUpper(argString(args, "operation"))
	if op == "" {
		op = "SUM"
	}
	var result float64
	var found bool
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(source, activeSheet(f))
		if err != nil {
			return err
		}
		var numbers []float64
		for r := 0; r < rng.Rows(); r++ {
			for c := 0; c < rng.Cols(); c++ {
				if n, ok := cellNumber(f, rng.Sheet, rng.Cell(r, c)); ok {
					numbers = append(numbers, n)
				}
			}
		}
		if len(numbers) == 0 {
			return nil
		}
		found = true
		result = aggregate(op, numbers)
		dest, err := ParseRange(target, rng.Sheet)
		if err != nil {
			return err
		}
		return f.SetCellValue(dest.Sheet, dest.TopLeft(), result)
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "ERROR: No numeric data found.", nil
	}
	return fmt.Sprintf("SUCCESS: %s=%s written to %s", op, formatNumber(result), target), nil
}

func aggregate(op string, numbers []float64) float64 {
	switch op {
	case "AVG", "AVERAGE":
		return sum(numbers) / float64(len(numbers))
	case "MAX":
		best := math.Inf(-1)
		for _, n := range numbers {
			best = math.Max(best, n)
		}
		return best
	case "MIN":
		best := math.Inf(1)
		for _, n := range numbers {
			best = math.Min(best, n)
		}
		return best
	case "COUNT":
		return float64(len(numbers))
	default:
		return sum(numbers)
	}
}

func sum(numbers []float64) float64 {
	total := 0.0
	for _, n := range numbers {
		total += n
	}
	return total
}

// SmartFormulaTool writes a currency-tolerant aggregate formula.
type SmartFormulaTool struct {
	WB *Workbook
}

func (t *SmartFormulaTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "smart_formula",
		Description: "Write an aggregate formula that tolerates 円/¥ currency text.",
		Example:     map[string]interface{}{"sourceRange": "B2:B11", "targetCell": "B12", "operation": "SUM"},
	}
}

func (t *SmartFormulaTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	source := argString(args, "sourceRange", "range")
	target := argString(args, "targetCell", "startCell")
	if source == "" || target == "" {
		return "ERROR: sourceRange and targetCell are required.", nil
	}
	formula := SmartFormula(argString(args, "operation"), source)
	if err := t.WB.SetCell(target, formula); err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: Formula \"%s\" written to %s", formula, target), nil
}

// SmartFormula strips yen marks before aggregating.
func SmartFormula(operation, rng string) string {
	clean := fmt.Sprintf(`SUBSTITUTE(SUBSTITUTE(%s,"円",""),"¥","")`, rng)
	switch strings.ToUpper(operation) {
	case "AVG", "AVERAGE":
		return fmt.Sprintf("=SUMPRODUCT(VALUE(%s))/COUNTA(%s)", clean, rng)
	case "MAX":
		return fmt.Sprintf("=MAX(VALUE(%s))", clean)
	case "MIN":
		return fmt.Sprintf("=MIN(VALUE(%s))", clean)
	case "COUNT":
		return fmt.Sprintf("=COUNTA(%s)", rng)
	default:
		return fmt.Sprintf("=SUMPRODUCT(VALUE(%s))", clean)
	}
}

// FormulaGeneratorTool builds a formula from a named pattern.
type FormulaGeneratorTool struct {
	WB *Workbook
}

func (t *FormulaGeneratorTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "formula_generator",
		Description: "Generate a formula from a pattern (SUM_CURRENCY, AVG_CURRENCY, PRODUCT_CURRENCY, SUM, AVERAGE, COUNT, COUNTIF, SUMIF, IF, IFS, VLOOKUP, XLOOKUP, INDEX_MATCH, CONCAT, LEFT, RIGHT, MID, TODAY, DATEDIF, RANK, LARGE, SMALL).",
		Example: map[string]interface{}{
			"targetCell": "D12",
			"pattern":    "SUM_CURRENCY",
			"range1":     "C2:C11",
			"range2":     "",
			"condition":  "",
			"value":      "",
		},
	}
}

func (t *FormulaGeneratorTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	target := argString(args, "targetCell", "startCell", "cell")
	if target == "" {
		return "ERROR: targetCell is required.", nil
	}
	pattern := strings.ToUpper(argString(args, "pattern"))
	if pattern == "" {
		pattern = "SUM_CURRENCY"
	}
	formula := PatternFormula(pattern, argString(args, "range1"), argString(args, "range2"), argString(args, "condition"), argString(args, "value"))
	if err := t.WB.SetCell(target, formula); err != nil {
		return "", err
	}
	return fmt.Sprintf("SUCCESS: %s → \"%s\" at %s", pattern, formula, target), nil
}

// PatternFormula renders the formula for pattern. Unknown patterns fall back
// to a plain SUM over r1.
func PatternFormula(pattern, r1, r2, cond, val string) string {
	if r1 == "" {
		r1 = "A1:A10"
	}
	currency := func(r string) string {
		return fmt.Sprintf(`VALUE(SUBSTITUTE(SUBSTITUTE(SUBSTITUTE(%s,"円",""),"¥",""),",",""))`, r)
	}
	switch strings.ToUpper(pattern) {
	case "SUM_CURRENCY", "":
		return fmt.Sprintf("=SUMPRODUCT(%s)", currency(r1))
	case "AVG_CURRENCY":
		return fmt.Sprintf("=SUMPRODUCT(%s)/COUNTA(%s)", currency(r1), r1)
	case "MAX_CURRENCY":
		return fmt.Sprintf("=MAX(%s)", currency(r1))
	case "MIN_CURRENCY":
		return fmt.Sprintf("=MIN(%s)", currency(r1))
	case "PRODUCT_CURRENCY":
		return fmt.Sprintf("=PRODUCT(%s)", currency(r1))
	case "SUM":
		return fmt.Sprintf("=SUM(%s)", r1)
	case "AVERAGE":
		return fmt.Sprintf("=AVERAGE(%s)", r1)
	case "COUNT":
		return fmt.Sprintf("=COUNTA(%s)", r1)
	case "COUNTIF":
		return fmt.Sprintf(`=COUNTIF(%s,"%s")`, r1, cond)
	case "SUMIF":
		return fmt.Sprintf(`=SUMIF(%s,"%s",%s)`, r1, cond, r2)
	case "IF":
		return fmt.Sprintf(`=IF(%s%s,"%s","")`, r1, cond, val)
	case "IFS":
		return fmt.Sprintf("=IFS(%s)", cond)
	case "VLOOKUP":
		return fmt.Sprintf("=VLOOKUP(%s,%s,%s,FALSE)", val, r1, r2)
	case "XLOOKUP":
		return fmt.Sprintf(`=XLOOKUP(%s,%s,%s,"")`, val, r1, r2)
	case "INDEX_MATCH":
		return fmt.Sprintf("=INDEX(%s,MATCH(%s,%s,0))", r2, val, r1)
	case "CONCAT":
		return fmt.Sprintf(`=TEXTJOIN("%s",TRUE,%s)`, cond, r1)
	case "LEFT":
		return fmt.Sprintf("=LEFT(%s,%s)", r1, val)
	case "RIGHT":
		return fmt.Sprintf("=RIGHT(%s,%s)", r1, val)
	case "MID":
		return fmt.Sprintf("=MID(%s,%s,%s)", r1, cond, val)
	case "TODAY":
		return "=TODAY()"
	case "DATEDIF":
		return fmt.Sprintf(`=DATEDIF(%s,%s,"%s")`, r1, r2, val)
	case "RANK":
		return fmt.Sprintf("=RANK(%s,%s)", r1, r2)
	case "LARGE":
		return fmt.Sprintf("=LARGE(%s,%s)", r1, val)
	case "SMALL":
		return fmt.Sprintf("=SMALL(%s,%s)", r1, val)
	default:
		return fmt.Sprintf("=SUM(%s)", r1)
	}
}

// CleanNumbersTool converts currency text cells into numbers in place.
type CleanNumbersTool struct {
	WB *Workbook
}

func (t *CleanNumbersTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "clean_to_numbers",
		Description: "Convert text such as 12,000円 into numbers (removes 円, ¥, $ and commas).",
		Example:     map[string]interface{}{"range": "A1:A10"},
	}
}

func (t *CleanNumbersTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "range")
	if ref == "" {
		return "ERROR: range is required.", nil
	}
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		for r := 0; r < rng.Rows(); r++ {
			for c := 0; c < rng.Cols(); c++ {
				cell := rng.Cell(r, c)
				if formula, _ := f.GetCellFormula(rng.Sheet, cell); formula != "" {
					continue
				}
				raw, err := f.GetCellValue(rng.Sheet, cell)
				if err != nil {
					return err
				}
				if n, ok := CleanNumber(raw); ok {
					if err := f.SetCellValue(rng.Sheet, cell, n); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "SUCCESS: Converted to numbers.", nil
}
