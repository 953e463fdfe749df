package agents

import (
	"regexp"
	"strings"
)

// PromptMode names the system prompt chosen for a request.
type PromptMode string

const (
	ModeFormula     PromptMode = "formula"
	ModeDesign      PromptMode = "design"
	ModeDiagnostics PromptMode = "diagnostics"
	ModeGeneral     PromptMode = "general"
)

var (
	formulaIntent     = regexp.MustCompile(`計算|合計|平均|数式|関数|sum|avg|max|min|count|total|average|formula`)
	designIntent      = regexp.MustCompile(`色|太字|書式|グラフ|チャート|color|colour|bold|format|chart`)
	diagnosticsIntent = regexp.MustCompile(`システムテスト|system test|self[- ]test`)
)

const formulaPrompt = `Excel formula agent. Operations are JSON.

[Main tool] formula_generator
{"call":"formula_generator","args":{"targetCell":"D12","pattern":"SUM_CURRENCY","range1":"C2:C10"}}

[Patterns]
Aggregates (yen aware): SUM_CURRENCY, AVG_CURRENCY, MAX_CURRENCY, MIN_CURRENCY
Multiply (yen aware): PRODUCT_CURRENCY
Standard: SUM, AVERAGE, COUNT, COUNTIF, SUMIF
Conditional: IF, IFS
Lookup: VLOOKUP, XLOOKUP, INDEX_MATCH
Text: CONCAT, LEFT, RIGHT, MID
Date: TODAY, DATEDIF
Rank: RANK, LARGE, SMALL

[Other]
set_format, write_to_excel`

const designPrompt = `Excel design agent. Operations are JSON.

[Main tools]
set_format: cell formatting
{"call":"set_format","args":{"range":"A1:D1","fillColor":"#4472C4","bold":true,"fontColor":"#FFFFFF"}}

create_chart: charts
{"call":"create_chart","args":{"dataRange":"A1:B10","chartType":"ColumnClustered"}}
Types: ColumnClustered, Line, Pie, BarClustered

add_conditional_format: conditional formatting
{"call":"add_conditional_format","args":{"range":"B2:B10","type":"dataBar","color":"#00B050"}}

[Other]
write_to_excel`

const diagnosticsPrompt = `System health check agent.
Follow the user's instruction and diagnose whether the tools work.
Always keep the JSON format.

[Main tool]
run_all_tests: run the system test
{"call": "run_all_tests", "args": {"mode": "full"}}`

const generalPrompt = `Excel operation agent.
Operation request -> JSON output.
General question -> text answer.

[Tools]
formula_generator: formulas
{"call":"formula_generator","args":{"targetCell":"B1","pattern":"SUM_CURRENCY","range1":"A1:A10"}}

set_format: formatting
{"call":"set_format","args":{"range":"A1","fillColor":"#FFFF00","bold":true}}

write_formula: any function
{"call":"write_formula","args":{"startCell":"B10","formula":"=STDEV(B2:B9)"}}

write_to_excel: values (lists and grids allowed)
{"call":"write_to_excel","args":{"startCell":"A1","data":[["ID","Name"],["1","A"],["2","B"]]}}

generate_image: image generation
{"call":"generate_image","args":{"prompt":"blue sky and sea"}}

run_all_tests: system test
{"call":"run_all_tests","args":{"mode":"full"}}

clean_to_numbers: convert to numbers
{"call":"clean_to_numbers","args":{"range":"A1:A10"}}

apply_table_style: table
{"call":"apply_table_style","args":{"range":"A1:C5","styleName":"TableStyleMedium2"}}

For several operations output several JSON objects.`

// DetectMode classifies the request by keyword. Formula intent wins over
// design intent, which wins over diagnostics.
func DetectMode(text string) PromptMode {
	lower := strings.ToLower(text)
	switch {
	case formulaIntent.MatchString(lower):
		return ModeFormula
	case designIntent.MatchString(lower):
		return ModeDesign
	case diagnosticsIntent.MatchString(lower):
		return ModeDiagnostics
	default:
		return ModeGeneral
	}
}

// SystemPrompt returns the instruction text for mode.
func SystemPrompt(mode PromptMode) string {
	switch mode {
	case ModeFormula:
		return formulaPrompt
	case ModeDesign:
		return designPrompt
	case ModeDiagnostics:
		return diagnosticsPrompt
	default:
		return generalPrompt
	}
}

// SelectSystemPrompt picks the system instruction for a user request.
func SelectSystemPrompt(text string) string {
	return SystemPrompt(DetectMode(text))
}
