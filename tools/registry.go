package tools

import (
	"github.com/lexcodex/cellmate/framework"
)

// Builtins returns the spreadsheet tools bound to wb. The table is the only
// place tools are registered.
func Builtins(wb *Workbook, cfg *framework.Config) []framework.Tool {
	readRows, readChars := framework.DefaultSnapshotMaxRows, framework.DefaultReadMaxChars
	if cfg != nil {
		readRows = orDefault(cfg.SnapshotMaxRows, readRows)
		readChars = orDefault(cfg.ReadMaxChars, readChars)
	}
	return []framework.Tool{
		&ReadRangeTool{WB: wb, MaxRows: readRows, MaxChars: readChars},
		&WriteTool{WB: wb},
		&WriteFormulaTool{WB: wb},
		&CalculateTool{WB: wb},
		&SmartFormulaTool{WB: wb},
		&FormulaGeneratorTool{WB: wb},
		&SetFormatTool{WB: wb},
		&ChartTool{WB: wb},
		&CleanNumbersTool{WB: wb},
		&ConditionalFormatTool{WB: wb},
		&TableStyleTool{WB: wb},
		&SortTool{WB: wb},
		&FilterTool{WB: wb},
		&GenerateImageTool{WB: wb},
		&InsertImageTool{WB: wb},
		&SystemTestTool{WB: wb},
	}
}

// NewRegistry builds the frozen registry of spreadsheet tools.
func NewRegistry(wb *Workbook, cfg *framework.Config) (*framework.ToolRegistry, error) {
	return framework.NewToolRegistry(Builtins(wb, cfg)...)
}
