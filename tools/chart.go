package tools

import (
	"context"

	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

var chartTypes = map[string]excelize.ChartType{
	"ColumnClustered": excelize.Col,
	"Line":            excelize.Line,
	"Pie":             excelize.Pie,
	"BarClustered":    excelize.Bar,
	"Doughnut":        excelize.Doughnut,
}

// ChartTool draws a chart from a data range whose first row holds series
// names and whose first column holds categories.
type ChartTool struct {
	WB *Workbook
}

func (t *ChartTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "create_chart",
		Description: "Create a chart from a data range. Types: ColumnClustered, Line, Pie, BarClustered, Doughnut.",
		Example:     map[string]interface{}{"dataRange": "A1:B10", "chartType": "ColumnClustered", "title": "Chart Title"},
	}
}

func (t *ChartTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "dataRange", "range")
	if ref == "" {
		return "ERROR: dataRange is required.", nil
	}
	kind, ok := chartTypes[argString(args, "chartType")]
	if !ok {
		kind = excelize.Col
	}
	title := argString(args, "title")
	if title == "" {
		title = "Chart"
	}
	anchor := argString(args, "position")
	if anchor == "" {
		anchor = "D2"
	}
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		chart := &excelize.Chart{
			Type:   kind,
			Series: chartSeries(rng, kind),
			Title:  []excelize.RichTextRun{{Text: title}},
		}
		return f.AddChart(rng.Sheet, anchor, chart)
	})
	if err != nil {
		return "", err
	}
	return "SUCCESS: Chart created.", nil
}

// chartSeries lays out one series per value column. A single-column or
// single-row range becomes one unnamed series. Pie and doughnut charts only
// plot the first series.
func chartSeries(rng CellRange, kind excelize.ChartType) []excelize.ChartSeries {
	if rng.Cols() == 1 || rng.Rows() == 1 {
		return []excelize.ChartSeries{{Values: rng.absolute()}}
	}
	categories := rng.Column(0, rng.StartRow+1)
	var series []excelize.ChartSeries
	for c := 1; c < rng.Cols(); c++ {
		header := rng.Column(c, rng.StartRow)
		header.EndRow = rng.StartRow
		series = append(series, excelize.ChartSeries{
			Name:       header.absolute(),
			Categories: categories.absolute(),
			Values:     rng.Column(c, rng.StartRow+1).absolute(),
		})
		if kind == excelize.Pie || kind == excelize.Doughnut {
			break
		}
	}
	return series
}
