package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/lexcodex/cellmate/framework"
)

// SetFormatTool applies fill color, bold and font color to a range.
type SetFormatTool struct {
	WB *Workbook
}

func (t *SetFormatTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "set_format",
		Description: "Set background color, bold and font color for a range.",
		Example:     map[string]interface{}{"range": "A1:A10", "bgColor": "#FFFF00", "fontBold": true},
	}
}

func (t *SetFormatTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "range")
	if ref == "" {
		ref = "A1"
	}
	fill := argString(args, "fillColor", "bgColor")
	bold, hasBold := argBool(args, "bold", "fontBold")
	fontColor := argString(args, "fontColor", "color")
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		derived := make(map[int]int)
		for r := 0; r < rng.Rows(); r++ {
			for c := 0; c < rng.Cols(); c++ {
				cell := rng.Cell(r, c)
				base, err := f.GetCellStyle(rng.Sheet, cell)
				if err != nil {
					return err
				}
				id, ok := derived[base]
				if !ok {
					style, err := f.GetStyle(base)
					if err != nil || style == nil {
						style = &excelize.Style{}
					}
					if fill != "" {
						style.Fill = excelize.Fill{Type: "pattern", Color: []string{colorHex(fill)}, Pattern: 1}
					}
					if hasBold || fontColor != "" {
						if style.Font == nil {
							style.Font = &excelize.Font{}
						}
						if hasBold {
							style.Font.Bold = bold
						}
						if fontColor != "" {
							style.Font.Color = colorHex(fontColor)
						}
					}
					if id, err = f.NewStyle(style); err != nil {
						return err
					}
					derived[base] = id
				}
				if err := f.SetCellStyle(rng.Sheet, cell, cell, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "SUCCESS: Format applied.", nil
}

// ConditionalFormatTool adds data bars, color scales or threshold highlights.
type ConditionalFormatTool struct {
	WB *Workbook
}

func (t *ConditionalFormatTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "add_conditional_format",
		Description: "Add a conditional format: dataBar, colorScale, or highlight (values greater than threshold).",
		Example:     map[string]interface{}{"range": "A1:A10", "type": "dataBar", "color": "#0078D4"},
	}
}

func (t *ConditionalFormatTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "range")
	if ref == "" {
		return "ERROR: range is required.", nil
	}
	kind := argString(args, "type")
	if kind == "" {
		kind = "dataBar"
	}
	color := argString(args, "color")
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		var opts []excelize.ConditionalFormatOptions
		switch kind {
		case "dataBar":
			if color == "" {
				color = "#0078D4"
			}
			opts = []excelize.ConditionalFormatOptions{{
				Type:         "data_bar",
				Criteria:     "=",
				MinType:      "min",
				MaxType:      "max",
				BarColor:     "#" + colorHex(color),
				BarDirection: "leftToRight",
			}}
		case "colorScale":
			opts = []excelize.ConditionalFormatOptions{{
				Type:     "3_color_scale",
				Criteria: "=",
				MinType:  "min",
				MidType:  "percentile",
				MaxType:  "max",
				MidValue: "50",
				MinColor: "#F8696B",
				MidColor: "#FFEB84",
				MaxColor: "#63BE7B",
			}}
		case "highlight":
			if color == "" {
				color = "#FFFF00"
			}
			threshold := argString(args, "threshold")
			if threshold == "" {
				threshold = "0"
			}
			format, err := f.NewConditionalStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Color: []string{colorHex(color)}, Pattern: 1},
			})
			if err != nil {
				return err
			}
			opts = []excelize.ConditionalFormatOptions{{
				Type:     "cell",
				Criteria: ">",
				Format:   format,
				Value:    threshold,
			}}
		default:
			return fmt.Errorf("unsupported conditional format type %q", kind)
		}
		return f.SetConditionalFormat(rng.Sheet, rng.Ref(), opts)
	})
	if err != nil {
		return "", err
	}
	return "SUCCESS: Conditional format applied.", nil
}

// TableStyleTool converts a range into a styled table.
type TableStyleTool struct {
	WB *Workbook
}

func (t *TableStyleTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "apply_table_style",
		Description: "Turn a range into a table and apply a table style.",
		Example:     map[string]interface{}{"range": "A1:D10", "styleName": "TableStyleMedium2", "hasHeaders": true},
	}
}

func (t *TableStyleTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	ref := argString(args, "range")
	if ref == "" {
		return "ERROR: range is required.", nil
	}
	style := argString(args, "styleName")
	if style == "" {
		style = "TableStyleMedium2"
	}
	err := t.WB.Update(func(f *excelize.File) error {
		rng, err := ParseRange(ref, activeSheet(f))
		if err != nil {
			return err
		}
		if headers, ok := argBool(args, "hasHeaders"); ok && !headers {
			if err := f.InsertRows(rng.Sheet, rng.StartRow, 1); err != nil {
				return err
			}
			for c := 0; c < rng.Cols(); c++ {
				if err := f.SetCellValue(rng.Sheet, rng.Cell(0, c), fmt.Sprintf("Column%d", c+1)); err != nil {
					return err
				}
			}
			rng.EndRow++
		}
		return f.AddTable(rng.Sheet, &excelize.Table{
			Range:     rng.Ref(),
			Name:      tableName(),
			StyleName: style,
		})
	})
	if err != nil {
		return "", err
	}
	return "SUCCESS: Table created with style.", nil
}

// tableName returns a unique defined name; table names may not contain dashes.
func tableName() string {
	return "Table_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
