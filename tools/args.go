package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// argString returns the first non-empty argument among keys, rendered as text.
func argString(args map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := args[key].(type) {
		case nil:
			continue
		case string:
			if v != "" {
				return v
			}
		case float64:
			return formatNumber(v)
		case bool:
			return strconv.FormatBool(v)
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// argBool reports the boolean under the first present key. Strings "true" and
// "false" are accepted.
func argBool(args map[string]interface{}, keys ...string) (value, present bool) {
	for _, key := range keys {
		switch v := args[key].(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case float64:
			return v != 0, true
		}
	}
	return false, false
}

// argInt reads an integer argument, returning def when absent or malformed.
func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// setCell writes value into cell, storing strings that start with "=" as
// formulas.
func setCell(f *excelize.File, sheet, cell string, value interface{}) error {
	switch v := value.(type) {
	case nil:
		return f.SetCellValue(sheet, cell, "")
	case string:
		if trimmed := strings.TrimSpace(v); strings.HasPrefix(trimmed, "=") {
			return f.SetCellFormula(sheet, cell, strings.TrimPrefix(trimmed, "="))
		}
		return f.SetCellValue(sheet, cell, v)
	case float64, bool, int, int64:
		return f.SetCellValue(sheet, cell, v)
	default:
		return f.SetCellValue(sheet, cell, fmt.Sprint(v))
	}
}

// colorHex normalizes "#RRGGBB" and "RRGGBB" into the form excelize expects.
func colorHex(color string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(color), "#"))
}
