// Package builtin registers the server-resident tools shipped with the
// engine: arithmetic, time and date helpers, unit conversion and a weather
// lookup. Each tool follows the dispatch contract: validated arguments in,
// structured result or tool-level error out.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/seafield/agentrelay/tool"
)

// Register adds every builtin tool to the registry.
func Register(r *tool.Registry) error {
	specs := []tool.Spec{
		{
			Name:        "calculator",
			Description: "Evaluate an arithmetic expression with +, -, *, / and parentheses",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string", "description": "Expression to evaluate, e.g. \"2+2\""},
				},
				"required": []string{"expression"},
			},
			Kind: tool.KindServer,
			Fn:   calculator,
		},
		{
			Name:        "get_current_time",
			Description: "Get the current time, optionally in a named IANA timezone",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{"type": "string", "description": "IANA timezone name, e.g. \"Europe/Berlin\""},
				},
			},
			Kind: tool.KindServer,
			Fn:   currentTime,
		},
		{
			Name:        "date_difference",
			Description: "Number of days between two dates in YYYY-MM-DD format",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start": map[string]any{"type": "string", "description": "Start date, YYYY-MM-DD"},
					"end":   map[string]any{"type": "string", "description": "End date, YYYY-MM-DD"},
				},
				"required": []string{"start", "end"},
			},
			Kind: tool.KindServer,
			Fn:   dateDifference,
		},
		{
			Name:        "unit_converter",
			Description: "Convert a value between units of length, mass or temperature",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"value": map[string]any{"type": "number"},
					"from":  map[string]any{"type": "string", "description": "Source unit, e.g. km, mi, kg, lb, c, f"},
					"to":    map[string]any{"type": "string", "description": "Target unit"},
				},
				"required": []string{"value", "from", "to"},
			},
			Kind: tool.KindServer,
			Fn:   unitConverter,
		},
		{
			Name:        "get_weather",
			Description: "Get current weather conditions for a latitude/longitude pair",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"lat":  map[string]any{"type": "number"},
					"long": map[string]any{"type": "number"},
				},
				"required": []string{"lat", "long"},
			},
			Kind: tool.KindServer,
			Fn:   weather,
		},
	}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func calculator(_ context.Context, args map[string]any) (any, error) {
	expr, _ := args["expression"].(string)
	v, err := evalExpression(expr)
	if err != nil {
		return nil, tool.NewToolError("calculator", err.Error(), tool.CodeExecution)
	}
	return v, nil
}

func currentTime(_ context.Context, args map[string]any) (any, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, tool.NewToolError("get_current_time", fmt.Sprintf("unknown timezone %q", tz), tool.CodeExecution)
		}
		loc = l
	}
	return time.Now().In(loc).Format(time.RFC3339), nil
}

func dateDifference(_ context.Context, args map[string]any) (any, error) {
	const layout = "2006-01-02"
	start, _ := args["start"].(string)
	end, _ := args["end"].(string)
	s, err := time.Parse(layout, start)
	if err != nil {
		return nil, tool.NewToolError("date_difference", fmt.Sprintf("invalid start date %q", start), tool.CodeExecution)
	}
	e, err := time.Parse(layout, end)
	if err != nil {
		return nil, tool.NewToolError("date_difference", fmt.Sprintf("invalid end date %q", end), tool.CodeExecution)
	}
	return int(e.Sub(s).Hours() / 24), nil
}

// toBase maps each supported unit to (base unit multiplier, dimension).
// Temperature converts through celsius with offsets handled separately.
var lengthUnits = map[string]float64{"m": 1, "km": 1000, "cm": 0.01, "mi": 1609.344, "ft": 0.3048, "in": 0.0254}
var massUnits = map[string]float64{"g": 1, "kg": 1000, "lb": 453.59237, "oz": 28.349523125}

func unitConverter(_ context.Context, args map[string]any) (any, error) {
	value := toFloat(args["value"])
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)

	if f, ok := lengthUnits[from]; ok {
		t, ok := lengthUnits[to]
		if !ok {
			return nil, conversionError(from, to)
		}
		return value * f / t, nil
	}
	if f, ok := massUnits[from]; ok {
		t, ok := massUnits[to]
		if !ok {
			return nil, conversionError(from, to)
		}
		return value * f / t, nil
	}
	if c, err := convertTemperature(value, from, to); err == nil {
		return c, nil
	}
	return nil, conversionError(from, to)
}

func convertTemperature(value float64, from, to string) (float64, error) {
	var celsius float64
	switch from {
	case "c":
		celsius = value
	case "f":
		celsius = (value - 32) * 5 / 9
	case "k":
		celsius = value - 273.15
	default:
		return 0, conversionError(from, to)
	}
	switch to {
	case "c":
		return celsius, nil
	case "f":
		return celsius*9/5 + 32, nil
	case "k":
		return celsius + 273.15, nil
	}
	return 0, conversionError(from, to)
}

func conversionError(from, to string) error {
	return tool.NewToolError("unit_converter", fmt.Sprintf("cannot convert %q to %q", from, to), tool.CodeExecution)
}

func weather(_ context.Context, args map[string]any) (any, error) {
	lat := toFloat(args["lat"])
	long := toFloat(args["long"])
	// Placeholder condition until a provider is wired up.
	return map[string]any{
		"lat":        lat,
		"long":       long,
		"conditions": "sunny",
	}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
