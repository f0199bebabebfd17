package tools

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// mathFunc is a numeric function exposed to calculator expressions.
// An arity of 0 accepts one or two arguments.
type mathFunc struct {
	arity int
	fn    func(a []float64) float64
}

var mathFuncs = map[string]mathFunc{
	"sqrt":  {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"sin":   {1, func(a []float64) float64 { return math.Sin(a[0]) }},
	"cos":   {1, func(a []float64) float64 { return math.Cos(a[0]) }},
	"tan":   {1, func(a []float64) float64 { return math.Tan(a[0]) }},
	"asin":  {1, func(a []float64) float64 { return math.Asin(a[0]) }},
	"acos":  {1, func(a []float64) float64 { return math.Acos(a[0]) }},
	"atan":  {1, func(a []float64) float64 { return math.Atan(a[0]) }},
	"atan2": {2, func(a []float64) float64 { return math.Atan2(a[0], a[1]) }},
	"log10": {1, func(a []float64) float64 { return math.Log10(a[0]) }},
	"log2":  {1, func(a []float64) float64 { return math.Log2(a[0]) }},
	"exp":   {1, func(a []float64) float64 { return math.Exp(a[0]) }},
	"fabs":  {1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"pow":   {2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"hypot": {2, func(a []float64) float64 { return math.Hypot(a[0], a[1]) }},

	"degrees": {1, func(a []float64) float64 { return a[0] * 180 / math.Pi }},
	"radians": {1, func(a []float64) float64 { return a[0] * math.Pi / 180 }},
	"log": {0, func(a []float64) float64 {
		if len(a) == 2 {
			return math.Log(a[0]) / math.Log(a[1])
		}
		return math.Log(a[0])
	}},
}

var mathConstants = map[string]any{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
	"inf": math.Inf(1),
}

// roundingFuncs replace expr's builtins of the same name so integral
// results stay integers and round() rounds half to even.
var roundingFuncs = map[string]func(params ...any) (any, error){
	"abs": func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("abs() takes exactly one argument (%d given)", len(params))
		}
		return numAbs(params[0])
	},
	"floor": func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("floor() takes exactly one argument (%d given)", len(params))
		}
		return numIntegral("floor", params[0], math.Floor)
	},
	"ceil": func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("ceil() takes exactly one argument (%d given)", len(params))
		}
		return numIntegral("ceil", params[0], math.Ceil)
	},
	"round": func(params ...any) (any, error) {
		switch len(params) {
		case 1:
			return numIntegral("round", params[0], math.RoundToEven)
		case 2:
			return numRoundDigits(params[0], params[1])
		}
		return nil, fmt.Errorf("round() takes 1 or 2 arguments (%d given)", len(params))
	},
}

var calculatorOptions = buildCalculatorOptions()

func buildCalculatorOptions() []expr.Option {
	opts := []expr.Option{
		expr.Env(mathConstants),
		expr.DisableAllBuiltins(),
		expr.Patch(arithmeticPatch{}),
	}
	for name, fn := range arithmeticFuncs {
		opts = append(opts, expr.Function(name, fn))
	}
	for name, fn := range roundingFuncs {
		opts = append(opts, expr.Function(name, fn))
	}
	for name, mf := range mathFuncs {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if mf.arity == 0 && (len(params) < 1 || len(params) > 2) {
				return nil, fmt.Errorf("%s() takes 1 or 2 arguments (%d given)", name, len(params))
			}
			if mf.arity > 0 && len(params) != mf.arity {
				return nil, fmt.Errorf("%s() takes %d arguments (%d given)", name, mf.arity, len(params))
			}
			args := make([]float64, len(params))
			for i, p := range params {
				f, err := toFloat(p)
				if err != nil {
					return nil, fmt.Errorf("%s(): %w", name, err)
				}
				args[i] = f
			}
			return mf.fn(args), nil
		}))
	}
	return opts
}

// NewCalculatorTool returns the calculate tool.
func NewCalculatorTool() *Tool {
	return &Tool{
		Name:        "calculate",
		Description: "Evaluate a mathematical expression",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The mathematical expression to evaluate, e.g., '2 + 2'",
				},
			},
			"required": []string{"expression"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			expression, _ := args["expression"].(string)
			if strings.TrimSpace(expression) == "" {
				return "Error: expression is required", nil
			}
			return Calculate(expression), nil
		},
	}
}

// Calculate evaluates an arithmetic expression and returns the result
// as a string. Integer arithmetic is exact at any size; % takes the
// sign of the divisor. Evaluation problems are returned as their error
// text.
func Calculate(expression string) string {
	input := strings.ReplaceAll(expression, "math.", "")

	program, err := expr.Compile(input, calculatorOptions...)
	if err != nil {
		return firstLine(err.Error())
	}
	out, err := expr.Run(program, mathConstants)
	if err != nil {
		return firstLine(err.Error())
	}
	return formatNumber(out)
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case *big.Int:
		return n.String()
	case float64:
		switch {
		case math.IsNaN(n):
			return "nan"
		case math.IsInf(n, 1):
			return "inf"
		case math.IsInf(n, -1):
			return "-inf"
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
