package tools

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/expr-lang/expr/ast"
)

// maxPowBits caps the size of integer powers.
const maxPowBits = 1 << 20

// arithmeticPatch rewrites arithmetic operators into calls to
// arithmeticFuncs. Integers are exact at any size and floats follow
// IEEE 754, so nothing wraps around.
type arithmeticPatch struct{}

var patchedOperators = map[string]string{
	"+":  "_add",
	"-":  "_sub",
	"*":  "_mul",
	"/":  "_div",
	"%":  "_mod",
	"**": "_pow",
	"^":  "_caret",
}

func (arithmeticPatch) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		if fn, ok := patchedOperators[n.Operator]; ok {
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: fn},
				Arguments: []ast.Node{n.Left, n.Right},
			})
		}
	case *ast.UnaryNode:
		if n.Operator == "-" {
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: "_neg"},
				Arguments: []ast.Node{n.Node},
			})
		}
	}
}

var (
	errDivisionByZero = errors.New("division by zero")
	errNegativePower  = errors.New("zero cannot be raised to a negative power")
)

var arithmeticFuncs = map[string]func(params ...any) (any, error){
	"_add": binaryOp("+",
		func(x, y *big.Int) (any, error) { return normalizeInt(new(big.Int).Add(x, y)), nil },
		func(x, y float64) (any, error) { return x + y, nil }),
	"_sub": binaryOp("-",
		func(x, y *big.Int) (any, error) { return normalizeInt(new(big.Int).Sub(x, y)), nil },
		func(x, y float64) (any, error) { return x - y, nil }),
	"_mul": binaryOp("*",
		func(x, y *big.Int) (any, error) { return normalizeInt(new(big.Int).Mul(x, y)), nil },
		func(x, y float64) (any, error) { return x * y, nil }),
	"_div": binaryOp("/", intDiv, func(x, y float64) (any, error) {
		if y == 0 {
			return nil, errDivisionByZero
		}
		return x / y, nil
	}),
	"_mod": binaryOp("%", intMod, floatMod),
	"_pow": binaryOp("**", intPow, floatPow),
	"_neg": func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("unary -: want 1 operand, got %d", len(params))
		}
		v, err := asNumber("unary -", params[0])
		if err != nil {
			return nil, err
		}
		if x, ok := asBigInt(v); ok {
			return normalizeInt(new(big.Int).Neg(x)), nil
		}
		return -v.(float64), nil
	},
	"_caret": func(...any) (any, error) {
		return nil, errors.New("unsupported operator ^, use ** for exponentiation")
	},
}

// binaryOp applies intOp when both operands are integers and floatOp
// otherwise.
func binaryOp(symbol string, intOp func(x, y *big.Int) (any, error), floatOp func(x, y float64) (any, error)) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("%s: want 2 operands, got %d", symbol, len(params))
		}
		a, err := asNumber(symbol, params[0])
		if err != nil {
			return nil, err
		}
		b, err := asNumber(symbol, params[1])
		if err != nil {
			return nil, err
		}
		x, xInt := asBigInt(a)
		y, yInt := asBigInt(b)
		if xInt && yInt {
			return intOp(x, y)
		}
		fx, _ := toFloat(a)
		fy, _ := toFloat(b)
		return floatOp(fx, fy)
	}
}

func intDiv(x, y *big.Int) (any, error) {
	if y.Sign() == 0 {
		return nil, errDivisionByZero
	}
	f, _ := new(big.Rat).SetFrac(x, y).Float64()
	return f, nil
}

// intMod and floatMod give the result the sign of the divisor.
func intMod(x, y *big.Int) (any, error) {
	if y.Sign() == 0 {
		return nil, errors.New("integer modulo by zero")
	}
	r := new(big.Int).Rem(x, y)
	if r.Sign() != 0 && r.Sign() != y.Sign() {
		r.Add(r, y)
	}
	return normalizeInt(r), nil
}

func floatMod(x, y float64) (any, error) {
	if y == 0 {
		return nil, errors.New("float modulo by zero")
	}
	r := math.Mod(x, y)
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r, nil
}

func intPow(x, y *big.Int) (any, error) {
	if y.Sign() < 0 {
		if x.Sign() == 0 {
			return nil, errNegativePower
		}
		fx, _ := new(big.Float).SetInt(x).Float64()
		fy, _ := new(big.Float).SetInt(y).Float64()
		return math.Pow(fx, fy), nil
	}
	if x.CmpAbs(big.NewInt(1)) > 0 {
		if !y.IsInt64() || y.Int64() > maxPowBits || int64(x.BitLen())*y.Int64() > maxPowBits {
			return nil, errors.New("result too large")
		}
	}
	return normalizeInt(new(big.Int).Exp(x, y, nil)), nil
}

func floatPow(x, y float64) (any, error) {
	if x == 0 && y < 0 {
		return nil, errNegativePower
	}
	return math.Pow(x, y), nil
}

func numAbs(v any) (any, error) {
	n, err := asNumber("abs()", v)
	if err != nil {
		return nil, err
	}
	if x, ok := asBigInt(n); ok {
		return normalizeInt(new(big.Int).Abs(x)), nil
	}
	return math.Abs(n.(float64)), nil
}

// numIntegral applies fn to a float and returns the result as an
// integer. Integers pass through unchanged.
func numIntegral(name string, v any, fn func(float64) float64) (any, error) {
	n, err := asNumber(name+"()", v)
	if err != nil {
		return nil, err
	}
	if x, ok := asBigInt(n); ok {
		return normalizeInt(x), nil
	}
	return floatToInt(fn(n.(float64)))
}

// numRoundDigits rounds half to even at ndigits decimal places.
// Negative ndigits round to tens, hundreds and so on.
func numRoundDigits(v, digits any) (any, error) {
	n, err := asNumber("round()", v)
	if err != nil {
		return nil, err
	}
	d, err := asNumber("round()", digits)
	if err != nil {
		return nil, err
	}
	nd, ok := d.(int)
	if !ok {
		return nil, fmt.Errorf("round(): ndigits must be an integer, got %v", d)
	}

	if x, ok := asBigInt(n); ok {
		if nd >= 0 {
			return normalizeInt(x), nil
		}
		if nd < -maxPowBits {
			return 0, nil
		}
		p := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-nd)), nil)
		q, m := new(big.Int).DivMod(x, p, new(big.Int))
		switch c := new(big.Int).Lsh(m, 1).Cmp(p); {
		case c > 0, c == 0 && q.Bit(0) == 1:
			q.Add(q, big.NewInt(1))
		}
		return normalizeInt(q.Mul(q, p)), nil
	}

	f := n.(float64)
	if nd > 308 || math.IsInf(f, 0) || math.IsNaN(f) {
		return f, nil
	}
	if nd < -308 {
		return 0.0, nil
	}
	scale := math.Pow10(nd)
	scaled := f * scale
	if math.IsInf(scaled, 0) {
		return f, nil
	}
	return math.RoundToEven(scaled) / scale, nil
}

func floatToInt(f float64) (any, error) {
	switch {
	case math.IsNaN(f):
		return nil, errors.New("cannot convert float NaN to integer")
	case math.IsInf(f, 0):
		return nil, errors.New("cannot convert float infinity to integer")
	}
	x, _ := big.NewFloat(f).Int(nil)
	return normalizeInt(x), nil
}

// asNumber narrows v to int, float64 or *big.Int.
func asNumber(op string, v any) (any, error) {
	switch n := v.(type) {
	case int, float64, *big.Int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float32:
		return float64(n), nil
	}
	return nil, fmt.Errorf("unsupported operand type for %s: %T", op, v)
}

func asBigInt(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), true
	case *big.Int:
		return n, true
	}
	return nil, false
}

// normalizeInt returns x as an int when it fits.
func normalizeInt(x *big.Int) any {
	if x.IsInt64() {
		return int(x.Int64())
	}
	return x
}
