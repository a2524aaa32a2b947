package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the logical type of a column.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDouble
	KindDecimal
	KindBool
)

// Type is a column type. Precision and Scale apply to decimals only.
type Type struct {
	Kind      Kind
	Precision int
	Scale     int
}

var (
	String = Type{Kind: KindString}
	Int    = Type{Kind: KindInt}
	Double = Type{Kind: KindDouble}
	Bool   = Type{Kind: KindBool}
)

// Decimal returns a fixed-point type with the given precision and scale.
func Decimal(precision, scale int) Type {
	return Type{Kind: KindDecimal, Precision: precision, Scale: scale}
}

func (t Type) String() string {
	switch t.Kind {
	case KindInt:
		return "bigint"
	case KindDouble:
		return "double"
	case KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case KindBool:
		return "boolean"
	default:
		return "string"
	}
}

// ParseType parses a type name such as "string", "int", "double" or "decimal(10,2)".
func ParseType(raw string) (Type, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "string", "str", "text":
		return String, nil
	case "int", "integer", "bigint", "long":
		return Int, nil
	case "double", "float", "real":
		return Double, nil
	case "bool", "boolean":
		return Bool, nil
	case "decimal", "numeric":
		return Decimal(10, 0), nil
	}

	for _, prefix := range []string{"decimal(", "numeric("} {
		if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, ")") {
			continue
		}
		args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(s, prefix), ")"), ",")
		if len(args) < 1 || len(args) > 2 {
			return Type{}, fmt.Errorf("invalid decimal type %q", raw)
		}
		precision, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return Type{}, fmt.Errorf("invalid decimal precision in %q: %w", raw, err)
		}
		scale := 0
		if len(args) == 2 {
			scale, err = strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return Type{}, fmt.Errorf("invalid decimal scale in %q: %w", raw, err)
			}
		}
		if precision <= 0 || precision > 38 || scale < 0 || scale > precision {
			return Type{}, fmt.Errorf("decimal precision/scale out of range in %q", raw)
		}
		return Decimal(precision, scale), nil
	}
	return Type{}, fmt.Errorf("unknown type %q", raw)
}

// convert renders v as type t. ok is false when v cannot be represented.
func convert(v string, t Type) (string, bool) {
	switch t.Kind {
	case KindString:
		return v, true
	case KindInt:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
			return "", false
		}
		return strconv.FormatInt(int64(f), 10), true
	case KindDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case KindDecimal:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return "", false
		}
		d = d.Round(int32(t.Scale))
		intDigits := len(d.Abs().Truncate(0).String())
		if d.Abs().LessThan(decimal.NewFromInt(1)) {
			intDigits = 0
		}
		if intDigits > t.Precision-t.Scale {
			return "", false
		}
		return d.StringFixed(int32(t.Scale)), true
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return "true", true
		case "false", "f", "no", "n", "0":
			return "false", true
		}
		return "", false
	}
	return "", false
}
