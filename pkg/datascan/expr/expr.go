// Package expr provides the expression tree used for scan filters and
// partition expressions, together with partition-aware simplification and
// vectorized evaluation against Arrow record batches.
package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Expr is a node of a predicate expression over column references and
// literals. The set of node kinds is closed: [LiteralExpr], [ColumnExpr],
// [BinaryExpr], and [UnaryExpr].
type Expr interface {
	fmt.Stringer

	isExpr()
}

// BinOpKind denotes the kind of [BinaryExpr] operation to perform.
type BinOpKind int

// Recognized values of [BinOpKind].
const (
	// BinOpKindInvalid indicates an invalid binary operation.
	BinOpKindInvalid BinOpKind = iota

	BinOpKindEq  // Equality comparison (==).
	BinOpKindNeq // Inequality comparison (!=).
	BinOpKindGt  // Greater than comparison (>).
	BinOpKindGte // Greater than or equal comparison (>=).
	BinOpKindLt  // Less than comparison (<).
	BinOpKindLte // Less than or equal comparison (<=).
	BinOpKindAnd // Logical AND operation (&&).
	BinOpKindOr  // Logical OR operation (||).
)

var binOpKindStrings = map[BinOpKind]string{
	BinOpKindInvalid: "invalid",

	BinOpKindEq:  "EQ",
	BinOpKindNeq: "NEQ",
	BinOpKindGt:  "GT",
	BinOpKindGte: "GTE",
	BinOpKindLt:  "LT",
	BinOpKindLte: "LTE",
	BinOpKindAnd: "AND",
	BinOpKindOr:  "OR",
}

// String returns a human-readable representation of the binary operation
// kind.
func (k BinOpKind) String() string {
	if s, ok := binOpKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("BinOpKind(%d)", k)
}

// comparison reports whether k is one of the six comparison operators.
func (k BinOpKind) comparison() bool {
	switch k {
	case BinOpKindEq, BinOpKindNeq, BinOpKindGt, BinOpKindGte, BinOpKindLt, BinOpKindLte:
		return true
	}
	return false
}

// UnaryOpKind denotes the kind of [UnaryExpr] operation to perform.
type UnaryOpKind int

// Recognized values of [UnaryOpKind].
const (
	// UnaryOpKindInvalid indicates an invalid unary operation.
	UnaryOpKindInvalid UnaryOpKind = iota

	UnaryOpKindNot // Logical NOT operation (!).
)

// String returns the string representation of the UnaryOpKind.
func (k UnaryOpKind) String() string {
	switch k {
	case UnaryOpKindNot:
		return "NOT"
	}
	return fmt.Sprintf("UnaryOpKind(%d)", k)
}

// LiteralExpr is a constant scalar value.
type LiteralExpr struct {
	Value Literal
}

func (*LiteralExpr) isExpr() {}

func (e *LiteralExpr) String() string { return e.Value.String() }

// ColumnExpr references a column of a record batch by name.
type ColumnExpr struct {
	Name string
}

func (*ColumnExpr) isExpr() {}

func (e *ColumnExpr) String() string { return e.Name }

// BinaryExpr applies a binary operation to two subexpressions.
type BinaryExpr struct {
	Left, Right Expr
	Op          BinOpKind
}

func (*BinaryExpr) isExpr() {}

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Op, e.Left, e.Right)
}

// UnaryExpr applies a unary operation to a subexpression.
type UnaryExpr struct {
	Expr Expr
	Op   UnaryOpKind
}

func (*UnaryExpr) isExpr() {}

func (e *UnaryExpr) String() string {
	return fmt.Sprintf("%s(%s)", e.Op, e.Expr)
}

// Lit creates a LiteralExpr from a Go scalar value. It panics if the value
// type is unsupported; see [NewLiteral].
func Lit(value any) *LiteralExpr { return &LiteralExpr{Value: NewLiteral(value)} }

// Col creates a ColumnExpr referencing the named column.
func Col(name string) *ColumnExpr { return &ColumnExpr{Name: name} }

// Eq creates an equality comparison of left and right.
func Eq(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindEq}
}

// Neq creates an inequality comparison of left and right.
func Neq(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindNeq}
}

// Gt creates a greater-than comparison of left and right.
func Gt(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindGt}
}

// Gte creates a greater-than-or-equal comparison of left and right.
func Gte(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindGte}
}

// Lt creates a less-than comparison of left and right.
func Lt(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindLt}
}

// Lte creates a less-than-or-equal comparison of left and right.
func Lte(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindLte}
}

// And creates a conjunction of left and right.
func And(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindAnd}
}

// Or creates a disjunction of left and right.
func Or(left, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindOr}
}

// Not creates a negation of e.
func Not(e Expr) *UnaryExpr {
	return &UnaryExpr{Expr: e, Op: UnaryOpKindNot}
}

// ValueKind represents the type of a literal scalar value.
type ValueKind uint32

const (
	ValueKindInvalid ValueKind = iota // zero-value is an invalid kind

	ValueKindBool      // Boolean value.
	ValueKindString    // String value.
	ValueKindInt32     // Signed 32bit integer value.
	ValueKindInt64     // Signed 64bit integer value.
	ValueKindFloat32   // 32bit floating point value.
	ValueKindFloat64   // 64bit floating point value.
	ValueKindTimestamp // Nanosecond timestamp value.
)

// String returns the string representation of the ValueKind.
func (k ValueKind) String() string {
	switch k {
	case ValueKindBool:
		return "bool"
	case ValueKindString:
		return "string"
	case ValueKindInt32:
		return "int32"
	case ValueKindInt64:
		return "int64"
	case ValueKindFloat32:
		return "float32"
	case ValueKindFloat64:
		return "float64"
	case ValueKindTimestamp:
		return "timestamp"
	}
	return "invalid"
}

// Literal is a typed constant scalar value.
type Literal struct {
	value any
	kind  ValueKind
}

// NewLiteral creates a Literal from a Go scalar value. Supported types are
// bool, string, int32, int64, float32, float64, and [arrow.Timestamp];
// untyped int converts to int64. NewLiteral panics on any other type.
func NewLiteral(value any) Literal {
	switch v := value.(type) {
	case bool:
		return Literal{value: v, kind: ValueKindBool}
	case string:
		return Literal{value: v, kind: ValueKindString}
	case int:
		return Literal{value: int64(v), kind: ValueKindInt64}
	case int32:
		return Literal{value: v, kind: ValueKindInt32}
	case int64:
		return Literal{value: v, kind: ValueKindInt64}
	case float32:
		return Literal{value: v, kind: ValueKindFloat32}
	case float64:
		return Literal{value: v, kind: ValueKindFloat64}
	case arrow.Timestamp:
		return Literal{value: v, kind: ValueKindTimestamp}
	default:
		panic(fmt.Sprintf("expr: unsupported literal type %T", value))
	}
}

// Kind returns the kind of the literal value.
func (l Literal) Kind() ValueKind { return l.kind }

// Any returns the literal value as an untyped Go value.
func (l Literal) Any() any { return l.value }

// ArrowType returns the Arrow data type corresponding to the literal
// kind. Timestamps map to nanosecond precision in UTC.
func (l Literal) ArrowType() arrow.DataType {
	switch l.kind {
	case ValueKindBool:
		return arrow.FixedWidthTypes.Boolean
	case ValueKindString:
		return arrow.BinaryTypes.String
	case ValueKindInt32:
		return arrow.PrimitiveTypes.Int32
	case ValueKindInt64:
		return arrow.PrimitiveTypes.Int64
	case ValueKindFloat32:
		return arrow.PrimitiveTypes.Float32
	case ValueKindFloat64:
		return arrow.PrimitiveTypes.Float64
	case ValueKindTimestamp:
		return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	}
	return nil
}

// String returns a quoted representation for string literals and the
// plain value otherwise.
func (l Literal) String() string {
	if l.kind == ValueKindString {
		return fmt.Sprintf("%q", l.value)
	}
	return fmt.Sprintf("%v", l.value)
}
