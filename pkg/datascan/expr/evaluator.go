package expr

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrEvaluate is the base error for filter evaluation failures: type
// mismatches, missing referenced columns, and unsupported operators.
var ErrEvaluate = errors.New("evaluation error")

// An Evaluator computes selection masks from filter expressions and
// applies them to record batches. Implementations must be safe for
// concurrent use by independent scan tasks.
type Evaluator interface {
	// Evaluate computes, for every row of batch, whether e holds. The
	// returned mask has exactly batch.NumRows() entries; a null entry means
	// the filter outcome is unknown for that row and the row is excluded.
	// Scratch buffers are allocated from alloc. The caller must release the
	// mask.
	//
	// A nil expression evaluates to an all-true mask.
	Evaluate(e Expr, batch arrow.Record, alloc memory.Allocator) (*array.Boolean, error)

	// Filter returns a new batch containing only the rows of batch for
	// which mask is valid and true, preserving relative row order and all
	// columns. The mask must have the same length as the batch. The caller
	// must release the returned batch.
	Filter(mask *array.Boolean, batch arrow.Record, alloc memory.Allocator) arrow.Record
}

// VectorEvaluator is the default [Evaluator]. It evaluates expressions
// bottom-up into column vectors and materializes boolean masks through
// Arrow builders.
type VectorEvaluator struct{}

var _ Evaluator = VectorEvaluator{}

// Evaluate implements Evaluator.
func (ev VectorEvaluator) Evaluate(e Expr, batch arrow.Record, alloc memory.Allocator) (*array.Boolean, error) {
	rows := int(batch.NumRows())

	if e == nil {
		return constantMask(true, rows, alloc), nil
	}

	vec, err := ev.eval(e, batch, alloc)
	if err != nil {
		return nil, err
	}

	switch vec := vec.(type) {
	case *scalarVector:
		b, ok := vec.value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: filter evaluated to non-boolean %T", ErrEvaluate, vec.value)
		}
		return constantMask(b, rows, alloc), nil

	case *arrayVector:
		mask, ok := vec.arr.(*array.Boolean)
		if !ok {
			vec.Release()
			return nil, fmt.Errorf("%w: filter evaluated to non-boolean type %s", ErrEvaluate, vec.arr.DataType())
		}
		// Ownership of the vector's reference transfers to the caller.
		return mask, nil
	}

	return nil, fmt.Errorf("%w: unknown vector kind", ErrEvaluate)
}

// columnVector is an evaluated subexpression: either one scalar value
// broadcast over all rows, or an Arrow array with one value per row. A nil
// Value means the row is null.
type columnVector interface {
	Value(i int) any
	Release()
}

type scalarVector struct {
	value any
}

func (v *scalarVector) Value(int) any { return v.value }
func (v *scalarVector) Release()      {}

type arrayVector struct {
	arr arrow.Array
}

func (v *arrayVector) Value(i int) any {
	if v.arr.IsNull(i) {
		return nil
	}

	switch arr := v.arr.(type) {
	case *array.Boolean:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Int32:
		return arr.Value(i)
	case *array.Int64:
		return arr.Value(i)
	case *array.Float32:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.Timestamp:
		return arr.Value(i)
	default:
		return nil
	}
}

func (v *arrayVector) Release() { v.arr.Release() }

func (ev VectorEvaluator) eval(e Expr, batch arrow.Record, alloc memory.Allocator) (columnVector, error) {
	switch e := e.(type) {
	case *LiteralExpr:
		return &scalarVector{value: e.Value.value}, nil

	case *ColumnExpr:
		indices := batch.Schema().FieldIndices(e.Name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("%w: column %q not found", ErrEvaluate, e.Name)
		}
		arr := batch.Column(indices[0])
		arr.Retain()
		return &arrayVector{arr: arr}, nil

	case *BinaryExpr:
		left, err := ev.eval(e.Left, batch, alloc)
		if err != nil {
			return nil, err
		}
		defer left.Release()

		right, err := ev.eval(e.Right, batch, alloc)
		if err != nil {
			return nil, err
		}
		defer right.Release()

		if e.Op.comparison() {
			return evalComparison(e, left, right, int(batch.NumRows()), alloc)
		}
		if e.Op == BinOpKindAnd || e.Op == BinOpKindOr {
			return evalConnective(e, left, right, int(batch.NumRows()), alloc)
		}
		return nil, fmt.Errorf("%w: unsupported binary operator %s", ErrEvaluate, e.Op)

	case *UnaryExpr:
		if e.Op != UnaryOpKindNot {
			return nil, fmt.Errorf("%w: unsupported unary operator %s", ErrEvaluate, e.Op)
		}

		inner, err := ev.eval(e.Expr, batch, alloc)
		if err != nil {
			return nil, err
		}
		defer inner.Release()

		return evalRows(int(batch.NumRows()), alloc, func(i int) (bool, bool, error) {
			v := inner.Value(i)
			if v == nil {
				return false, false, nil
			}
			b, ok := v.(bool)
			if !ok {
				return false, false, fmt.Errorf("%w: %s applied to non-boolean %T", ErrEvaluate, e.Op, v)
			}
			return !b, true, nil
		})
	}

	return nil, fmt.Errorf("%w: unknown expression %v", ErrEvaluate, e)
}

// evalComparison compares left and right row-wise. A null on either side
// yields a null outcome for that row.
func evalComparison(e *BinaryExpr, left, right columnVector, rows int, alloc memory.Allocator) (columnVector, error) {
	return evalRows(rows, alloc, func(i int) (bool, bool, error) {
		lv, rv := left.Value(i), right.Value(i)
		if lv == nil || rv == nil {
			return false, false, nil
		}

		c, ok := compareValues(lv, rv)
		if !ok {
			return false, false, fmt.Errorf("%w: cannot compare %T with %T in %s", ErrEvaluate, lv, rv, e)
		}
		return cmpHolds(e.Op, c), true, nil
	})
}

// evalConnective applies AND/OR row-wise with three-valued logic: a null
// operand produces null unless the other operand already decides the
// outcome (false for AND, true for OR).
func evalConnective(e *BinaryExpr, left, right columnVector, rows int, alloc memory.Allocator) (columnVector, error) {
	boolAt := func(vec columnVector, i int) (bool, bool, error) {
		v := vec.Value(i)
		if v == nil {
			return false, false, nil
		}
		b, ok := v.(bool)
		if !ok {
			return false, false, fmt.Errorf("%w: %s applied to non-boolean %T", ErrEvaluate, e.Op, v)
		}
		return b, true, nil
	}

	return evalRows(rows, alloc, func(i int) (bool, bool, error) {
		lv, lok, err := boolAt(left, i)
		if err != nil {
			return false, false, err
		}
		rv, rok, err := boolAt(right, i)
		if err != nil {
			return false, false, err
		}

		if e.Op == BinOpKindAnd {
			switch {
			case lok && rok:
				return lv && rv, true, nil
			case lok && !lv, rok && !rv:
				return false, true, nil
			default:
				return false, false, nil
			}
		}

		// BinOpKindOr
		switch {
		case lok && rok:
			return lv || rv, true, nil
		case lok && lv, rok && rv:
			return true, true, nil
		default:
			return false, false, nil
		}
	})
}

// evalRows materializes a boolean vector by invoking fn for every row. fn
// returns the row's value, whether it is valid (non-null), and an error.
func evalRows(rows int, alloc memory.Allocator, fn func(i int) (value, valid bool, err error)) (columnVector, error) {
	builder := array.NewBooleanBuilder(alloc)
	defer builder.Release()

	for i := range rows {
		v, valid, err := fn(i)
		if err != nil {
			return nil, err
		}
		if !valid {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}

	return &arrayVector{arr: builder.NewBooleanArray()}, nil
}

func constantMask(value bool, rows int, alloc memory.Allocator) *array.Boolean {
	builder := array.NewBooleanBuilder(alloc)
	defer builder.Release()

	for range rows {
		builder.Append(value)
	}
	return builder.NewBooleanArray()
}
