package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Filter implements Evaluator. It rebuilds every column of batch through
// typed builders, keeping only rows selected by the mask.
func (VectorEvaluator) Filter(mask *array.Boolean, batch arrow.Record, alloc memory.Allocator) arrow.Record {
	fields := batch.Schema().Fields()

	builders := make([]array.Builder, len(fields))
	defer func() {
		for _, b := range builders {
			if b != nil {
				b.Release()
			}
		}
	}()

	appenders := make([]func(int), len(fields))
	for i, field := range fields {
		builders[i] = array.NewBuilder(alloc, field.Type)
		appenders[i] = appendFunc(builders[i], batch.Column(i), field)
	}

	var rows int64
	for i := range int(batch.NumRows()) {
		if !mask.IsValid(i) || !mask.Value(i) {
			continue
		}
		for _, appendRow := range appenders {
			appendRow(i)
		}
		rows++
	}

	arrays := make([]arrow.Array, len(fields))
	for i, builder := range builders {
		arrays[i] = builder.NewArray()
	}

	out := array.NewRecord(batch.Schema(), arrays, rows)
	for _, arr := range arrays {
		arr.Release()
	}
	return out
}

// appendFunc returns a function copying row i of src into builder,
// preserving nulls.
func appendFunc(builder array.Builder, src arrow.Array, field arrow.Field) func(int) {
	null := func(i int, append func(int)) {
		if src.IsNull(i) {
			builder.AppendNull()
			return
		}
		append(i)
	}

	switch src := src.(type) {
	case *array.Boolean:
		b := builder.(*array.BooleanBuilder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.String:
		b := builder.(*array.StringBuilder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.Int32:
		b := builder.(*array.Int32Builder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.Int64:
		b := builder.(*array.Int64Builder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.Uint64:
		b := builder.(*array.Uint64Builder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.Float32:
		b := builder.(*array.Float32Builder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.Float64:
		b := builder.(*array.Float64Builder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	case *array.Timestamp:
		b := builder.(*array.TimestampBuilder)
		return func(i int) { null(i, func(i int) { b.Append(src.Value(i)) }) }

	default:
		panic(fmt.Sprintf("expr: unimplemented column type in Filter: %s", field.Type.Name()))
	}
}
