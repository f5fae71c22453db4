// Package arrowtest provides small helpers for building and inspecting
// Arrow records in tests.
package arrowtest

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Rows is a list of rows, each mapping a column name to its value. A nil
// value is a null; a missing key is also a null.
type Rows []map[string]any

// Record converts rows into an [arrow.Record] conforming to schema. The
// caller must release the returned record.
func (r Rows) Record(alloc memory.Allocator, schema *arrow.Schema) arrow.Record {
	builders := make([]array.Builder, schema.NumFields())
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for i, field := range schema.Fields() {
		builders[i] = array.NewBuilder(alloc, field.Type)
	}

	for _, row := range r {
		for i, field := range schema.Fields() {
			appendValue(builders[i], row[field.Name])
		}
	}

	arrays := make([]arrow.Array, len(builders))
	for i, b := range builders {
		arrays[i] = b.NewArray()
	}

	record := array.NewRecord(schema, arrays, int64(len(r)))
	for _, arr := range arrays {
		arr.Release()
	}
	return record
}

func appendValue(builder array.Builder, value any) {
	if value == nil {
		builder.AppendNull()
		return
	}

	switch builder := builder.(type) {
	case *array.BooleanBuilder:
		builder.Append(value.(bool))
	case *array.StringBuilder:
		builder.Append(value.(string))
	case *array.Int32Builder:
		builder.Append(value.(int32))
	case *array.Int64Builder:
		builder.Append(value.(int64))
	case *array.Float32Builder:
		builder.Append(value.(float32))
	case *array.Float64Builder:
		builder.Append(value.(float64))
	case *array.TimestampBuilder:
		builder.Append(value.(arrow.Timestamp))
	default:
		panic(fmt.Sprintf("arrowtest: unsupported builder type %T", builder))
	}
}

// RecordRows converts a record back into Rows for comparison.
func RecordRows(record arrow.Record) (Rows, error) {
	rows := make(Rows, record.NumRows())

	for i := range int(record.NumRows()) {
		row := make(map[string]any, record.NumCols())

		for j, field := range record.Schema().Fields() {
			value, err := columnValue(record.Column(j), i)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", field.Name, err)
			}
			row[field.Name] = value
		}
		rows[i] = row
	}

	return rows, nil
}

func columnValue(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	switch arr := arr.(type) {
	case *array.Boolean:
		return arr.Value(i), nil
	case *array.String:
		return arr.Value(i), nil
	case *array.Int32:
		return arr.Value(i), nil
	case *array.Int64:
		return arr.Value(i), nil
	case *array.Float32:
		return arr.Value(i), nil
	case *array.Float64:
		return arr.Value(i), nil
	case *array.Timestamp:
		return arr.Value(i), nil
	default:
		return nil, fmt.Errorf("unsupported array type %T", arr)
	}
}
