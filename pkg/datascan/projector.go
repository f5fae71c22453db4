package datascan

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/openlake/datascan/pkg/datascan/expr"
)

// A Projector maps input record batches onto a target schema. Columns
// present in the input are passed through or widened to the target type;
// columns absent from the input are materialized as constant columns from
// default values, typically bound from a fragment's partition expression.
//
// A Projector holds mutable working state and is not safe for concurrent
// use. A scan configures one immutable template in [ScanOptions]; every
// scan task derives its own working copy with [Projector.Clone].
type Projector struct {
	schema   *arrow.Schema
	defaults []*expr.Literal

	// scratch is reused between Project calls of the same task. Sharing it
	// across tasks corrupts in-flight projections.
	scratch []arrow.Array
}

// NewProjector creates a Projector targeting the given schema. The schema
// is shared by reference and never mutated.
func NewProjector(schema *arrow.Schema) *Projector {
	return &Projector{
		schema:   schema,
		defaults: make([]*expr.Literal, schema.NumFields()),
	}
}

// Schema returns the target schema.
func (p *Projector) Schema() *arrow.Schema { return p.schema }

// Clone returns an independent working copy of the projector. The target
// schema and default values are shared (both immutable); the working
// buffers are not.
func (p *Projector) Clone() *Projector {
	defaults := make([]*expr.Literal, len(p.defaults))
	copy(defaults, p.defaults)

	return &Projector{schema: p.schema, defaults: defaults}
}

// SetDefault binds a default value to the named target column. It returns
// an error wrapping [ErrConfiguration] if the schema has no such column or
// the value type differs from the column type.
func (p *Projector) SetDefault(name string, value expr.Literal) error {
	indices := p.schema.FieldIndices(name)
	if len(indices) == 0 {
		return fmt.Errorf("projector: no target column %q: %w", name, ErrConfiguration)
	}

	for _, idx := range indices {
		field := p.schema.Field(idx)
		if !arrow.TypeEqual(field.Type, value.ArrowType()) {
			return fmt.Errorf("projector: default for column %q has type %s, target column has type %s: %w",
				name, value.ArrowType(), field.Type, ErrConfiguration)
		}
		v := value
		p.defaults[idx] = &v
	}
	return nil
}

// SetDefaultValuesFrom binds default values from the equality conjunction
// of a partition expression. Partition columns not present in the target
// schema are ignored; a name collision with a differently-typed target
// column is an error wrapping [ErrConfiguration].
func (p *Projector) SetDefaultValuesFrom(partition expr.Expr) error {
	for name, value := range expr.EqualityPairs(partition) {
		if len(p.schema.FieldIndices(name)) == 0 {
			continue
		}
		if err := p.SetDefault(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Project maps batch onto the target schema. The output batch always has
// exactly the target schema and exactly the input row count. The caller
// must release the returned batch; the input batch is left untouched.
func (p *Projector) Project(batch arrow.Record, alloc memory.Allocator) (arrow.Record, error) {
	nfields := p.schema.NumFields()
	if cap(p.scratch) < nfields {
		p.scratch = make([]arrow.Array, nfields)
	}

	cols := p.scratch[:nfields]
	release := func(n int) {
		for i := range n {
			cols[i].Release()
			cols[i] = nil
		}
	}

	for i := range nfields {
		field := p.schema.Field(i)
		indices := batch.Schema().FieldIndices(field.Name)

		switch {
		case len(indices) > 0:
			src := batch.Column(indices[0])
			if arrow.TypeEqual(src.DataType(), field.Type) {
				src.Retain()
				cols[i] = src
				break
			}

			casted, err := castArray(src, field.Type, alloc)
			if err != nil {
				release(i)
				return nil, fmt.Errorf("projector: column %q: %w", field.Name, err)
			}
			cols[i] = casted

		case p.defaults[i] != nil:
			cols[i] = constantArray(*p.defaults[i], field.Type, int(batch.NumRows()), alloc)

		default:
			release(i)
			return nil, fmt.Errorf("projector: column %q missing from input and has no default value: %w",
				field.Name, ErrProjection)
		}
	}

	out := array.NewRecord(p.schema, cols, batch.NumRows())
	release(nfields)
	return out, nil
}

// castArray widens src to the target type. Only identity and safe numeric
// widening casts are representable; anything else wraps [ErrProjection].
func castArray(src arrow.Array, target arrow.DataType, alloc memory.Allocator) (arrow.Array, error) {
	switch src := src.(type) {
	case *array.Int32:
		switch target.ID() {
		case arrow.INT64:
			b := array.NewInt64Builder(alloc)
			defer b.Release()
			for i := range src.Len() {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(int64(src.Value(i)))
			}
			return b.NewArray(), nil

		case arrow.FLOAT64:
			b := array.NewFloat64Builder(alloc)
			defer b.Release()
			for i := range src.Len() {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(float64(src.Value(i)))
			}
			return b.NewArray(), nil
		}

	case *array.Int64:
		if target.ID() == arrow.FLOAT64 {
			b := array.NewFloat64Builder(alloc)
			defer b.Release()
			for i := range src.Len() {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(float64(src.Value(i)))
			}
			return b.NewArray(), nil
		}

	case *array.Float32:
		if target.ID() == arrow.FLOAT64 {
			b := array.NewFloat64Builder(alloc)
			defer b.Release()
			for i := range src.Len() {
				if src.IsNull(i) {
					b.AppendNull()
					continue
				}
				b.Append(float64(src.Value(i)))
			}
			return b.NewArray(), nil
		}
	}

	return nil, fmt.Errorf("cast from %s to %s is not representable: %w",
		src.DataType(), target, ErrProjection)
}

// constantArray broadcasts a literal across rows. The literal type was
// validated against the field type by SetDefault.
func constantArray(value expr.Literal, target arrow.DataType, rows int, alloc memory.Allocator) arrow.Array {
	builder := array.NewBuilder(alloc, target)
	defer builder.Release()

	switch builder := builder.(type) {
	case *array.BooleanBuilder:
		v := value.Any().(bool)
		for range rows {
			builder.Append(v)
		}
	case *array.StringBuilder:
		v := value.Any().(string)
		for range rows {
			builder.Append(v)
		}
	case *array.Int32Builder:
		v := value.Any().(int32)
		for range rows {
			builder.Append(v)
		}
	case *array.Int64Builder:
		v := value.Any().(int64)
		for range rows {
			builder.Append(v)
		}
	case *array.Float32Builder:
		v := value.Any().(float32)
		for range rows {
			builder.Append(v)
		}
	case *array.Float64Builder:
		v := value.Any().(float64)
		for range rows {
			builder.Append(v)
		}
	case *array.TimestampBuilder:
		v := value.Any().(arrow.Timestamp)
		for range rows {
			builder.Append(v)
		}
	default:
		panic(fmt.Sprintf("datascan: unimplemented default value type %s", target.Name()))
	}

	return builder.NewArray()
}
