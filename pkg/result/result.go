// Package result provides fallible lazy sequences: single-use, pull-based
// iterators whose items are value-or-error pairs. A sequence terminates
// immediately after yielding its first error; callers must treat an error
// item as exhaustion of that sequence.
package result

// Result holds either a value of type V or an error.
type Result[V any] struct {
	value V
	err   error
}

// Value creates a new Result with the provided value.
func Value[V any](v V) Result[V] { return Result[V]{value: v} }

// Error creates a new error Result.
func Error[V any](err error) Result[V] { return Result[V]{err: err} }

// Value returns the value of the Result and whether it is set.
func (r Result[V]) Value() (V, bool) { return r.value, r.err == nil }

// MustValue returns the value of the Result. It panics if the Result holds
// an error.
func (r Result[V]) MustValue() V {
	if r.err != nil {
		panic("result: MustValue called on error result")
	}
	return r.value
}

// Err returns the error of the Result, if any.
func (r Result[V]) Err() error { return r.err }

// Seq is a lazy sequence of Results. Iteration stops after the first error
// item. A Seq is not restartable; request a fresh Seq to iterate again.
type Seq[V any] func(yield func(Result[V]) bool)

// Iter creates a Seq from an iterator function that yields plain values
// and returns an error. The returned error, if any, becomes the final item
// of the sequence.
func Iter[V any](fn func(yield func(V) bool) error) Seq[V] {
	return func(yield func(Result[V]) bool) {
		valueYield := func(v V) bool {
			return yield(Value(v))
		}

		if err := fn(valueYield); err != nil {
			yield(Error[V](err))
		}
	}
}

// Values creates a Seq that yields the provided values in order.
func Values[V any](vs ...V) Seq[V] {
	return Iter(func(yield func(V) bool) error {
		for _, v := range vs {
			if !yield(v) {
				return nil
			}
		}
		return nil
	})
}

// Collect fully consumes seq, returning all values yielded before the
// first error, and that error if one occurred.
func Collect[V any](seq Seq[V]) ([]V, error) {
	var (
		values []V
		err    error
	)

	seq(func(r Result[V]) bool {
		if r.err != nil {
			err = r.err
			return false
		}
		values = append(values, r.value)
		return true
	})

	return values, err
}
