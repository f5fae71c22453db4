package result

// Map returns a lazy Seq yielding fn(v) for every value of seq. Error
// items of seq pass through unchanged and terminate the mapped sequence.
// No more than one item is in flight at a time.
func Map[V, U any](seq Seq[V], fn func(V) U) Seq[U] {
	return func(yield func(Result[U]) bool) {
		seq(func(r Result[V]) bool {
			if r.err != nil {
				yield(Error[U](r.err))
				return false
			}
			return yield(Value(fn(r.value)))
		})
	}
}

// TryMap is like Map but fn may fail. A transform failure is yielded as
// the next item of the returned sequence, which is then exhausted; the
// input sequence is not pulled past the failing item.
func TryMap[V, U any](seq Seq[V], fn func(V) (U, error)) Seq[U] {
	return func(yield func(Result[U]) bool) {
		seq(func(r Result[V]) bool {
			if r.err != nil {
				yield(Error[U](r.err))
				return false
			}

			u, err := fn(r.value)
			if err != nil {
				yield(Error[U](err))
				return false
			}
			return yield(Value(u))
		})
	}
}

// Flatten concatenates a sequence of sequences into one. One outer item is
// pulled at a time and its inner sequence fully drained before the next
// outer pull (outer-major, inner-minor order). An error at either level
// surfaces once and terminates the flattened sequence.
func Flatten[V any](seq Seq[Seq[V]]) Seq[V] {
	return func(yield func(Result[V]) bool) {
		seq(func(outer Result[Seq[V]]) bool {
			if outer.err != nil {
				yield(Error[V](outer.err))
				return false
			}

			ok, failed := true, false
			outer.value(func(inner Result[V]) bool {
				if inner.err != nil {
					failed = true
					yield(inner)
					return false
				}
				ok = yield(inner)
				return ok
			})
			return ok && !failed
		})
	}
}
