package expr

// SimplifyGiven rewrites filter under the equality assignment implied by
// partition. Column references bound by the assignment are substituted
// with their literal values, and subtrees that become statically decided
// are folded to boolean literals.
//
// Simplification is pure and idempotent. It is sound: for any row, the
// simplified filter evaluates to the same outcome as the original filter
// whenever the partition assignment holds for that row.
//
// A nil filter simplifies to nil; a nil partition leaves the filter
// unchanged.
func SimplifyGiven(filter, partition Expr) Expr {
	if filter == nil {
		return nil
	}

	assignment := EqualityPairs(partition)
	if len(assignment) == 0 {
		return filter
	}
	return simplify(filter, assignment)
}

// IsAlwaysTrue reports whether e is the boolean literal true. A filter
// that simplifies to always-true matches every row.
func IsAlwaysTrue(e Expr) bool {
	lit, ok := e.(*LiteralExpr)
	return ok && lit.Value.kind == ValueKindBool && lit.Value.value == true
}

// IsAlwaysFalse reports whether e is the boolean literal false. A filter
// that simplifies to always-false excludes every row, which permits a
// fragment to skip physical reads entirely.
func IsAlwaysFalse(e Expr) bool {
	lit, ok := e.(*LiteralExpr)
	return ok && lit.Value.kind == ValueKindBool && lit.Value.value == false
}

// EqualityPairs extracts the column=literal assignment from a partition
// expression. Only conjunctions of equalities contribute bindings;
// anything else (disjunctions, negations, inequalities) is ignored, which
// keeps simplification conservative.
func EqualityPairs(e Expr) map[string]Literal {
	out := make(map[string]Literal)
	collectBindings(e, out)
	return out
}

func collectBindings(e Expr, out map[string]Literal) {
	node, ok := e.(*BinaryExpr)
	if !ok {
		return
	}

	switch node.Op {
	case BinOpKindAnd:
		collectBindings(node.Left, out)
		collectBindings(node.Right, out)

	case BinOpKindEq:
		if col, ok := node.Left.(*ColumnExpr); ok {
			if lit, ok := node.Right.(*LiteralExpr); ok {
				out[col.Name] = lit.Value
			}
		} else if col, ok := node.Right.(*ColumnExpr); ok {
			if lit, ok := node.Left.(*LiteralExpr); ok {
				out[col.Name] = lit.Value
			}
		}
	}
}

func simplify(e Expr, assignment map[string]Literal) Expr {
	switch e := e.(type) {
	case *LiteralExpr:
		return e

	case *ColumnExpr:
		if lit, ok := assignment[e.Name]; ok {
			return &LiteralExpr{Value: lit}
		}
		return e

	case *BinaryExpr:
		left := simplify(e.Left, assignment)
		right := simplify(e.Right, assignment)

		switch {
		case e.Op.comparison():
			return foldComparison(e.Op, left, right)
		case e.Op == BinOpKindAnd:
			return foldAnd(left, right)
		case e.Op == BinOpKindOr:
			return foldOr(left, right)
		}
		return &BinaryExpr{Left: left, Right: right, Op: e.Op}

	case *UnaryExpr:
		inner := simplify(e.Expr, assignment)
		if e.Op == UnaryOpKindNot {
			if IsAlwaysTrue(inner) {
				return Lit(false)
			}
			if IsAlwaysFalse(inner) {
				return Lit(true)
			}
		}
		return &UnaryExpr{Expr: inner, Op: e.Op}
	}

	return e
}

// foldComparison folds a comparison of two literals to a boolean literal.
// Incomparable literal pairs are left unfolded; evaluation reports the
// type error.
func foldComparison(op BinOpKind, left, right Expr) Expr {
	llit, lok := left.(*LiteralExpr)
	rlit, rok := right.(*LiteralExpr)
	if lok && rok {
		if c, ok := compareValues(llit.Value.value, rlit.Value.value); ok {
			return Lit(cmpHolds(op, c))
		}
	}
	return &BinaryExpr{Left: left, Right: right, Op: op}
}

func foldAnd(left, right Expr) Expr {
	switch {
	case IsAlwaysFalse(left) || IsAlwaysFalse(right):
		return Lit(false)
	case IsAlwaysTrue(left):
		return right
	case IsAlwaysTrue(right):
		return left
	}
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindAnd}
}

func foldOr(left, right Expr) Expr {
	switch {
	case IsAlwaysTrue(left) || IsAlwaysTrue(right):
		return Lit(true)
	case IsAlwaysFalse(left):
		return right
	case IsAlwaysFalse(right):
		return left
	}
	return &BinaryExpr{Left: left, Right: right, Op: BinOpKindOr}
}
