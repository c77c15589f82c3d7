package pluraal

// Equal reports structural equality between two expressions as used by
// FiniteBranch case matching.
//
// Literals are equal when both kind and content match exactly; numbers use
// exact float64 equality. A literal holding a non-scalar value is equal to
// nothing. References are equal on name alone, without resolution. Branch
// nodes are never equal to anything, including themselves: callers are
// expected to reduce before comparing.
func Equal(a, b Expr) bool {
	switch x := a.(type) {
	case *Literal:
		y, ok := b.(*Literal)
		if !ok {
			return false
		}
		// Kind guards the comparison: a non-scalar Value would make == panic.
		return x.Kind() != "" && y.Kind() != "" && x.Value == y.Value
	case *Reference:
		y, ok := b.(*Reference)
		if !ok {
			return false
		}
		return x.Name == y.Name
	}
	return false
}
