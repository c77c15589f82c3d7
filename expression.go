// Package pluraal implements the Pluraal expression language: a small
// declarative language whose programs are JSON documents. Expressions are
// literals, named references, and branching forms; a Scope layers typed
// inputs and named calculations on top of raw expressions.
//
// Expression trees are immutable once constructed and evaluation is purely
// synchronous with no side effects, so independent evaluations may run
// concurrently without locking.
package pluraal

import (
	"fmt"
	"strconv"
)

// Type is the declared type of a scope input.
type Type string

const (
	TypeString Type = "string"
	TypeNumber Type = "number"
	TypeBool   Type = "bool"
)

// String returns the wire representation of the type.
func (t Type) String() string {
	return string(t)
}

// ParseType converts a wire type string to a Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeString, TypeNumber, TypeBool:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown input type %q", s)
}

// Expr is the interface implemented by all expression nodes.
type Expr interface {
	expr() // marker method
	String() string
}

// BranchExpr is the interface implemented by the branching expression nodes.
// On the wire, branch nodes are wrapped in a {"type": "branch"} object.
type BranchExpr interface {
	Expr
	branchExpr() // marker method
}

// Literal is a self-evaluating scalar value: string, float64, or bool.
type Literal struct {
	Value any
}

func (e *Literal) expr() {}

// Kind reports the Type of the literal's value, or "" if the value is not
// one of the three scalar kinds.
func (e *Literal) Kind() Type {
	switch e.Value.(type) {
	case string:
		return TypeString
	case float64:
		return TypeNumber
	case bool:
		return TypeBool
	}
	return ""
}

func (e *Literal) String() string {
	switch v := e.Value.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprintf("%v", e.Value)
}

// Str returns a string literal.
func Str(s string) *Literal {
	return &Literal{Value: s}
}

// Num returns a number literal.
func Num(f float64) *Literal {
	return &Literal{Value: f}
}

// Bool returns a boolean literal.
func Bool(b bool) *Literal {
	return &Literal{Value: b}
}

// Reference names a variable to be resolved against the evaluation context.
type Reference struct {
	Name string
}

func (e *Reference) expr() {}
func (e *Reference) String() string {
	return "ref(" + e.Name + ")"
}

// Ref returns a reference to the named variable.
func Ref(name string) *Reference {
	return &Reference{Name: name}
}

// IfThenElse selects Then or Else depending on the boolean the condition
// reduces to.
type IfThenElse struct {
	If   Expr
	Then Expr
	Else Expr
}

func (e *IfThenElse) expr()       {}
func (e *IfThenElse) branchExpr() {}
func (e *IfThenElse) String() string {
	return fmt.Sprintf("if %s then %s else %s", e.If, e.Then, e.Else)
}

// Rule is a single (condition, result) pair in a RuleChain.
type Rule struct {
	When Expr
	Then Expr
}

// RuleChain evaluates rules in declared order, first match wins. If no rule
// matches, Otherwise is evaluated when present; a nil Otherwise makes an
// unmatched chain an evaluation error.
type RuleChain struct {
	Rules     []Rule
	Otherwise Expr
}

func (e *RuleChain) expr()       {}
func (e *RuleChain) branchExpr() {}
func (e *RuleChain) String() string {
	return fmt.Sprintf("rules[%d]", len(e.Rules))
}

// Case is a single (key, value) pair in a FiniteBranch.
type Case struct {
	Key   Expr
	Value Expr
}

// FiniteBranch dispatches on the reduced value of BranchOn, comparing it to
// each case key by structural equality in declared order.
type FiniteBranch struct {
	BranchOn  Expr
	Cases     []Case
	Otherwise Expr
}

func (e *FiniteBranch) expr()       {}
func (e *FiniteBranch) branchExpr() {}
func (e *FiniteBranch) String() string {
	return fmt.Sprintf("branch on %s [%d cases]", e.BranchOn, len(e.Cases))
}

// Compile-time checks that all branch variants satisfy both interfaces.
var (
	_ BranchExpr = (*IfThenElse)(nil)
	_ BranchExpr = (*RuleChain)(nil)
	_ BranchExpr = (*FiniteBranch)(nil)
	_ Expr       = (*Literal)(nil)
	_ Expr       = (*Reference)(nil)
)
