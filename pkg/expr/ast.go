package expr

import (
	"strconv"
	"strings"
)

// Node is an expression tree node. The set of implementations is closed:
// Literal, Ident, List, Unary, Binary and Call.
type Node interface {
	node()
	String() string
}

// Literal is a constant: float64, string, bool or nil.
type Literal struct {
	Value any
}

// Ident is a bare identifier resolved against a Scope.
type Ident struct {
	Name string
}

// List is a bracketed list literal.
type List struct {
	Items []Node
}

// Unary is `not x` or `-x`.
type Unary struct {
	Op string
	X  Node
}

// Binary covers arithmetic, comparison, boolean and membership operators.
// Membership negation is represented by Op "not in".
type Binary struct {
	Op   string
	L, R Node
}

// Call invokes a whitelisted built-in.
type Call struct {
	Fn   string
	Args []Node
}

func (*Literal) node() {}
func (*Ident) node()   {}
func (*List) node()    {}
func (*Unary) node()   {}
func (*Binary) node()  {}
func (*Call) node()    {}

func (n *Literal) String() string {
	switch v := n.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "?"
}

func (n *Ident) String() string { return n.Name }

func (n *List) String() string {
	parts := make([]string, len(n.Items))
	for i, it := range n.Items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (n *Unary) String() string {
	if n.Op == "not" {
		return "(not " + n.X.String() + ")"
	}
	return "(" + n.Op + n.X.String() + ")"
}

func (n *Binary) String() string {
	return "(" + n.L.String() + " " + n.Op + " " + n.R.String() + ")"
}

func (n *Call) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return n.Fn + "(" + strings.Join(parts, ", ") + ")"
}
