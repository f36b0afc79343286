package starlark

import (
	"fmt"
	"strconv"

	"go.starlark.net/syntax"
)

// Helper names start with "$", which the scanner never produces, so
// handler source cannot name or shadow them.
const helperAttr = "$attr"

// checkedOps are routed through a size or cost check before they run.
var checkedOps = map[syntax.Token]bool{
	syntax.PLUS:    true,
	syntax.STAR:    true,
	syntax.PERCENT: true,
	syntax.EQL:     true,
	syntax.NEQ:     true,
	syntax.LT:      true,
	syntax.GT:      true,
	syntax.LE:      true,
	syntax.GE:      true,
	syntax.IN:      true,
	syntax.NOT_IN:  true,
}

// augmented maps an augmented assignment to the helper that computes it.
var augmented = map[syntax.Token]syntax.Token{
	syntax.PLUS_EQ:    syntax.PLUS_EQ,
	syntax.STAR_EQ:    syntax.STAR,
	syntax.PERCENT_EQ: syntax.PERCENT,
}

// checkedMethods can build results much larger than their inputs.
var checkedMethods = map[string]bool{
	"replace": true,
	"join":    true,
	"format":  true,
	"extend":  true,
}

func opHelper(op syntax.Token) string {
	return "$" + op.String()
}

func isHelper(name string) bool {
	if name == helperAttr {
		return true
	}
	for op := range checkedOps {
		if name == opHelper(op) {
			return true
		}
	}
	return name == opHelper(syntax.PLUS_EQ)
}

// rewriteFile routes checked operators, augmented assignments and
// amplifying methods through the helpers bound by limits. It runs after
// parsing and before resolution.
func rewriteFile(f *syntax.File) error {
	return rewriteStmts(f.Stmts)
}

func rewriteStmts(stmts []syntax.Stmt) error {
	for _, s := range stmts {
		if err := rewriteStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func rewriteStmt(s syntax.Stmt) error {
	switch s := s.(type) {
	case *syntax.AssignStmt:
		s.RHS = rewriteExpr(s.RHS)
		if op, ok := augmented[s.Op]; ok {
			load, ok := copyTarget(s.LHS)
			if !ok {
				start, _ := s.LHS.Span()
				return fmt.Errorf("%s: %s target must not call functions; assign the index to a variable first", start, s.Op)
			}
			s.RHS = helperCall(opHelper(op), s.OpPos, rewriteExpr(load), s.RHS)
			s.Op = syntax.EQ
		}
		rewriteTarget(s.LHS)
	case *syntax.DefStmt:
		rewriteParams(s.Params)
		return rewriteStmts(s.Body)
	case *syntax.ExprStmt:
		s.X = rewriteExpr(s.X)
	case *syntax.ForStmt:
		rewriteTarget(s.Vars)
		s.X = rewriteExpr(s.X)
		return rewriteStmts(s.Body)
	case *syntax.WhileStmt:
		s.Cond = rewriteExpr(s.Cond)
		return rewriteStmts(s.Body)
	case *syntax.IfStmt:
		s.Cond = rewriteExpr(s.Cond)
		if err := rewriteStmts(s.True); err != nil {
			return err
		}
		return rewriteStmts(s.False)
	case *syntax.ReturnStmt:
		s.Result = rewriteExpr(s.Result)
	}
	return nil
}

func rewriteParams(params []syntax.Expr) {
	for _, p := range params {
		if b, ok := p.(*syntax.BinaryExpr); ok && b.Op == syntax.EQ {
			b.Y = rewriteExpr(b.Y)
		}
	}
}

func rewriteExpr(e syntax.Expr) syntax.Expr {
	switch e := e.(type) {
	case nil:
		return nil
	case *syntax.BinaryExpr:
		e.X = rewriteExpr(e.X)
		e.Y = rewriteExpr(e.Y)
		if checkedOps[e.Op] {
			return helperCall(opHelper(e.Op), e.OpPos, e.X, e.Y)
		}
	case *syntax.UnaryExpr:
		e.X = rewriteExpr(e.X)
	case *syntax.CallExpr:
		e.Fn = rewriteExpr(e.Fn)
		for i := range e.Args {
			e.Args[i] = rewriteExpr(e.Args[i])
		}
	case *syntax.DotExpr:
		e.X = rewriteExpr(e.X)
		if checkedMethods[e.Name.Name] {
			return helperCall(helperAttr, e.Dot, e.X, stringLiteral(e.Name.Name, e.NamePos))
		}
	case *syntax.Comprehension:
		for _, c := range e.Clauses {
			switch c := c.(type) {
			case *syntax.ForClause:
				rewriteTarget(c.Vars)
				c.X = rewriteExpr(c.X)
			case *syntax.IfClause:
				c.Cond = rewriteExpr(c.Cond)
			}
		}
		e.Body = rewriteExpr(e.Body)
	case *syntax.CondExpr:
		e.Cond = rewriteExpr(e.Cond)
		e.True = rewriteExpr(e.True)
		e.False = rewriteExpr(e.False)
	case *syntax.DictExpr:
		for i := range e.List {
			e.List[i] = rewriteExpr(e.List[i])
		}
	case *syntax.DictEntry:
		e.Key = rewriteExpr(e.Key)
		e.Value = rewriteExpr(e.Value)
	case *syntax.IndexExpr:
		e.X = rewriteExpr(e.X)
		e.Y = rewriteExpr(e.Y)
	case *syntax.LambdaExpr:
		rewriteParams(e.Params)
		e.Body = rewriteExpr(e.Body)
	case *syntax.ListExpr:
		for i := range e.List {
			e.List[i] = rewriteExpr(e.List[i])
		}
	case *syntax.TupleExpr:
		for i := range e.List {
			e.List[i] = rewriteExpr(e.List[i])
		}
	case *syntax.ParenExpr:
		e.X = rewriteExpr(e.X)
	case *syntax.SliceExpr:
		e.X = rewriteExpr(e.X)
		e.Lo = rewriteExpr(e.Lo)
		e.Hi = rewriteExpr(e.Hi)
		e.Step = rewriteExpr(e.Step)
	}
	return e
}

// rewriteTarget rewrites the expressions evaluated while storing to an
// assignment target, leaving the target's own shape alone.
func rewriteTarget(e syntax.Expr) {
	switch e := e.(type) {
	case *syntax.IndexExpr:
		e.X = rewriteExpr(e.X)
		e.Y = rewriteExpr(e.Y)
	case *syntax.DotExpr:
		e.X = rewriteExpr(e.X)
	case *syntax.ParenExpr:
		rewriteTarget(e.X)
	case *syntax.ListExpr:
		for _, x := range e.List {
			rewriteTarget(x)
		}
	case *syntax.TupleExpr:
		for _, x := range e.List {
			rewriteTarget(x)
		}
	}
}

// copyTarget returns a fresh copy of an augmented assignment target so it
// can be read as well as stored. Targets that call functions are refused:
// reading them twice would repeat the call.
func copyTarget(e syntax.Expr) (syntax.Expr, bool) {
	switch e := e.(type) {
	case nil:
		return nil, true
	case *syntax.Ident:
		return &syntax.Ident{NamePos: e.NamePos, Name: e.Name}, true
	case *syntax.Literal:
		c := *e
		return &c, true
	case *syntax.ParenExpr:
		x, ok := copyTarget(e.X)
		return &syntax.ParenExpr{Lparen: e.Lparen, X: x, Rparen: e.Rparen}, ok
	case *syntax.IndexExpr:
		x, okx := copyTarget(e.X)
		y, oky := copyTarget(e.Y)
		return &syntax.IndexExpr{X: x, Lbrack: e.Lbrack, Y: y, Rbrack: e.Rbrack}, okx && oky
	case *syntax.DotExpr:
		x, ok := copyTarget(e.X)
		name := &syntax.Ident{NamePos: e.Name.NamePos, Name: e.Name.Name}
		return &syntax.DotExpr{X: x, Dot: e.Dot, NamePos: e.NamePos, Name: name}, ok
	case *syntax.UnaryExpr:
		x, ok := copyTarget(e.X)
		return &syntax.UnaryExpr{OpPos: e.OpPos, Op: e.Op, X: x}, ok
	case *syntax.BinaryExpr:
		x, okx := copyTarget(e.X)
		y, oky := copyTarget(e.Y)
		return &syntax.BinaryExpr{X: x, OpPos: e.OpPos, Op: e.Op, Y: y}, okx && oky
	case *syntax.SliceExpr:
		x, okx := copyTarget(e.X)
		lo, oklo := copyTarget(e.Lo)
		hi, okhi := copyTarget(e.Hi)
		step, okstep := copyTarget(e.Step)
		return &syntax.SliceExpr{X: x, Lbrack: e.Lbrack, Lo: lo, Hi: hi, Step: step, Rbrack: e.Rbrack}, okx && oklo && okhi && okstep
	case *syntax.TupleExpr:
		list, ok := copyTargets(e.List)
		return &syntax.TupleExpr{Lparen: e.Lparen, List: list, Rparen: e.Rparen}, ok
	case *syntax.ListExpr:
		list, ok := copyTargets(e.List)
		return &syntax.ListExpr{Lbrack: e.Lbrack, List: list, Rbrack: e.Rbrack}, ok
	}
	return nil, false
}

func copyTargets(list []syntax.Expr) ([]syntax.Expr, bool) {
	out := make([]syntax.Expr, len(list))
	for i, x := range list {
		c, ok := copyTarget(x)
		if !ok {
			return nil, false
		}
		out[i] = c
	}
	return out, true
}

func helperCall(name string, pos syntax.Position, args ...syntax.Expr) *syntax.CallExpr {
	return &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: pos, Name: name},
		Lparen: pos,
		Args:   args,
		Rparen: pos,
	}
}

func stringLiteral(s string, pos syntax.Position) *syntax.Literal {
	return &syntax.Literal{Token: syntax.STRING, TokenPos: pos, Raw: strconv.Quote(s), Value: s}
}
