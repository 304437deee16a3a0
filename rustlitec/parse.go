package main

import (
	"fmt"

	"github.com/samber/lo"
)

// Parser is a recursive-descent parser over the language grammar. It
// performs semantic lowering inline as it parses: identifier
// resolution into slot indices, the l-value check on assignment
// targets, and the >/>= to </<= rewrite.
//
// A Parser is single-use: construct one per compilation with NewParser,
// call Program once, and discard it.
type Parser struct {
	lex *Lexer
	src string

	cur    Token
	peeked *Token

	prog *Program

	locals   map[string]int
	nextSlot int
}

func NewParser(src string) (*Parser, error) {
	p := &Parser{
		lex:  NewLexer(src),
		src:  src,
		prog: &Program{},
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	if p.peeked != nil {
		p.cur = *p.peeked
		p.peeked = nil
		return nil
	}
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

// peekNext returns the token after p.cur without consuming p.cur. Used
// only to detect "ident '='" without fully parsing an expression first,
// since implicit declaration happens exactly at an assignment target.
func (p *Parser) peekNext() (Token, error) {
	if p.peeked == nil {
		tok, err := p.lex.Next()
		if err != nil {
			return Token{}, err
		}
		p.peeked = &tok
	}
	return *p.peeked, nil
}

func (p *Parser) expect(kind TokenKind) error {
	if p.cur.Kind != kind {
		return errUnexpectedToken(p.cur.Off, kind.String(), p.cur.Kind.String())
	}
	return p.advance()
}

func (p *Parser) newExpr(e Expr) int {
	p.prog.exprs = append(p.prog.exprs, e)
	return len(p.prog.exprs) - 1
}

func (p *Parser) newStmt(s Stmt) int {
	p.prog.stmts = append(p.prog.stmts, s)
	return len(p.prog.stmts) - 1
}

func (p *Parser) internString(s string) int {
	for i, existing := range p.prog.Strings {
		if existing == s {
			return i
		}
	}
	p.prog.Strings = append(p.prog.Strings, s)
	return len(p.prog.Strings) - 1
}

// declareOrLookup resolves name to its slot, creating a fresh slot on
// first occurrence. Slots are numbered from 1.
func (p *Parser) declareOrLookup(name string) int {
	if slot, ok := p.locals[name]; ok {
		return slot
	}
	slot := p.nextSlot
	p.nextSlot++
	p.locals[name] = slot
	return slot
}

func (p *Parser) lookup(name string) (int, bool) {
	slot, ok := p.locals[name]
	return slot, ok
}

// Program parses the whole "fn_def*" grammar and returns the compiled
// Program AST.
func (p *Parser) Program() (*Program, error) {
	for p.cur.Kind != TkEOF {
		if err := p.function(); err != nil {
			return nil, err
		}
	}
	return p.prog, nil
}

// function := 'fn' ident '(' (ident (',' ident)*)? ')' block
func (p *Parser) function() error {
	if err := p.expect(TkFn); err != nil {
		return err
	}
	if p.cur.Kind != TkIdent {
		return errUnexpectedToken(p.cur.Off, "function name", p.cur.Kind.String())
	}
	pos := p.cur.Off
	name := p.cur.Str
	if err := p.advance(); err != nil {
		return err
	}

	p.locals = map[string]int{}
	p.nextSlot = 1

	if err := p.expect(TkLParen); err != nil {
		return err
	}
	var params []int
	var paramNames []string
	if p.cur.Kind != TkRParen {
		for {
			if p.cur.Kind != TkIdent {
				return errUnexpectedToken(p.cur.Off, "parameter name", p.cur.Kind.String())
			}
			pname := p.cur.Str
			if lo.Contains(paramNames, pname) {
				return &ParseError{Kind: DuplicateParam, Pos: p.cur.Off, Msg: "duplicate parameter '" + pname + "'"}
			}
			paramNames = append(paramNames, pname)
			params = append(params, p.declareOrLookup(pname))
			if err := p.advance(); err != nil {
				return err
			}
			if p.cur.Kind == TkComma {
				if err := p.advance(); err != nil {
					return err
				}
				continue
			}
			break
		}
	}
	if err := p.expect(TkRParen); err != nil {
		return err
	}
	if len(params) > 8 {
		return &ParseError{
			Kind: TooManyParams,
			Pos:  pos,
			Msg:  fmt.Sprintf("function '%s' has %d parameters, at most 8 are supported", name, len(params)),
		}
	}

	body, err := p.block()
	if err != nil {
		return err
	}

	fn := Func{
		Name:      name,
		Params:    params,
		NumLocals: p.nextSlot - 1,
		Body:      body,
	}
	fn.FrameSize = frameSize(fn.NumLocals)
	p.prog.Funcs = append(p.prog.Funcs, fn)
	return nil
}

// block := '{' stmt* '}'
func (p *Parser) block() (int, error) {
	pos := p.cur.Off
	if err := p.expect(TkLBrace); err != nil {
		return noNode, err
	}
	var body []int
	for p.cur.Kind != TkRBrace {
		s, err := p.stmt()
		if err != nil {
			return noNode, err
		}
		body = append(body, s)
	}
	if err := p.expect(TkRBrace); err != nil {
		return noNode, err
	}
	return p.newStmt(Stmt{Kind: SkBlock, Pos: pos, Body: body}), nil
}

func (p *Parser) stmt() (int, error) {
	pos := p.cur.Off
	switch p.cur.Kind {
	case TkReturn:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		e, err := p.expr()
		if err != nil {
			return noNode, err
		}
		if err := p.expect(TkSemi); err != nil {
			return noNode, err
		}
		return p.newStmt(Stmt{Kind: SkReturn, Pos: pos, Expr: e, Then: noNode, Else: noNode, Cond: noNode, Init: noNode, Step: noNode}), nil

	case TkIf:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if err := p.expect(TkLParen); err != nil {
			return noNode, err
		}
		cond, err := p.expr()
		if err != nil {
			return noNode, err
		}
		if err := p.expect(TkRParen); err != nil {
			return noNode, err
		}
		then, err := p.stmt()
		if err != nil {
			return noNode, err
		}
		elseBranch := noNode
		if p.cur.Kind == TkElse {
			if err := p.advance(); err != nil {
				return noNode, err
			}
			elseBranch, err = p.stmt()
			if err != nil {
				return noNode, err
			}
		}
		return p.newStmt(Stmt{Kind: SkIf, Pos: pos, Cond: cond, Then: then, Else: elseBranch, Expr: noNode, Init: noNode, Step: noNode}), nil

	case TkWhile:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if err := p.expect(TkLParen); err != nil {
			return noNode, err
		}
		cond, err := p.expr()
		if err != nil {
			return noNode, err
		}
		if err := p.expect(TkRParen); err != nil {
			return noNode, err
		}
		body, err := p.stmt()
		if err != nil {
			return noNode, err
		}
		return p.newStmt(Stmt{Kind: SkWhile, Pos: pos, Cond: cond, Then: body, Else: noNode, Expr: noNode, Init: noNode, Step: noNode}), nil

	case TkFor:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if err := p.expect(TkLParen); err != nil {
			return noNode, err
		}
		init := noNode
		if p.cur.Kind != TkSemi {
			e, err := p.expr()
			if err != nil {
				return noNode, err
			}
			init = e
		}
		if err := p.expect(TkSemi); err != nil {
			return noNode, err
		}
		cond := noNode
		if p.cur.Kind != TkSemi {
			e, err := p.expr()
			if err != nil {
				return noNode, err
			}
			cond = e
		}
		if err := p.expect(TkSemi); err != nil {
			return noNode, err
		}
		step := noNode
		if p.cur.Kind != TkRParen {
			e, err := p.expr()
			if err != nil {
				return noNode, err
			}
			step = e
		}
		if err := p.expect(TkRParen); err != nil {
			return noNode, err
		}
		body, err := p.stmt()
		if err != nil {
			return noNode, err
		}
		return p.newStmt(Stmt{Kind: SkFor, Pos: pos, Cond: cond, Then: body, Init: init, Step: step, Expr: noNode, Else: noNode}), nil

	case TkLBrace:
		return p.block()

	case TkLet:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if p.cur.Kind != TkIdent {
			return noNode, errUnexpectedToken(p.cur.Off, "identifier", p.cur.Kind.String())
		}
		name := p.cur.Str
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if p.cur.Kind == TkColon {
			// Type annotations are parsed and discarded; the backend is untyped.
			if err := p.advance(); err != nil {
				return noNode, err
			}
			if p.cur.Kind != TkIdent {
				return noNode, errUnexpectedToken(p.cur.Off, "type name", p.cur.Kind.String())
			}
			if err := p.advance(); err != nil {
				return noNode, err
			}
		}
		slot := p.declareOrLookup(name)
		init := noNode
		if p.cur.Kind == TkAssign {
			if err := p.advance(); err != nil {
				return noNode, err
			}
			e, err := p.expr()
			if err != nil {
				return noNode, err
			}
			init = e
		}
		if err := p.expect(TkSemi); err != nil {
			return noNode, err
		}
		return p.newStmt(Stmt{Kind: SkLet, Pos: pos, Slot: slot, Expr: init, Cond: noNode, Then: noNode, Else: noNode, Init: noNode, Step: noNode}), nil

	default:
		e, err := p.expr()
		if err != nil {
			return noNode, err
		}
		if err := p.expect(TkSemi); err != nil {
			return noNode, err
		}
		return p.newStmt(Stmt{Kind: SkExprStmt, Pos: pos, Expr: e, Cond: noNode, Then: noNode, Else: noNode, Init: noNode, Step: noNode}), nil
	}
}

// expr := assign
func (p *Parser) expr() (int, error) {
	return p.assign()
}

// assign := equality ('=' assign)?
//
// Right-associative. An identifier immediately followed by '=' is the
// one syntactic spot where an undefined name is *not* an error: it is
// instead implicitly declared.
func (p *Parser) assign() (int, error) {
	if p.cur.Kind == TkIdent {
		next, err := p.peekNext()
		if err != nil {
			return noNode, err
		}
		if next.Kind == TkAssign {
			pos := p.cur.Off
			name := p.cur.Str
			slot := p.declareOrLookup(name)
			if err := p.advance(); err != nil { // ident
				return noNode, err
			}
			if err := p.advance(); err != nil { // '='
				return noNode, err
			}
			rhs, err := p.assign()
			if err != nil {
				return noNode, err
			}
			lhs := p.newExpr(Expr{Kind: EkLocal, Pos: pos, Slot: slot, Lhs: noNode, Rhs: noNode})
			return p.newExpr(Expr{Kind: EkAssign, Pos: pos, Lhs: lhs, Rhs: rhs}), nil
		}
	}

	node, err := p.equality()
	if err != nil {
		return noNode, err
	}
	if p.cur.Kind == TkAssign {
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if !p.isLValue(node) {
			return noNode, &ParseError{Kind: NotAnLValue, Pos: pos, Msg: "left-hand side of '=' is not an lvalue"}
		}
		rhs, err := p.assign()
		if err != nil {
			return noNode, err
		}
		return p.newExpr(Expr{Kind: EkAssign, Pos: pos, Lhs: node, Rhs: rhs}), nil
	}
	return node, nil
}

func (p *Parser) isLValue(idx int) bool {
	e := p.prog.expr(idx)
	if e.Kind == EkLocal {
		return true
	}
	if e.Kind == EkUnary && e.Un == OpDeref {
		return true
	}
	return false
}

// equality := relational (('=='|'!=') relational)*
func (p *Parser) equality() (int, error) {
	node, err := p.relational()
	if err != nil {
		return noNode, err
	}
	for {
		var op BinOp
		switch p.cur.Kind {
		case TkEq:
			op = OpEq
		case TkNe:
			op = OpNe
		default:
			return node, nil
		}
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		rhs, err := p.relational()
		if err != nil {
			return noNode, err
		}
		node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: op, Lhs: node, Rhs: rhs})
	}
}

// relational := add (('<'|'<='|'>'|'>=') add)*
//
// '>' and '>=' are rewritten to '<' and '<=' with swapped operands at
// parse time, so the backend only ever sees Lt/Le.
func (p *Parser) relational() (int, error) {
	node, err := p.add()
	if err != nil {
		return noNode, err
	}
	for {
		switch p.cur.Kind {
		case TkLt:
			pos := p.cur.Off
			if err := p.advance(); err != nil {
				return noNode, err
			}
			rhs, err := p.add()
			if err != nil {
				return noNode, err
			}
			node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: OpLt, Lhs: node, Rhs: rhs})
		case TkLe:
			pos := p.cur.Off
			if err := p.advance(); err != nil {
				return noNode, err
			}
			rhs, err := p.add()
			if err != nil {
				return noNode, err
			}
			node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: OpLe, Lhs: node, Rhs: rhs})
		case TkGt:
			pos := p.cur.Off
			if err := p.advance(); err != nil {
				return noNode, err
			}
			rhs, err := p.add()
			if err != nil {
				return noNode, err
			}
			node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: OpLt, Lhs: rhs, Rhs: node})
		case TkGe:
			pos := p.cur.Off
			if err := p.advance(); err != nil {
				return noNode, err
			}
			rhs, err := p.add()
			if err != nil {
				return noNode, err
			}
			node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: OpLe, Lhs: rhs, Rhs: node})
		default:
			return node, nil
		}
	}
}

// add := mul (('+'|'-') mul)*
func (p *Parser) add() (int, error) {
	node, err := p.mul()
	if err != nil {
		return noNode, err
	}
	for {
		var op BinOp
		switch p.cur.Kind {
		case TkPlus:
			op = OpAdd
		case TkMinus:
			op = OpSub
		default:
			return node, nil
		}
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		rhs, err := p.mul()
		if err != nil {
			return noNode, err
		}
		node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: op, Lhs: node, Rhs: rhs})
	}
}

// mul := unary (('*'|'/') unary)*
func (p *Parser) mul() (int, error) {
	node, err := p.unary()
	if err != nil {
		return noNode, err
	}
	for {
		var op BinOp
		switch p.cur.Kind {
		case TkStar:
			op = OpMul
		case TkSlash:
			op = OpDiv
		default:
			return node, nil
		}
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		rhs, err := p.unary()
		if err != nil {
			return noNode, err
		}
		node = p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: op, Lhs: node, Rhs: rhs})
	}
}

// unary := ('+'|'-'|'*'|'&') unary | primary
//
// Unary '+' is absorbed (identity). Unary '-' desugars to "0 - operand"
// so the backend never has to special-case negation.
func (p *Parser) unary() (int, error) {
	switch p.cur.Kind {
	case TkPlus:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		return p.unary()
	case TkMinus:
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		operand, err := p.unary()
		if err != nil {
			return noNode, err
		}
		zero := p.newExpr(Expr{Kind: EkNum, Pos: pos, Num: 0})
		return p.newExpr(Expr{Kind: EkBinary, Pos: pos, Bin: OpSub, Lhs: zero, Rhs: operand}), nil
	case TkAmp:
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		operand, err := p.unary()
		if err != nil {
			return noNode, err
		}
		if p.prog.expr(operand).Kind != EkLocal {
			return noNode, &ParseError{Kind: NotAnLValue, Pos: pos, Msg: "operand of '&' is not an lvalue"}
		}
		return p.newExpr(Expr{Kind: EkUnary, Pos: pos, Un: OpAddr, Lhs: operand, Rhs: noNode}), nil
	case TkStar:
		pos := p.cur.Off
		if err := p.advance(); err != nil {
			return noNode, err
		}
		operand, err := p.unary()
		if err != nil {
			return noNode, err
		}
		return p.newExpr(Expr{Kind: EkUnary, Pos: pos, Un: OpDeref, Lhs: operand, Rhs: noNode}), nil
	default:
		return p.primary()
	}
}

// primary := num | string | ident ('(' (expr (',' expr)*)? ')')? | '(' expr ')'
func (p *Parser) primary() (int, error) {
	pos := p.cur.Off
	switch p.cur.Kind {
	case TkLParen:
		if err := p.advance(); err != nil {
			return noNode, err
		}
		e, err := p.expr()
		if err != nil {
			return noNode, err
		}
		if err := p.expect(TkRParen); err != nil {
			return noNode, err
		}
		return e, nil

	case TkNum:
		n := p.cur.Num
		if err := p.advance(); err != nil {
			return noNode, err
		}
		return p.newExpr(Expr{Kind: EkNum, Pos: pos, Num: n, Lhs: noNode, Rhs: noNode}), nil

	case TkStr:
		s := p.cur.Str
		if err := p.advance(); err != nil {
			return noNode, err
		}
		idx := p.internString(s)
		return p.newExpr(Expr{Kind: EkStrLit, Pos: pos, Str: idx, Lhs: noNode, Rhs: noNode}), nil

	case TkIdent:
		name := p.cur.Str
		if err := p.advance(); err != nil {
			return noNode, err
		}
		if p.cur.Kind == TkLParen {
			return p.call(pos, name)
		}
		slot, ok := p.lookup(name)
		if !ok {
			return noNode, &ParseError{Kind: UndefinedName, Pos: pos, Msg: "undefined name '" + name + "'"}
		}
		return p.newExpr(Expr{Kind: EkLocal, Pos: pos, Slot: slot, Lhs: noNode, Rhs: noNode}), nil

	default:
		return noNode, errUnexpectedToken(pos, "an expression", p.cur.Kind.String())
	}
}

// function_args (call site) := '(' (expr (',' expr)*)? ')'
func (p *Parser) call(pos int, name string) (int, error) {
	if err := p.expect(TkLParen); err != nil {
		return noNode, err
	}
	var args []int
	if p.cur.Kind != TkRParen {
		for {
			a, err := p.expr()
			if err != nil {
				return noNode, err
			}
			args = append(args, a)
			if p.cur.Kind == TkComma {
				if err := p.advance(); err != nil {
					return noNode, err
				}
				continue
			}
			break
		}
	}
	if err := p.expect(TkRParen); err != nil {
		return noNode, err
	}
	if len(args) > 8 {
		return noNode, &ParseError{
			Kind: TooManyArgs,
			Pos:  pos,
			Msg:  fmt.Sprintf("call to '%s' has %d arguments, at most 8 are supported", name, len(args)),
		}
	}
	return p.newExpr(Expr{Kind: EkCall, Pos: pos, Callee: name, Args: args, Lhs: noNode, Rhs: noNode}), nil
}
