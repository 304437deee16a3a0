package main

import (
	"bytes"
	"fmt"

	"github.com/samber/lo"
)

// argRegs are the AAPCS64 integer argument/return registers, in order.
var argRegs = [8]string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}

// CodeGen walks a Program and emits Darwin/arm64 assembly text. It
// evaluates every expression as a stack machine over the real stack:
// each intermediate value occupies one 16-byte slot, which keeps sp
// 16-byte aligned at every call site for free.
type CodeGen struct {
	prog *Program
	buf  bytes.Buffer

	labelCounter int // monotonic across the whole compilation
	returnLabel  string
}

func NewCodeGen(prog *Program) *CodeGen {
	return &CodeGen{prog: prog}
}

func (cg *CodeGen) emit(format string, args ...interface{}) {
	fmt.Fprintf(&cg.buf, "    "+format+"\n", args...)
}

func (cg *CodeGen) label(format string, args ...interface{}) {
	fmt.Fprintf(&cg.buf, format+":\n", args...)
}

func (cg *CodeGen) nextLabel() int {
	cg.labelCounter++
	return cg.labelCounter
}

// Compile lowers the whole program to assembly text and returns it.
func (cg *CodeGen) Compile() (string, error) {
	cg.buf.WriteString(".text\n")
	for i, fn := range cg.prog.Funcs {
		if err := cg.compileFunc(i, &fn); err != nil {
			return "", err
		}
	}
	if len(cg.prog.Strings) > 0 {
		cg.compileStringPool()
	}
	return cg.buf.String(), nil
}

func (cg *CodeGen) compileFunc(id int, fn *Func) error {
	cg.returnLabel = fmt.Sprintf("Lreturn_%d", id)

	fmt.Fprintf(&cg.buf, ".globl _%s\n", fn.Name)
	fmt.Fprintf(&cg.buf, "_%s:\n", fn.Name)

	// Prologue.
	cg.emit("stp fp, lr, [sp, #-16]!")
	cg.emit("mov fp, sp")
	cg.emit("sub sp, sp, #%d", fn.FrameSize)

	// Parameters arrive in x0..x(n-1); store each to its slot.
	for i, slot := range fn.Params {
		cg.emit("str %s, [fp, #%d]", argRegs[i], localOffset(slot))
	}

	if err := cg.genStmt(fn.Body); err != nil {
		return err
	}

	// Epilogue: reached either by falling through or by a branch from
	// a Return statement. x0 already holds the result: either a Return
	// popped it explicitly, or the last evaluated expression's value
	// survived there because ExprStmt only rewinds sp, never x0.
	cg.label(cg.returnLabel)
	cg.emit("mov sp, fp")
	cg.emit("ldp fp, lr, [sp], #16")
	cg.emit("ret")
	cg.buf.WriteString("\n")
	return nil
}

func (cg *CodeGen) compileStringPool() {
	cg.buf.WriteString(".section __TEXT,__cstring\n")
	for i, s := range cg.prog.Strings {
		fmt.Fprintf(&cg.buf, "Lstr_%d:\n", i)
		cg.emit(".asciz %q", s)
	}
}

func (cg *CodeGen) push(reg string) { cg.emit("str %s, [sp, #-16]!", reg) }
func (cg *CodeGen) pop(reg string)  { cg.emit("ldr %s, [sp], #16", reg) }
func (cg *CodeGen) discard()        { cg.emit("add sp, sp, #16") }

func (cg *CodeGen) genStmt(idx int) error {
	s := cg.prog.stmt(idx)
	switch s.Kind {
	case SkExprStmt:
		if err := cg.genExpr(s.Expr); err != nil {
			return err
		}
		cg.discard()
		return nil

	case SkReturn:
		if err := cg.genExpr(s.Expr); err != nil {
			return err
		}
		cg.pop("x0")
		cg.emit("b %s", cg.returnLabel)
		return nil

	case SkIf:
		k := cg.nextLabel()
		if err := cg.genExpr(s.Cond); err != nil {
			return err
		}
		cg.pop("x0")
		cg.emit("cmp x0, #0")
		cg.emit("beq Lelse_%d", k)
		if err := cg.genStmt(s.Then); err != nil {
			return err
		}
		cg.emit("b Lend_%d", k)
		cg.label("Lelse_%d", k)
		if s.Else != noNode {
			if err := cg.genStmt(s.Else); err != nil {
				return err
			}
		}
		cg.label("Lend_%d", k)
		return nil

	case SkWhile:
		k := cg.nextLabel()
		cg.label("Lbegin_%d", k)
		if err := cg.genExpr(s.Cond); err != nil {
			return err
		}
		cg.pop("x0")
		cg.emit("cmp x0, #0")
		cg.emit("beq Lend_%d", k)
		if err := cg.genStmt(s.Then); err != nil {
			return err
		}
		cg.emit("b Lbegin_%d", k)
		cg.label("Lend_%d", k)
		return nil

	case SkFor:
		if s.Init != noNode {
			if err := cg.genExpr(s.Init); err != nil {
				return err
			}
			cg.discard()
		}
		k := cg.nextLabel()
		cg.label("Lbegin_%d", k)
		if s.Cond != noNode {
			if err := cg.genExpr(s.Cond); err != nil {
				return err
			}
			cg.pop("x0")
			cg.emit("cmp x0, #0")
			cg.emit("beq Lend_%d", k)
		}
		if err := cg.genStmt(s.Then); err != nil {
			return err
		}
		if s.Step != noNode {
			if err := cg.genExpr(s.Step); err != nil {
				return err
			}
			cg.discard()
		}
		cg.emit("b Lbegin_%d", k)
		cg.label("Lend_%d", k)
		return nil

	case SkBlock:
		for _, child := range s.Body {
			if err := cg.genStmt(child); err != nil {
				return err
			}
		}
		return nil

	case SkLet:
		if s.Expr == noNode {
			return nil
		}
		if err := cg.genExpr(s.Expr); err != nil {
			return err
		}
		cg.pop("x1")
		cg.emit("str x1, [fp, #%d]", localOffset(s.Slot))
		return nil
	}

	return &CodegenError{Kind: UnsupportedConstruct, Pos: s.Pos, Msg: "unsupported statement form"}
}

func (cg *CodeGen) genExpr(idx int) error {
	e := cg.prog.expr(idx)
	switch e.Kind {
	case EkNum:
		cg.emit("mov x0, #%d", e.Num)
		cg.push("x0")
		return nil

	case EkStrLit:
		label := fmt.Sprintf("Lstr_%d", e.Str)
		cg.emit("adrp x0, %s@PAGE", label)
		cg.emit("add x0, x0, %s@PAGEOFF", label)
		cg.push("x0")
		return nil

	case EkLocal:
		cg.emit("ldr x0, [fp, #%d]", localOffset(e.Slot))
		cg.push("x0")
		return nil

	case EkUnary:
		switch e.Un {
		case OpAddr:
			operand := cg.prog.expr(e.Lhs)
			cg.emit("add x0, fp, #%d", localOffset(operand.Slot))
			cg.push("x0")
			return nil
		case OpDeref:
			if err := cg.genExpr(e.Lhs); err != nil {
				return err
			}
			cg.pop("x0")
			cg.emit("ldr x0, [x0]")
			cg.push("x0")
			return nil
		}
		return &CodegenError{Kind: UnsupportedConstruct, Pos: e.Pos, Msg: "unsupported unary form"}

	case EkAssign:
		if err := cg.genLValueAddr(e.Lhs); err != nil {
			return err
		}
		if err := cg.genExpr(e.Rhs); err != nil {
			return err
		}
		cg.pop("x1") // rhs value
		cg.pop("x0") // address
		cg.emit("str x1, [x0]")
		cg.emit("mov x0, x1")
		cg.push("x0")
		return nil

	case EkBinary:
		if err := cg.genExpr(e.Lhs); err != nil {
			return err
		}
		if err := cg.genExpr(e.Rhs); err != nil {
			return err
		}
		cg.pop("x1")
		cg.pop("x0")
		switch e.Bin {
		case OpAdd:
			cg.emit("add x0, x0, x1")
		case OpSub:
			cg.emit("sub x0, x0, x1")
		case OpMul:
			cg.emit("mul x0, x0, x1")
		case OpDiv:
			cg.emit("sdiv x0, x0, x1")
		case OpEq:
			cg.emit("cmp x0, x1")
			cg.emit("cset x0, eq")
		case OpNe:
			cg.emit("cmp x0, x1")
			cg.emit("cset x0, ne")
		case OpLt:
			cg.emit("cmp x0, x1")
			cg.emit("cset x0, lt")
		case OpLe:
			cg.emit("cmp x0, x1")
			cg.emit("cset x0, le")
		default:
			return &CodegenError{Kind: UnsupportedConstruct, Pos: e.Pos, Msg: "unsupported binary operator"}
		}
		cg.push("x0")
		return nil

	case EkCall:
		for _, a := range e.Args {
			if err := cg.genExpr(a); err != nil {
				return err
			}
		}
		// Values were pushed left-to-right, so the top of stack is the
		// last argument; pop in reverse index order to land each one
		// in its calling-convention register.
		for _, i := range lo.Reverse(lo.Range(len(e.Args))) {
			cg.pop(argRegs[i])
		}
		cg.emit("bl _%s", e.Callee)
		cg.push("x0")
		return nil
	}

	return &CodegenError{Kind: UnsupportedConstruct, Pos: e.Pos, Msg: "unsupported expression form"}
}

// genLValueAddr emits code that leaves the address an lvalue refers to
// on top of the stack, without loading through it. lhs must already
// satisfy the l-value check performed at parse time.
func (cg *CodeGen) genLValueAddr(lhs int) error {
	e := cg.prog.expr(lhs)
	switch {
	case e.Kind == EkLocal:
		cg.emit("add x0, fp, #%d", localOffset(e.Slot))
		cg.push("x0")
		return nil
	case e.Kind == EkUnary && e.Un == OpDeref:
		// The address a deref writes through is just the operand's value.
		return cg.genExpr(e.Lhs)
	}
	return &CodegenError{Kind: UnsupportedConstruct, Pos: e.Pos, Msg: "assignment target is not an lvalue"}
}
