package main

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func compileToAsm(t *testing.T, src string) string {
	t.Helper()
	p, err := NewParser(src)
	be.Err(t, err, nil)
	prog, err := p.Program()
	be.Err(t, err, nil)
	cg := NewCodeGen(prog)
	asm, err := cg.Compile()
	be.Err(t, err, nil)
	return asm
}

func TestCodegenEmitsGlobalAndPrologueEpilogue(t *testing.T) {
	asm := compileToAsm(t, "fn main() { return 0; }")
	be.True(t, strings.Contains(asm, ".globl _main"))
	be.True(t, strings.Contains(asm, "_main:"))
	be.True(t, strings.Contains(asm, "stp fp, lr, [sp, #-16]!"))
	be.True(t, strings.Contains(asm, "mov fp, sp"))
	be.True(t, strings.Contains(asm, "ldp fp, lr, [sp], #16"))
	be.True(t, strings.Contains(asm, "ret"))
}

func TestCodegenFrameSizeIsSubtractedInPrologue(t *testing.T) {
	asm := compileToAsm(t, "fn f() { let a = 1; let b = 2; return a + b; }")
	be.True(t, strings.Contains(asm, "sub sp, sp, #32"))
}

func TestCodegenZeroLocalsSubtractsZeroFrame(t *testing.T) {
	asm := compileToAsm(t, "fn f() { return 1; }")
	be.True(t, strings.Contains(asm, "sub sp, sp, #0"))
}

func TestCodegenParamsStoredToSlots(t *testing.T) {
	asm := compileToAsm(t, "fn add(a, b) { return a + b; }")
	be.True(t, strings.Contains(asm, "str x0, [fp, #-16]"))
	be.True(t, strings.Contains(asm, "str x1, [fp, #-32]"))
}

func TestCodegenCallUsesArgRegistersInOrder(t *testing.T) {
	asm := compileToAsm(t, "fn f() { return g(1, 2, 3); }")
	be.True(t, strings.Contains(asm, "ldr x2, [sp], #16"))
	be.True(t, strings.Contains(asm, "ldr x1, [sp], #16"))
	be.True(t, strings.Contains(asm, "ldr x0, [sp], #16"))
	be.True(t, strings.Contains(asm, "bl _g"))
}

func TestCodegenLabelsAreUniqueAcrossFunctions(t *testing.T) {
	asm := compileToAsm(t, `
		fn a() { if (1) { return 1; } return 0; }
		fn b() { if (1) { return 1; } return 0; }
	`)
	be.True(t, strings.Contains(asm, "Lelse_1"))
	be.True(t, strings.Contains(asm, "Lelse_2"))
	be.True(t, !strings.Contains(asm, "Lelse_3"))
}

func TestCodegenEachFunctionGetsItsOwnReturnLabel(t *testing.T) {
	asm := compileToAsm(t, `
		fn a() { return 1; }
		fn b() { return 2; }
	`)
	be.True(t, strings.Contains(asm, "Lreturn_0:"))
	be.True(t, strings.Contains(asm, "Lreturn_1:"))
}

func TestCodegenRecursiveFibHasTwoCallSites(t *testing.T) {
	asm := compileToAsm(t, `
		fn fib(n) {
			if (n < 2) { return n; }
			return fib(n - 1) + fib(n - 2);
		}
	`)
	be.Equal(t, strings.Count(asm, "    bl _fib"), 2)
	be.True(t, strings.Contains(asm, "Lreturn_0:"))
}

func TestCodegenStringLiteralsEmitCstringPool(t *testing.T) {
	asm := compileToAsm(t, `fn f() { print("hi"); }`)
	be.True(t, strings.Contains(asm, ".section __TEXT,__cstring"))
	be.True(t, strings.Contains(asm, "Lstr_0:"))
	be.True(t, strings.Contains(asm, `.asciz "hi"`))
	be.True(t, strings.Contains(asm, "adrp x0, Lstr_0@PAGE"))
	be.True(t, strings.Contains(asm, "add x0, x0, Lstr_0@PAGEOFF"))
}

func TestCodegenNoStringsMeansNoCstringSection(t *testing.T) {
	asm := compileToAsm(t, "fn f() { return 1; }")
	be.True(t, !strings.Contains(asm, "__cstring"))
}

func TestCodegenComparisonUsesCsetWithCorrectCondition(t *testing.T) {
	asm := compileToAsm(t, "fn f() { return 1 == 2; }")
	be.True(t, strings.Contains(asm, "cset x0, eq"))

	asm = compileToAsm(t, "fn f() { return 1 != 2; }")
	be.True(t, strings.Contains(asm, "cset x0, ne"))

	asm = compileToAsm(t, "fn f() { return 1 < 2; }")
	be.True(t, strings.Contains(asm, "cset x0, lt"))

	asm = compileToAsm(t, "fn f() { return 1 <= 2; }")
	be.True(t, strings.Contains(asm, "cset x0, le"))
}

func TestCodegenDivisionUsesSdiv(t *testing.T) {
	asm := compileToAsm(t, "fn f() { return 10 / 2; }")
	be.True(t, strings.Contains(asm, "sdiv x0, x0, x1"))
}

func TestCodegenExprStmtDiscardsOnlyMovesStackPointer(t *testing.T) {
	asm := compileToAsm(t, "fn main() { (1 + 2) * 3; }")
	be.True(t, strings.Contains(asm, "add sp, sp, #16"))
	be.True(t, strings.Contains(asm, "mul x0, x0, x1"))
}

func TestCodegenIsDeterministicAcrossRuns(t *testing.T) {
	src := `
		fn fib(n) {
			if (n < 2) { return n; }
			return fib(n - 1) + fib(n - 2);
		}
		fn main() { return fib(10); }
	`
	first := compileToAsm(t, src)
	second := compileToAsm(t, src)
	be.Equal(t, first, second)
}

func TestCodegenWhileLoopStructure(t *testing.T) {
	asm := compileToAsm(t, "fn f() { i = 0; while (i < 10) { i = i + 1; } return i; }")
	be.True(t, strings.Contains(asm, "Lbegin_1:"))
	be.True(t, strings.Contains(asm, "Lend_1:"))
	be.True(t, strings.Contains(asm, "beq Lend_1"))
}

func TestCodegenAssignThroughDerefStoresIndirectly(t *testing.T) {
	asm := compileToAsm(t, "fn f() { x = 1; p = &x; *p = 2; return x; }")
	be.True(t, strings.Contains(asm, "str x1, [x0]"))
}

