package main

import (
	"testing"

	"github.com/nalgeon/be"
)

func lexAll(t *testing.T, src string) []Token {
	l := NewLexer(src)
	var toks []Token
	for {
		tok, err := l.Next()
		be.Err(t, err, nil)
		toks = append(toks, tok)
		if tok.Kind == TkEOF {
			return toks
		}
	}
}

func TestLexKeywordsAndIdents(t *testing.T) {
	toks := lexAll(t, "fn let return if else for while foobar")
	kinds := []TokenKind{TkFn, TkLet, TkReturn, TkIf, TkElse, TkFor, TkWhile, TkIdent, TkEOF}
	be.Equal(t, len(toks), len(kinds))
	for i, k := range kinds {
		be.Equal(t, toks[i].Kind, k)
	}
	be.Equal(t, toks[7].Str, "foobar")
}

func TestLexNumber(t *testing.T) {
	toks := lexAll(t, "12345")
	be.Equal(t, toks[0].Kind, TkNum)
	be.Equal(t, toks[0].Num, int64(12345))
}

func TestLexNumberOverflow(t *testing.T) {
	l := NewLexer("99999999999999999999999999999999")
	_, err := l.Next()
	be.True(t, err != nil)
	lerr, ok := err.(*LexError)
	be.True(t, ok)
	be.Equal(t, lerr.Kind, NumericOverflow)
}

func TestLexGreedyPunctuation(t *testing.T) {
	toks := lexAll(t, "== != <= >= < > = + - * / ( ) { } ; , :")
	kinds := []TokenKind{
		TkEq, TkNe, TkLe, TkGe, TkLt, TkGt, TkAssign,
		TkPlus, TkMinus, TkStar, TkSlash,
		TkLParen, TkRParen, TkLBrace, TkRBrace, TkSemi, TkComma, TkColon, TkEOF,
	}
	be.Equal(t, len(toks), len(kinds))
	for i, k := range kinds {
		be.Equal(t, toks[i].Kind, k)
	}
}

func TestLexStringEscapes(t *testing.T) {
	toks := lexAll(t, `"a\nb\tc\\d\"e"`)
	be.Equal(t, toks[0].Kind, TkStr)
	be.Equal(t, toks[0].Str, "a\nb\tc\\d\"e")
}

func TestLexLineAndBlockComments(t *testing.T) {
	toks := lexAll(t, "1 // comment\n2 /* block\ncomment */ 3")
	be.Equal(t, toks[0].Num, int64(1))
	be.Equal(t, toks[1].Num, int64(2))
	be.Equal(t, toks[2].Num, int64(3))
}

func TestLexUnterminatedString(t *testing.T) {
	l := NewLexer(`"abc`)
	_, err := l.Next()
	be.True(t, err != nil)
	lerr, ok := err.(*LexError)
	be.True(t, ok)
	be.Equal(t, lerr.Kind, UnterminatedString)
}

func TestLexUnterminatedComment(t *testing.T) {
	l := NewLexer("/* never closed")
	_, err := l.Next()
	be.True(t, err != nil)
	lerr, ok := err.(*LexError)
	be.True(t, ok)
	be.Equal(t, lerr.Kind, UnterminatedComment)
}

func TestLexUnexpectedChar(t *testing.T) {
	l := NewLexer("@")
	_, err := l.Next()
	be.True(t, err != nil)
	lerr, ok := err.(*LexError)
	be.True(t, ok)
	be.Equal(t, lerr.Kind, UnexpectedChar)
}

func TestLexEOFIsSticky(t *testing.T) {
	l := NewLexer("")
	tok1, err := l.Next()
	be.Err(t, err, nil)
	be.Equal(t, tok1.Kind, TkEOF)
	tok2, err := l.Next()
	be.Err(t, err, nil)
	be.Equal(t, tok2.Kind, TkEOF)
}
