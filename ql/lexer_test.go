package ql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tokenKinds(t *testing.T, toks []Token) []Kind {
	t.Helper()
	out := make([]Kind, len(toks))
	for i, tok := range toks {
		out[i] = tok.Kind
	}
	return out
}

// `.foo` is rewritten to a single KindChain token, distinct from a
// decimal point.
func TestLexerRewritesDotChain(t *testing.T) {
	toks, err := NewLexer(".ever(== 5)").Tokens()
	require.NoError(t, err)
	require.Equal(t, []Kind{KindChain, KindLParen, KindOp, KindInt, KindRParen, KindEOF}, tokenKinds(t, toks))
	require.Equal(t, "ever", toks[0].Text)
	require.Equal(t, "==", toks[2].Text)
	require.Equal(t, int64(5), toks[3].IntVal)
}

// Multi-char operators are matched greedily: `<=` must not lex as `<`
// followed by `=`.
func TestLexerMatchesMultiCharOpsGreedily(t *testing.T) {
	toks, err := NewLexer("a<=b").Tokens()
	require.NoError(t, err)
	require.Equal(t, []Kind{KindIdent, KindOp, KindIdent, KindEOF}, tokenKinds(t, toks))
	require.Equal(t, "<=", toks[1].Text)
}

// A time-literal suffix folds directly into a KindInt token carrying
// the millisecond value.
func TestLexerFoldsTimeLiteralSuffix(t *testing.T) {
	toks, err := NewLexer("30_minutes").Tokens()
	require.NoError(t, err)
	require.Equal(t, KindInt, toks[0].Kind)
	require.Equal(t, int64(30*60*1000), toks[0].IntVal)
}

func TestLexerRejectsUnknownTimeSuffix(t *testing.T) {
	_, err := NewLexer("30_fortnights").Tokens()
	require.Error(t, err)
	require.True(t, ErrSyntax.Is(err))
}

// `#` begins a line comment that runs to end of line; the newline
// itself still lexes as a token.
func TestLexerSkipsLineComments(t *testing.T) {
	toks, err := NewLexer("a # a trailing comment\nb").Tokens()
	require.NoError(t, err)
	require.Equal(t, []Kind{KindIdent, KindNewline, KindIdent, KindEOF}, tokenKinds(t, toks))
	require.Equal(t, "a", toks[0].Text)
	require.Equal(t, "b", toks[2].Text)
}

// String escapes decode to their literal byte, including the `\/`
// escape the lexer explicitly recognizes.
func TestLexerDecodesStringEscapes(t *testing.T) {
	toks, err := NewLexer(`"a\nb\/c"`).Tokens()
	require.NoError(t, err)
	require.Equal(t, KindString, toks[0].Kind)
	require.Equal(t, "a\nb/c", toks[0].Text)
}

func TestLexerUnterminatedStringErrors(t *testing.T) {
	_, err := NewLexer(`"unterminated`).Tokens()
	require.Error(t, err)
	require.True(t, ErrSyntax.Is(err))
}

// Reserved words lex as KindKeyword, not KindIdent, so the parser can
// dispatch on them directly.
func TestLexerRecognizesKeywords(t *testing.T) {
	toks, err := NewLexer("each_row where end").Tokens()
	require.NoError(t, err)
	require.Equal(t, []Kind{KindKeyword, KindKeyword, KindKeyword, KindEOF}, tokenKinds(t, toks))
}
