package lexer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myshell-go/myshell/internal/token"
)

func words(toks []token.Token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

func TestLexSimpleWords(t *testing.T) {
	toks, err := Lex("echo hello world")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello", "world"}, words(toks))
}

func TestLexEchoNFlag(t *testing.T) {
	toks, err := Lex("echo -n abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "-n", "abc"}, words(toks))
}

func TestLexQuotingPreservesInternalSpaces(t *testing.T) {
	toks, err := Lex(`echo "a  b"    '  c  '`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "a  b", "  c  "}, words(toks))
}

func TestLexVariableExpansion(t *testing.T) {
	os.Setenv("PATH", "/bin:/usr/bin")
	defer os.Unsetenv("PATH")
	toks, err := Lex("echo $PATH")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "/bin:/usr/bin"}, words(toks))
}

func TestLexUnquotedExpansionOfOperatorSpellingStaysWord(t *testing.T) {
	os.Setenv("MYSHELL_TEST_PIPE_VALUE", "|")
	defer os.Unsetenv("MYSHELL_TEST_PIPE_VALUE")

	toks, err := Lex("echo $MYSHELL_TEST_PIPE_VALUE x")
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, token.Word, toks[1].Kind)
	assert.Equal(t, []string{"echo", "|", "x"}, words(toks))
}

func TestLexUndefinedBraceVariableInDoubleQuotes(t *testing.T) {
	os.Unsetenv("MYSHELL_TEST_UNDEF")
	toks, err := Lex(`echo "${MYSHELL_TEST_UNDEF}x"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "x"}, words(toks))
}

func TestLexUnterminatedSingleQuote(t *testing.T) {
	_, err := Lex("echo 'unterminated")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated single quote")
}

func TestLexUnterminatedDoubleQuote(t *testing.T) {
	_, err := Lex(`echo "unterminated`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated double quote")
}

func TestLexUnterminatedEscapeInDoubleQuote(t *testing.T) {
	_, err := Lex(`echo "abc\`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated double quote")
}

func TestLexBareBackslashIsLiteral(t *testing.T) {
	toks, err := Lex(`echo a\b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", `a\b`}, words(toks))
}

func TestLexDoubleQuoteEscapeTable(t *testing.T) {
	toks, err := Lex(`echo "a\nb\tc\\d\"e\'f"`)
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, "a\nb\tc\\d\"e'f", toks[1].Text)
}

func TestLexOperatorsAreWordTokensUnlessQuoted(t *testing.T) {
	toks, err := Lex(`ls | grep foo > out.txt`)
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "|", "grep", "foo", ">", "out.txt"}, words(toks))
}

func TestLexOperatorsWithoutSurroundingSpaces(t *testing.T) {
	toks, err := Lex(`ls>out.txt`)
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", ">", "out.txt"}, words(toks))
}

func TestLexAppendOperatorWithoutSpaces(t *testing.T) {
	toks, err := Lex(`cat a.txt>>b.txt`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "a.txt", ">>", "b.txt"}, words(toks))
}

func TestLexQuotedOperatorIsLiteralWord(t *testing.T) {
	toks, err := Lex(`echo "|" '>'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "|", ">"}, words(toks))
}

func TestLexIdempotent(t *testing.T) {
	const line = `echo "a  b"    '  c  ' | grep -n foo`
	first, err := Lex(line)
	require.NoError(t, err)
	second, err := Lex(line)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLexTokenCountLimit(t *testing.T) {
	line := ""
	for i := 0; i < MaxTokens+10; i++ {
		line += "a "
	}
	toks, err := Lex(line)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(toks), MaxTokens)
}

func TestLexTokenByteLimit(t *testing.T) {
	big := make([]byte, MaxTokenBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	toks, err := Lex(string(big))
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.LessOrEqual(t, len(toks[0].Text), MaxTokenBytes)
}
