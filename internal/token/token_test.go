package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfRecognizesOperators(t *testing.T) {
	cases := map[string]Kind{
		"|":  Pipe,
		"<":  Less,
		">":  Great,
		">>": DGreat,
		"&":  Amp,
		"ls": Word,
		"":   Word,
	}
	for text, want := range cases {
		assert.Equal(t, want, KindOf(text), "KindOf(%q)", text)
	}
}

func TestKindStringRoundTrips(t *testing.T) {
	for _, k := range []Kind{Pipe, Less, Great, DGreat, Amp} {
		assert.Equal(t, k, KindOf(k.String()))
	}
}

func TestKindStringUnknownIsWord(t *testing.T) {
	assert.Equal(t, "WORD", Word.String())
}
