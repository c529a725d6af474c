package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remlabs/rem-engine/pkg/apperrors"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase passthrough", "search", "search"},
		{"case folding", "Query Agent", "query-agent"},
		{"whitespace run collapses", "query   agent", "query-agent"},
		{"tabs and newlines", "query\t\nagent", "query-agent"},
		{"leading and trailing space", "  query agent  ", "query-agent"},
		{"already normalized", "query-agent", "query-agent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeKey(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeKey_Idempotent(t *testing.T) {
	inputs := []string{"Query Agent", "a  b\tc", "Already-Normal", "x"}
	for _, input := range inputs {
		once, err := NormalizeKey(input)
		require.NoError(t, err)
		twice, err := NormalizeKey(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", input)
	}
}

func TestNormalizeKey_InvalidInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := NormalizeKey(input)
		assert.ErrorIs(t, err, apperrors.ErrInvalidKey, "input %q", input)
	}
}
