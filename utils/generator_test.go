package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNumericCode_Length(t *testing.T) {
	for _, n := range []int{1, 6, 10} {
		code, err := GenerateNumericCode(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "non-digit %q in %q", r, code)
		}
	}
}

func TestGenerateNumericCode_RejectsNonPositive(t *testing.T) {
	_, err := GenerateNumericCode(0)
	assert.Error(t, err)
}

func TestGenerateNumericCode_Varies(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(12)
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}
