package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKeyIs64LowercaseHex(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), key)
}

func TestGenerateClaimTokenIs32LowercaseHex(t *testing.T) {
	token, err := GenerateClaimToken()
	require.NoError(t, err)
	assert.Len(t, token, 32)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), token)
}

func TestGenerateVerificationCodeIsSixDigitsZeroPadded(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateVerificationCode()
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), code)
	}
}

func TestSlugifyLowercasesAndCollapsesNonAlphanumerics(t *testing.T) {
	assert.Equal(t, "trend_bot_9000", Slugify("Trend Bot---9000!!"))
	assert.Equal(t, "abc", Slugify("  ABC  "))
	assert.Equal(t, "a_b_c", Slugify("a.b.c"))
}

func TestSlugifyEmptyInput(t *testing.T) {
	assert.Equal(t, "", Slugify("___"))
}
