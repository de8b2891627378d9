package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerTokenHappyPath(t *testing.T) {
	token, err := extractBearerToken("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestExtractBearerTokenCaseInsensitiveScheme(t *testing.T) {
	token, err := extractBearerToken("bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestExtractBearerTokenRejectsMissingHeader(t *testing.T) {
	_, err := extractBearerToken("")
	assert.Error(t, err)
}

func TestExtractBearerTokenRejectsWrongScheme(t *testing.T) {
	_, err := extractBearerToken("Basic abc123")
	assert.Error(t, err)
}

func TestSignRequestIsDeterministic(t *testing.T) {
	sig1 := SignRequest("secret", "1000", "post", "/api/v1/judgments", []byte(`{"a":1}`))
	sig2 := SignRequest("secret", "1000", "POST", "/api/v1/judgments", []byte(`{"a":1}`))
	assert.Equal(t, sig1, sig2, "method casing must not affect the canonical string")
}

func TestSignRequestChangesWithBody(t *testing.T) {
	sig1 := SignRequest("secret", "1000", "POST", "/x", []byte(`{"a":1}`))
	sig2 := SignRequest("secret", "1000", "POST", "/x", []byte(`{"a":2}`))
	assert.NotEqual(t, sig1, sig2)
}

func TestSignRequestChangesWithSecret(t *testing.T) {
	sig1 := SignRequest("secret-a", "1000", "POST", "/x", []byte(`body`))
	sig2 := SignRequest("secret-b", "1000", "POST", "/x", []byte(`body`))
	assert.NotEqual(t, sig1, sig2)
}
