package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, Verify(hash, "s3cret"))
	assert.NoError(t, Verify(hash, " s3cret\n"))
	assert.ErrorIs(t, Verify(hash, "wrong"), ErrInvalidKey)
	assert.ErrorIs(t, Verify(hash, ""), ErrInvalidKey)
}

func TestEmptyHashDisablesCheck(t *testing.T) {
	assert.NoError(t, Verify("", "anything"))
}

func TestHashKeyRejectsEmpty(t *testing.T) {
	_, err := HashKey("   ")
	assert.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)

	hash, err := HashKey(a)
	require.NoError(t, err)
	assert.NoError(t, Verify(hash, a))
}
