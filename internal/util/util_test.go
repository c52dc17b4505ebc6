package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	tok, err := RandomToken(32)
	require.NoError(t, err)
	assert.Len(t, tok, 64) // hex doubles length

	tok2, err := RandomToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)
}

func TestHashAndVerifyPassword(t *testing.T) {
	params := DefaultArgon2idParams()

	hash, salt, err := HashPassword("correct horse", params)
	require.NoError(t, err)
	require.Len(t, hash, 32)
	require.Len(t, salt, 16)

	assert.True(t, VerifyPassword("correct horse", salt, hash, params))
	assert.False(t, VerifyPassword("wrong horse", salt, hash, params))
	assert.False(t, VerifyPassword("correct horse", nil, hash, params))
	assert.False(t, VerifyPassword("correct horse", salt, nil, params))
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alice", NormalizeUsername("  Alice "))
	assert.Equal(t, NormalizeUsername("Éloïse"), NormalizeUsername("Éloïse"))
	assert.Equal(t, "bob", NormalizeUsername("BOB"))
}
