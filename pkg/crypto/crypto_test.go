package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	t.Run("raw 32-byte key", func(t *testing.T) {
		c, err := NewCodec(strings.Repeat("k", 32))
		require.NoError(t, err)
		assert.NotNil(t, c)
	})

	t.Run("base64 key", func(t *testing.T) {
		encoded, err := GenerateKey()
		require.NoError(t, err)
		c, err := NewCodec(encoded)
		require.NoError(t, err)
		assert.NotNil(t, c)
	})

	t.Run("short key rejected", func(t *testing.T) {
		_, err := NewCodec("too-short")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("base64 of wrong length rejected", func(t *testing.T) {
		_, err := NewCodec(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCodec(strings.Repeat("s", 32))
	require.NoError(t, err)

	plaintext := "sk-very-secret-platform-key"
	sealed, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncryptProducesUniqueCiphertext(t *testing.T) {
	c, err := NewCodec(strings.Repeat("s", 32))
	require.NoError(t, err)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)

	// Random nonces mean two seals of the same plaintext never collide.
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, err := NewCodec(strings.Repeat("s", 32))
	require.NoError(t, err)

	t.Run("not base64", func(t *testing.T) {
		_, err := c.Decrypt("%%%not-base64%%%")
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := c.Decrypt(base64.StdEncoding.EncodeToString([]byte("abc")))
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, err := c.Encrypt("secret")
		require.NoError(t, err)

		other, err := NewCodec(strings.Repeat("x", 32))
		require.NoError(t, err)
		_, err = other.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}
