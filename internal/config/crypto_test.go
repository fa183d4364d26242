package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecretKey(t *testing.T) *SecretKey {
	t.Helper()
	t.Setenv("LIBRARIAN_SECRET_KEY", "unit-test-master-key")
	sk, err := NewSecretKey()
	require.NoError(t, err)
	return sk
}

func TestSecretKeyRoundTrip(t *testing.T) {
	sk := testSecretKey(t)

	for _, plaintext := range []string{
		"sk-abc123def456xyz",
		"sk-proj-very-long-api-key-used-by-some-providers-1234567890",
		"sk-+/=!@#$%^&*()",
	} {
		encrypted, err := sk.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encrypted, "enc:"), "missing storage prefix: %s", encrypted)
		assert.NotContains(t, encrypted, plaintext)

		decrypted, err := sk.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestSecretKeyEmptyPlaintext(t *testing.T) {
	sk := testSecretKey(t)

	encrypted, err := sk.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, encrypted)
}

func TestSecretKeyDecryptPassesThroughUnprefixed(t *testing.T) {
	sk := testSecretKey(t)

	out, err := sk.Decrypt("plain-text-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-text-value", out)
}

func TestSecretKeyDecryptRejectsTamperedCiphertext(t *testing.T) {
	sk := testSecretKey(t)

	encrypted, err := sk.Encrypt("sk-original")
	require.NoError(t, err)

	tampered := []byte(encrypted)
	i := len(tampered) - 3
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}
	_, err = sk.Decrypt(string(tampered))
	assert.Error(t, err)
}

func TestSecretKeyDiffersPerMasterKey(t *testing.T) {
	t.Setenv("LIBRARIAN_SECRET_KEY", "first-master-key")
	first, err := NewSecretKey()
	require.NoError(t, err)
	encrypted, err := first.Encrypt("sk-secret")
	require.NoError(t, err)

	t.Setenv("LIBRARIAN_SECRET_KEY", "second-master-key")
	second, err := NewSecretKey()
	require.NoError(t, err)

	_, err = second.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	assert.Empty(t, MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("ab"))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****3def", MaskSecret("sk-abc123def"))
	assert.Equal(t, "****2345", MaskSecret("sk-proj-very-long-key-12345"))
}
