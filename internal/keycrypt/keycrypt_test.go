package keycrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCrypter(t *testing.T) *Crypter {
	t.Helper()
	c, err := New("enc-secret", "hash-secret")
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCrypter(t)

	enc, err := c.Encrypt("ABCD-EFGH-IJKL")
	require.NoError(t, err)
	assert.NotContains(t, enc, "ABCD")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH-IJKL", plain)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newTestCrypter(t)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptMalformed(t *testing.T) {
	c := newTestCrypter(t)

	for _, in := range []string{"", "not base64!", "c2hvcnQ="} {
		_, err := c.Decrypt(in)
		assert.ErrorIs(t, err, ErrCiphertext, in)
	}
}

func TestDecryptWithOtherSecretFails(t *testing.T) {
	c := newTestCrypter(t)
	enc, err := c.Encrypt("KEY")
	require.NoError(t, err)

	other, err := New("another", "hash-secret")
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestHashIsDeterministicAndKeyed(t *testing.T) {
	c := newTestCrypter(t)
	assert.Equal(t, c.Hash("KEY"), c.Hash("KEY"))
	assert.Len(t, c.Hash("KEY"), 64)
	assert.NotEqual(t, c.Hash("KEY"), c.Hash("KEY2"))

	other, err := New("enc-secret", "other-hash")
	require.NoError(t, err)
	assert.NotEqual(t, c.Hash("KEY"), other.Hash("KEY"))
}

func TestNewRejectsEmptySecrets(t *testing.T) {
	_, err := New("", "x")
	assert.ErrorIs(t, err, ErrEmptySecret)
	_, err = New("x", "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestRandomHex(t *testing.T) {
	s, err := RandomHex(20)
	require.NoError(t, err)
	assert.Len(t, s, 40)
}
