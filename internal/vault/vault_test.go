package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestVault_RoundTrip(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	ct, err := v.Encrypt("ya29.refresh-token")
	require.NoError(t, err)
	assert.NotContains(t, ct, "refresh-token")

	pt, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "ya29.refresh-token", pt)
}

func TestVault_NonceIsRandom(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)
	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestVault_Base64Key(t *testing.T) {
	v, err := New(base64.StdEncoding.EncodeToString([]byte(testKey)))
	require.NoError(t, err)
	other, _ := New(testKey)

	ct, err := other.Encrypt("x")
	require.NoError(t, err)
	pt, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "x", pt)
}

func TestVault_RejectsBadInput(t *testing.T) {
	_, err := New("short")
	assert.Error(t, err)

	v, _ := New(testKey)
	_, err = v.Decrypt("not base64 !!")
	assert.ErrorIs(t, err, ErrMalformed)

	ct, _ := v.Encrypt("secret")
	tampered := strings.ToUpper(ct[:10]) + ct[10:]
	if tampered != ct {
		_, err = v.Decrypt(tampered)
		assert.Error(t, err)
	}

	otherKey, _ := New(strings.Repeat("k", 32))
	_, err = otherKey.Decrypt(ct)
	assert.Error(t, err)
}
