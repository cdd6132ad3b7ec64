package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveKey(secret, salt)
	key2 := DeriveKey(secret, salt)

	require.Len(t, key1, KeySize)
	require.Equal(t, key1, key2)
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	secret := []byte("secret-password")

	key1 := DeriveKey(secret, []byte("salt-1"))
	key2 := DeriveKey(secret, []byte("salt-2"))

	require.False(t, bytes.Equal(key1, key2))
}

func TestNewSalt(t *testing.T) {
	s1, err := NewSalt()
	require.NoError(t, err)
	s2, err := NewSalt()
	require.NoError(t, err)

	require.Len(t, s1, SaltSize)
	require.NotEqual(t, s1, s2)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := DeriveKey([]byte("pw"), []byte("salt"))
	plaintext := []byte("group 42")

	sealed, err := Seal(plaintext, key)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "group 42")

	got, err := Open(sealed, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSeal_FreshNonce(t *testing.T) {
	key := DeriveKey([]byte("pw"), []byte("salt"))

	a, err := Seal([]byte("same"), key)
	require.NoError(t, err)
	b, err := Seal([]byte("same"), key)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := Seal([]byte("x"), DeriveKey([]byte("a"), []byte("salt")))
	require.NoError(t, err)

	_, err = Open(sealed, DeriveKey([]byte("b"), []byte("salt")))
	require.Error(t, err)
}

func TestOpen_Short(t *testing.T) {
	_, err := Open([]byte{1, 2, 3}, DeriveKey([]byte("a"), []byte("salt")))
	require.ErrorIs(t, err, ErrShortCiphertext)
}

func TestWipe(t *testing.T) {
	b := []byte("secret")
	Wipe(b)
	require.Equal(t, make([]byte, 6), b)

	Wipe(nil)
}
