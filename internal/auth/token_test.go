package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(1001, "alice", "example.com", []byte("secret"), time.Hour)
	require.NoError(t, err)

	claims, err := Parse(tok, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1001), claims.ContactID)
	assert.Equal(t, "alice", claims.Name)
	assert.Equal(t, "example.com", claims.Domain)

	now := time.Now()
	self := claims.Self(now)
	assert.Equal(t, int64(1001), self.ID)
	assert.Equal(t, "alice", self.Name)
	assert.True(t, self.IsValid(now))
}

func TestParse_Expired(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(1, "a", "d", []byte("secret"), time.Hour)
	require.NoError(t, err)

	_, err = Parse(tok, time.Now().Add(2*time.Hour))
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestParse_Garbage(t *testing.T) {
	t.Parallel()

	_, err := Parse("not-a-token", time.Now())
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_MissingContact(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(0, "a", "d", []byte("secret"), time.Hour)
	require.NoError(t, err)

	_, err = Parse(tok, time.Now())
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(7, "bob", "d", []byte("right"), time.Hour)
	require.NoError(t, err)

	claims, err := Verify(tok, []byte("right"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ContactID)

	_, err = Verify(tok, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := GenerateToken(7, "bob", "d", []byte("right"), -time.Second)
	require.NoError(t, err)
	_, err = Verify(expired, []byte("right"))
	require.ErrorIs(t, err, ErrTokenExpired)
}
