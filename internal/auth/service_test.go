package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	svc := NewService("tradecore", []byte("secret"), time.Hour)
	tok, err := svc.IssueToken("user-1")
	require.NoError(t, err)

	id, err := svc.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	_, err = svc.IssueToken("  ")
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	svc := NewService("tradecore", []byte("secret"), time.Hour)
	tok, err := svc.IssueToken("user-1")
	require.NoError(t, err)

	other := NewService("someone-else", []byte("secret"), time.Hour)
	_, err = other.ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "issuer")

	wrongKey := NewService("tradecore", []byte("other"), time.Hour)
	_, err = wrongKey.ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "key")

	_, err = svc.ParseToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	svc := NewService("tradecore", []byte("secret"), time.Minute)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := svc.IssueToken("user-1")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ParseToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestInternalTokenHash(t *testing.T) {
	hash, err := HashInternalToken("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckInternalToken(hash, "s3cret"))
	assert.False(t, CheckInternalToken(hash, "guess"))
	assert.False(t, CheckInternalToken("", "s3cret"))
	assert.False(t, CheckInternalToken(hash, ""))

	_, err = HashInternalToken("")
	assert.Error(t, err)
}
