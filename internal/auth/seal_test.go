package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretSealer_RejectsShortPassphrase(t *testing.T) {
	s, err := NewSecretSealer("too-short")
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestSecretSealer_SealOpenRoundTrip(t *testing.T) {
	s, err := NewSecretSealer("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal("login-key-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "login-key-123")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "login-key-123", opened)
}

func TestSecretSealer_SealUsesFreshNonce(t *testing.T) {
	s, err := NewSecretSealer("correct horse battery staple")
	require.NoError(t, err)

	a, err := s.Seal("same")
	require.NoError(t, err)
	b, err := s.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSecretSealer_EmptyStaysEmpty(t *testing.T) {
	s, err := NewSecretSealer("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}

func TestSecretSealer_OpenPassesThroughPlainValues(t *testing.T) {
	s, err := NewSecretSealer("correct horse battery staple")
	require.NoError(t, err)

	opened, err := s.Open("legacy-plain-key")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain-key", opened)
}

func TestSecretSealer_OpenWithWrongPassphraseFails(t *testing.T) {
	a, err := NewSecretSealer("correct horse battery staple")
	require.NoError(t, err)
	b, err := NewSecretSealer("a different long passphrase")
	require.NoError(t, err)

	sealed, err := a.Seal("login-key")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)

	_, err = a.Open(sealedPrefix + "AAAA")
	assert.Error(t, err)
}
