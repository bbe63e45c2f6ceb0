package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	tok, err := Generate("secret123", "client-a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := Verify("secret123", tok)
	require.NoError(t, err)
	require.Equal(t, "client-a", claims["sub"])
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, err := Generate("secret123", "client-a", time.Minute)
	require.NoError(t, err)

	_, err = Verify("other-secret", tok)
	require.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	tok, err := Generate("secret123", "client-a", -time.Minute)
	require.NoError(t, err)

	_, err = Verify("secret123", tok)
	require.Error(t, err)
}
