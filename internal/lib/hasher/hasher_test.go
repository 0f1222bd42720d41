package hasher_test

import (
	"testing"

	"expense_auth/internal/lib/hasher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerify_RoundTrip(t *testing.T) {
	digest, err := hasher.Hash("Secret123!", hasher.DefaultCost)
	require.NoError(t, err)

	assert.NotEqual(t, "Secret123!", digest)
	assert.True(t, hasher.Verify("Secret123!", digest))
	assert.False(t, hasher.Verify("wrong-password", digest))
}

func TestHash_SaltedPerCall(t *testing.T) {
	first, err := hasher.Hash("Secret123!", hasher.DefaultCost)
	require.NoError(t, err)

	second, err := hasher.Hash("Secret123!", hasher.DefaultCost)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, hasher.Verify("Secret123!", first))
	assert.True(t, hasher.Verify("Secret123!", second))
}

func TestVerify_MalformedDigest(t *testing.T) {
	tests := []struct {
		name   string
		digest string
	}{
		{name: "empty", digest: ""},
		{name: "not bcrypt", digest: "plainly-not-a-digest"},
		{name: "truncated", digest: "$2a$10$abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, hasher.Verify("Secret123!", tt.digest))
		})
	}
}
