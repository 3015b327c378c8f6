package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleClaims returns the identity of a publish job cell.
func sampleClaims() Claims {
	return Claims{
		RunID:       "3fa8c21b90d4",
		Workflow:    "ci",
		Job:         "publish",
		Environment: "release",
		EventName:   "push",
		Ref:         "refs/tags/v1.2.3",
	}
}

// TestMintAndVerify verifies a minted token round-trips through
// verification with its claims intact.
func TestMintAndVerify(t *testing.T) {
	key, err := NewSigningKey()
	require.NoError(t, err)
	now := time.Now()

	token, err := MintIDToken(key, sampleClaims(), now)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3, "compact serialization has three segments")

	claims, err := VerifyIDToken(key, token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "gantry", claims.Issuer)
	assert.Equal(t, "publish", claims.Job)
	assert.Equal(t, "release", claims.Environment)
	assert.Equal(t, "refs/tags/v1.2.3", claims.Ref)
	assert.Equal(t, now.Unix(), claims.IssuedAt)
	assert.Equal(t, now.Add(defaultTokenTTL).Unix(), claims.ExpiresAt)
}

// TestVerify_WrongKey verifies a token signed under one run's key is
// rejected under another's.
func TestVerify_WrongKey(t *testing.T) {
	key1, err := NewSigningKey()
	require.NoError(t, err)
	key2, err := NewSigningKey()
	require.NoError(t, err)

	token, err := MintIDToken(key1, sampleClaims(), time.Now())
	require.NoError(t, err)

	_, err = VerifyIDToken(key2, token, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

// TestVerify_TamperedClaims verifies changing the payload invalidates
// the signature.
func TestVerify_TamperedClaims(t *testing.T) {
	key, err := NewSigningKey()
	require.NoError(t, err)

	token, err := MintIDToken(key, sampleClaims(), time.Now())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	// Swap the claims segment for one from a different token.
	other, err := MintIDToken(key, Claims{RunID: "other", Job: "test", EventName: "push", Ref: "refs/heads/main"}, time.Now())
	require.NoError(t, err)
	otherParts := strings.Split(other, ".")
	forged := parts[0] + "." + otherParts[1] + "." + parts[2]

	_, err = VerifyIDToken(key, forged, time.Now())
	assert.Error(t, err)
}

// TestVerify_Expiry verifies tokens stop verifying after their TTL.
func TestVerify_Expiry(t *testing.T) {
	key, err := NewSigningKey()
	require.NoError(t, err)
	minted := time.Now()

	token, err := MintIDToken(key, sampleClaims(), minted)
	require.NoError(t, err)

	_, err = VerifyIDToken(key, token, minted.Add(defaultTokenTTL-time.Second))
	assert.NoError(t, err, "token must verify just before expiry")

	_, err = VerifyIDToken(key, token, minted.Add(defaultTokenTTL+time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

// TestVerify_Malformed covers tokens that are not even tokens.
func TestVerify_Malformed(t *testing.T) {
	key, err := NewSigningKey()
	require.NoError(t, err)

	for _, bad := range []string{"", "one", "one.two", "a.b.c.d", "!!!.???.###"} {
		_, err := VerifyIDToken(key, bad, time.Now())
		assert.Error(t, err, "token %q should not verify", bad)
	}
}

// TestNewSigningKey verifies keys are fresh per run.
func TestNewSigningKey(t *testing.T) {
	k1, err := NewSigningKey()
	require.NoError(t, err)
	k2, err := NewSigningKey()
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.NotEqual(t, k1, k2)
}
