package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner("secret", time.Hour)

	token, expiresAt, err := signer.Sign("job-1", "reports/lesson_roster-job-1.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	grant, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "job-1", grant.JobID)
	assert.Equal(t, "reports/lesson_roster-job-1.csv", grant.File)
	assert.WithinDuration(t, expiresAt, grant.ExpiresAt, time.Second)
}

func TestTokenSignerRejectsExpired(t *testing.T) {
	signer := NewTokenSigner("secret", 10*time.Millisecond)

	token, _, err := signer.Sign("job-1", "reports/file.csv")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = signer.Verify(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestTokenSignerRejectsTampering(t *testing.T) {
	signer := NewTokenSigner("secret", time.Hour)
	token, _, err := signer.Sign("job-1", "reports/file.csv")
	require.NoError(t, err)

	payload, sig, ok := strings.Cut(token, ".")
	require.True(t, ok)
	other, _, err := signer.Sign("job-2", "reports/other.csv")
	require.NoError(t, err)
	otherPayload, _, _ := strings.Cut(other, ".")

	// A payload carried over to another token's signature must not verify.
	_, err = signer.Verify(otherPayload + "." + sig)
	require.Error(t, err)

	// Neither does a token signed with a different secret.
	foreign := NewTokenSigner("other-secret", time.Hour)
	foreignToken, _, err := foreign.Sign("job-1", "reports/file.csv")
	require.NoError(t, err)
	_, err = signer.Verify(foreignToken)
	require.Error(t, err)

	// The untouched token still verifies.
	_, err = signer.Verify(payload + "." + sig)
	require.NoError(t, err)
}

func TestTokenSignerRequiresInputs(t *testing.T) {
	signer := NewTokenSigner("secret", time.Hour)
	_, _, err := signer.Sign("", "reports/file.csv")
	require.Error(t, err)
	_, _, err = signer.Sign("job-1", "")
	require.Error(t, err)
}
