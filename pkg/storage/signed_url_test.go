package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, expiresAt, err := signer.Generate("job-1", "reports/job-1.pdf")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	resourceID, relPath, _, err := signer.Parse(token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", resourceID)
	assert.Equal(t, "reports/job-1.pdf", relPath)
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, _, err := signer.Generate("job-1", "reports/job-1.pdf")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token+"x", false)
	assert.Error(t, err)

	other := NewSignedURLSigner("another-secret", time.Hour)
	_, _, _, err = other.Parse(token, false)
	assert.Error(t, err)
}

func TestSignedURLExpiry(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	signer.ttl = -time.Minute

	token, _, err := signer.Generate("job-1", "reports/job-1.csv")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token, false)
	assert.Error(t, err)

	_, _, _, err = signer.Parse(token, true)
	assert.NoError(t, err)
}

func TestSignedURLRequiresInputs(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	_, _, err := signer.Generate("", "reports/x.pdf")
	assert.Error(t, err)

	_, _, err = signer.Generate("job-1", "")
	assert.Error(t, err)
}
