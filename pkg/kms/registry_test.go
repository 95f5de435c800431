package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaneClaimRegistryExclusive(t *testing.T) {
	r := NewPlaneClaimRegistry()

	claim, err := r.Claim(10, 1)
	require.NoError(t, err)
	require.NotNil(t, claim)

	_, err = r.Claim(10, 2)
	assert.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsupportedPlaneConfiguration, kind)
}

func TestPlaneClaimRegistryReclaimSameCrtc(t *testing.T) {
	r := NewPlaneClaimRegistry()
	claim, err := r.Claim(10, 1)
	require.NoError(t, err)
	require.NotNil(t, claim)

	again, err := r.Claim(10, 1)
	assert.NoError(t, err)
	assert.NotNil(t, again)
}

func TestPlaneClaimDropReleasesPlane(t *testing.T) {
	r := NewPlaneClaimRegistry()
	claim, err := r.Claim(10, 1)
	require.NoError(t, err)

	claim.Drop()
	_, ok := r.OwnerOf(10)
	assert.False(t, ok)

	claim2, err := r.Claim(10, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), claim2.Plane())
}

func TestPlaneClaimDropIsIdempotent(t *testing.T) {
	r := NewPlaneClaimRegistry()
	claim, err := r.Claim(10, 1)
	require.NoError(t, err)
	claim.Drop()
	assert.NotPanics(t, func() { claim.Drop() })
}

func TestPlaneClaimRegistryRefcountsSameCrtcReclaim(t *testing.T) {
	r := NewPlaneClaimRegistry()

	first, err := r.Claim(10, 1)
	require.NoError(t, err)
	second, err := r.Claim(10, 1)
	require.NoError(t, err)

	// One of the two live tokens is dropped; the plane must remain owned
	// because the other token is still outstanding.
	first.Drop()
	owner, ok := r.OwnerOf(10)
	require.True(t, ok)
	assert.Equal(t, uint32(1), owner)

	_, err = r.Claim(10, 2)
	assert.Error(t, err, "plane must still be held while a second token is live")

	second.Drop()
	_, ok = r.OwnerOf(10)
	assert.False(t, ok)
}
