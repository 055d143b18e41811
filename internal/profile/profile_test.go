package profile_test

import (
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/opt-outta/engine/internal/profile"
	"github.com/opt-outta/engine/internal/secrets"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *profile.Store {
	t.Helper()
	keyring.MockInit()
	cache := secrets.New()
	require.NoError(t, cache.Load())
	return profile.NewStore(cache, t.TempDir())
}

func TestGetWithNoProfileReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := &profile.Profile{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
		City:      "Springfield",
		State:     "IL",
	}
	require.NoError(t, s.Save(in))

	out, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDeleteRemovesProfile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(&profile.Profile{FirstName: "Jane"}))
	require.NoError(t, s.Delete())

	p, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestDeleteWithNoProfileIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Delete())
}

func TestResolveBareKey(t *testing.T) {
	p := &profile.Profile{FirstName: "Jane", Email: "jane@example.com"}

	v, ok := profile.Resolve(p, "email")
	require.True(t, ok)
	require.Equal(t, "jane@example.com", v)

	_, ok = profile.Resolve(p, "unknown_key")
	require.False(t, ok)
}

func TestResolveCombine(t *testing.T) {
	p := &profile.Profile{FirstName: "Ada", LastName: "Lovelace"}

	v, ok := profile.Resolve(p, "combine:firstName+lastName")
	require.True(t, ok)
	require.Equal(t, "Ada Lovelace", v)
}

func TestResolveCombineDropsUnresolvedComponents(t *testing.T) {
	p := &profile.Profile{FirstName: "Jane"}

	v, ok := profile.Resolve(p, "combine:firstName+middleName+lastName")
	require.True(t, ok)
	require.Equal(t, "Jane", v)
}

func TestResolveAllowlistedBareKeys(t *testing.T) {
	p := &profile.Profile{
		FirstName:   "Jane",
		LastName:    "Doe",
		Phone:       "555-0100",
		Address:     "1 Main St",
		Zip:         "62704",
		DateOfBirth: "1990-01-01",
	}

	for key, want := range map[string]string{
		"firstName": "Jane",
		"lastName":  "Doe",
		"phone":     "555-0100",
		"address":   "1 Main St",
		"zip":       "62704",
		"dob":       "1990-01-01",
	} {
		v, ok := profile.Resolve(p, key)
		require.True(t, ok, key)
		require.Equal(t, want, v, key)
	}
}

func TestResolveFullNameDerivesFromFirstAndLast(t *testing.T) {
	p := &profile.Profile{FirstName: "Jane", LastName: "Doe"}

	v, ok := profile.Resolve(p, "fullName")
	require.True(t, ok)
	require.Equal(t, "Jane Doe", v)
}

func TestResolveFullNameDropsMissingComponent(t *testing.T) {
	p := &profile.Profile{FirstName: "Jane"}

	v, ok := profile.Resolve(p, "fullName")
	require.True(t, ok)
	require.Equal(t, "Jane", v)
}

func TestResolveNilProfile(t *testing.T) {
	_, ok := profile.Resolve(nil, "email")
	require.False(t, ok)
}
