package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_OpenCatalog(t *testing.T) {
	r := NewRegistry("gemini-1.5-flash-latest")
	require.NoError(t, r.RegisterModels(nil, map[string]string{"fast": "gemini-2.0-flash"}))

	id, err := r.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-flash-latest", id)

	id, err = r.Resolve("fast")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.0-flash", id)

	id, err = r.Resolve("anything-else")
	require.NoError(t, err)
	require.Equal(t, "anything-else", id)
}

func TestRegistry_AllowList(t *testing.T) {
	r := NewRegistry("flash")
	require.NoError(t, r.RegisterModels(
		[]string{"gemini-2.0-flash", "gemini-1.5-pro"},
		map[string]string{"flash": "gemini-2.0-flash"},
	))

	id, err := r.Resolve(" ")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.0-flash", id)

	id, err = r.Resolve("gemini-1.5-pro")
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-pro", id)

	_, err = r.Resolve("gpt-4o")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry("")
	require.ErrorIs(t, r.RegisterModels([]string{"a", "a"}, nil), ErrDuplicateModel)

	r = NewRegistry("")
	require.Error(t, r.RegisterModels([]string{"a"}, map[string]string{"a": "a"}))

	r = NewRegistry("")
	require.Error(t, r.RegisterModels([]string{"a"}, map[string]string{"b": "missing"}))

	r = NewRegistry("c")
	require.Error(t, r.RegisterModels([]string{"a"}, nil))

	r = NewRegistry("")
	_, err := r.Resolve("")
	require.ErrorIs(t, err, ErrUnknownModel)
}
