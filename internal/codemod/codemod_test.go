package codemod

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCitation(t *testing.T) {
	id, version, ok := ParseCitation("codemod:rename_identifier_in_file")
	require.True(t, ok)
	require.Equal(t, "rename_identifier_in_file", id)
	require.Equal(t, 0, version)

	id, version, ok = ParseCitation("codemod:wrap_in_try_catch@v2")
	require.True(t, ok)
	require.Equal(t, "wrap_in_try_catch", id)
	require.Equal(t, 2, version)

	_, _, ok = ParseCitation("not-a-codemod-citation")
	require.False(t, ok)
}

func TestBuiltinRegistryRenameIdentifier(t *testing.T) {
	r := NewBuiltinRegistry()
	require.True(t, r.Has("rename_identifier_in_file", 0))

	out, summary, err := r.Run("rename_identifier_in_file", 0, "const TargetSymbol = 1;\nuse(TargetSymbol);", map[string]any{
		"from": "TargetSymbol",
		"to":   "RenamedSymbol",
	})
	require.NoError(t, err)
	require.True(t, summary.Changed)
	require.Equal(t, 2, summary.Replacements)
	require.Equal(t, "const RenamedSymbol = 1;\nuse(RenamedSymbol);", out)
}

func TestBuiltinRegistryVersionPinning(t *testing.T) {
	r := NewBuiltinRegistry()
	require.True(t, r.Has("wrap_in_try_catch", 1))
	require.True(t, r.Has("wrap_in_try_catch", 2))

	_, v1, ok := r.Resolve("wrap_in_try_catch", 1)
	require.True(t, ok)
	require.Equal(t, 1, v1)

	_, latest, ok := r.Resolve("wrap_in_try_catch", 0)
	require.True(t, ok)
	require.Equal(t, 2, latest)
}

func TestUnregisteredCodemod(t *testing.T) {
	r := NewBuiltinRegistry()
	require.False(t, r.Has("invented_custom_transform", 0))
	_, _, ok := r.Resolve("invented_custom_transform", 0)
	require.False(t, ok)
}

func TestCatalogListsEveryVersionMarkingLatest(t *testing.T) {
	r := NewBuiltinRegistry()
	catalog := r.Catalog()

	var sawV1, sawV2 bool
	for _, e := range catalog {
		if e.ID != "wrap_in_try_catch" {
			continue
		}
		switch e.Version {
		case 1:
			sawV1 = true
			require.False(t, e.Latest)
			require.Equal(t, "codemod:wrap_in_try_catch@v1", e.Citation)
		case 2:
			sawV2 = true
			require.True(t, e.Latest)
			require.Equal(t, "codemod:wrap_in_try_catch@v2", e.Citation)
		}
	}
	require.True(t, sawV1)
	require.True(t, sawV2)
}
