package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirArtifactsRoundTrip(t *testing.T) {
	d := DirArtifacts{Dir: t.TempDir()}

	require.NoError(t, d.Save("nouns", []byte(`{"name":"Nouns"}`)))
	data, err := os.ReadFile(filepath.Join(d.Dir, "nouns.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Nouns"}`, string(data))

	require.NoError(t, d.Remove("nouns"))
	_, err = os.Stat(filepath.Join(d.Dir, "nouns.json"))
	assert.True(t, os.IsNotExist(err))

	// Removing twice is not an error.
	assert.NoError(t, d.Remove("nouns"))
}

func TestDirArtifactsDisabledWhenUnconfigured(t *testing.T) {
	d := DirArtifacts{}
	assert.NoError(t, d.Save("nouns", []byte("{}")))
	assert.NoError(t, d.Remove("nouns"))
}
