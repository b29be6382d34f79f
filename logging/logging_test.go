package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriterRotatesAndKeepsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")

	w, err := Open(path, 16, 2)
	require.NoError(t, err)
	defer w.Close()

	for _, line := range []string{"first line 12345\n", "second line 1234\n", "third line 12345\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	b1, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b1), "third"))

	b2, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b2), "second"))

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAfterClose(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "ingest.log"), 0, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
