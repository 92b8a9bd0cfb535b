package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recording = `# session abc
{"ts": 1.0, "point": null, "contributors": 1, "device": "10.0.0.1"}
{"ts": 1.1, "point": [0.1, 0.2, 0.3], "contributors": 2, "device": "10.0.0.2"}
{"ts": 1.2, "point": [0.2, 0.1, 0.35], "contributors": 2, "device": "10.0.0.1"}

{"ts": 1.3, "point": [0.3, 0.0, 0.4], "contributors": 2, "device": "10.0.0.2"}
`

func TestPlotFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "fixes.txt")
	require.NoError(t, os.WriteFile(in, []byte(recording), 0o644))
	out := filepath.Join(dir, "fixes.png")

	n, err := plotFile(in, out, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")), "output is not a PNG")
}

func TestPlotFileErrors(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	_, err := plotFile(filepath.Join(dir, "missing.txt"), out, false)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte(`{"ts": 1, "point": null}`+"\n"), 0o644))
	_, err = plotFile(empty, out, false)
	assert.ErrorContains(t, err, "no fixes")

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("not json\n"), 0o644))
	_, err = plotFile(bad, out, false)
	assert.ErrorContains(t, err, "line 1")

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}
