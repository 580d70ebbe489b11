package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/dataset"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/embeddings"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

type cliEnv struct {
	args   []string
	layout dataset.Layout
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("ANNOTATOR_CONFIG", "")
	t.Chdir(t.TempDir())

	layout := dataset.Layout{DataDir: t.TempDir(), Dataset: "test"}
	require.NoError(t, os.MkdirAll(layout.EmbeddingsDir(), 0o755))
	set := &models.EmbeddingSet{}
	for i := 0; i < 10; i++ {
		v := 0.0
		if i >= 5 {
			v = 10
		}
		set.Embeddings = append(set.Embeddings, []float64{v, v})
		set.Timings = append(set.Timings, models.Timing{float64(i), float64(i + 1)})
	}
	data, err := embeddings.Encode(set)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(layout.EmbeddingsDir(), "rec_a"+embeddings.BlobSuffix), data, 0o644))

	require.NoError(t, os.MkdirAll(layout.AudioDir(), 0o755))
	writeWav(t, filepath.Join(layout.AudioDir(), "rec_a.wav"), 8000*10)
	writeWav(t, filepath.Join(layout.AudioDir(), "rec_b.wav"), 8000*4)

	cfgPath := filepath.Join(t.TempDir(), "annotator.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("engine:\n  embedding_dim: 2\n  seed: 3\n"), 0o644))

	return &cliEnv{
		layout: layout,
		args: []string{
			"--config", cfgPath,
			"--data", layout.DataDir,
			"--dataset", layout.Dataset,
			"--db", filepath.Join(t.TempDir(), "ledger.sqlite3"),
			"--log-level", "silent",
		},
	}
}

func writeWav(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(append([]string{}, e.args...), args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanAndStats(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run(t, "", "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 recording(s)")
	assert.FileExists(t, e.layout.MetadataPath("metadata.json"))

	out, err = e.run(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Recordings:  2")
	assert.Contains(t, out, "Labeled:     0")
}

func TestSubmitThenSegments(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run(t, "start_time,end_time,label\n0,5,absence\n5,10,presence\n",
		"submit", "rec_a", "--labels", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "5 presence, 5 absence frames")

	out, err = e.run(t, "", "list", "--unlabeled")
	require.NoError(t, err)
	assert.Contains(t, out, "rec_b")
	assert.NotContains(t, out, "rec_a")

	out, err = e.run(t, "", "segments", "rec_a", "--policy", "adaptive", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "absence")
	assert.Contains(t, out, "presence")

	out, err = e.run(t, "", "verify", "rec_a")
	require.NoError(t, err)
	assert.Contains(t, out, "consistent")

	out, err = e.run(t, "", "history", "rec_a")
	require.NoError(t, err)
	assert.Contains(t, out, "2 labels")
}

func TestCommandErrors(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "", "batch", "--strategy", "greedy")
	assert.ErrorContains(t, err, "choose one of")

	_, err = e.run(t, "start_time,end_time,label\n0,x,absence\n", "submit", "rec_a", "--labels", "-")
	assert.Error(t, err)

	_, err = e.run(t, "", "segments")
	assert.Error(t, err)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[1.0000 2.0000 ...]", formatVector([]float64{1, 2, 3}, 2))
	assert.Equal(t, "[1.0000]", formatVector([]float64{1}, 8))
	assert.Equal(t, "[]", formatVector(nil, 8))
}
