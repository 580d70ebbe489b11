package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/logger"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

// writeWav writes a silent 16-bit mono file of the given length.
func writeWav(t *testing.T, path string, seconds float64) {
	t.Helper()
	const rate = 8000
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, int(seconds*rate)),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func testLayout(t *testing.T) Layout {
	return Layout{DataDir: t.TempDir(), Dataset: "birds"}
}

func TestLoadFromMetadata(t *testing.T) {
	layout := testLayout(t)
	meta := `{"files": {
		"audio_files": ["rec_b.wav", "rec_a.wav", "rec_b.wav"],
		"audio_lengths": {"rec_a.wav": 12.5, "rec_b.wav": 30}
	}}`
	require.NoError(t, os.MkdirAll(layout.Root(), 0o755))
	require.NoError(t, os.WriteFile(layout.MetadataPath("metadata.json"), []byte(meta), 0o644))

	idx, err := Load(layout, "metadata.json", logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{"rec_b", "rec_a"}, idx.Recordings())
	l, err := idx.AudioLength("rec_a")
	require.NoError(t, err)
	assert.Equal(t, 12.5, l)
	assert.True(t, idx.Has("rec_b"))
	assert.False(t, idx.Has("rec_c"))
}

func TestLoadLengthKeyedByStem(t *testing.T) {
	layout := testLayout(t)
	// no WAV on disk, so the length must come from the stem key
	meta := `{"files": {
		"audio_files": ["audio/rec_a.wav", "nested/dir/rec_b.wav"],
		"audio_lengths": {"rec_a.wav": 12.5, "rec_b.wav": 30}
	}}`
	require.NoError(t, os.MkdirAll(layout.Root(), 0o755))
	require.NoError(t, os.WriteFile(layout.MetadataPath("metadata.json"), []byte(meta), 0o644))

	idx, err := Load(layout, "metadata.json", logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"rec_a", "rec_b"}, idx.Recordings())
	l, err := idx.AudioLength("rec_b")
	require.NoError(t, err)
	assert.Equal(t, 30.0, l)
}

func TestLoadFallsBackToWavForMissingLength(t *testing.T) {
	layout := testLayout(t)
	writeWav(t, filepath.Join(layout.AudioDir(), "late.wav"), 1.5)
	meta := `{"files": {"audio_files": ["late.wav", "ghost.wav"], "audio_lengths": {}}}`
	require.NoError(t, os.WriteFile(layout.MetadataPath("metadata.json"), []byte(meta), 0o644))

	idx, err := Load(layout, "metadata.json", logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, idx.Recordings())
	l, err := idx.AudioLength("late")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, l, 1e-3)
}

func TestLoadScansWhenMetadataMissing(t *testing.T) {
	layout := testLayout(t)
	writeWav(t, filepath.Join(layout.AudioDir(), "b.wav"), 2)
	writeWav(t, filepath.Join(layout.AudioDir(), "a.wav"), 1)
	require.NoError(t, os.WriteFile(filepath.Join(layout.AudioDir(), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(layout.AudioDir(), "broken.wav"), []byte("nope"), 0o644))

	idx, err := Load(layout, "metadata.json", logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, idx.Recordings())

	l, err := idx.AudioLength("b")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, l, 1e-3)
}

func TestScanEmptyDataset(t *testing.T) {
	idx, err := Scan(testLayout(t), logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
}

func TestLoadRejectsBadMetadata(t *testing.T) {
	layout := testLayout(t)
	require.NoError(t, os.MkdirAll(layout.Root(), 0o755))
	require.NoError(t, os.WriteFile(layout.MetadataPath("metadata.json"), []byte("{"), 0o644))

	_, err := Load(layout, "metadata.json", logger.Nop())
	assert.Error(t, err)
}

func TestDescriptorPaths(t *testing.T) {
	idx := New(Layout{DataDir: "/srv/data", Dataset: "birds"}, map[string]float64{"rec1": 10})

	d, err := idx.Descriptor("rec1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingDescriptor{
		Filename:        "rec1",
		AudioLength:     10,
		AudioPath:       "/data/birds/audio/rec1.wav",
		SpectrogramPath: "/data/birds/spectrograms/rec1.png",
		EmbeddingsPath:  "/data/birds/embeddings/rec1.birdnet.embeddings.msgpack",
	}, d)

	_, err = idx.Descriptor("nope")
	assert.ErrorIs(t, err, models.ErrUnknownRecording)
}

func TestUnlabeledKeepsIndexOrder(t *testing.T) {
	idx := New(testLayout(t), map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1})
	assert.Equal(t, []string{"a", "d"}, idx.Unlabeled([]string{"c", "b", "zzz"}))
}

func TestWriteMetadataRoundTrip(t *testing.T) {
	layout := testLayout(t)
	idx := New(layout, map[string]float64{"x": 3.25, "y": 60})
	require.NoError(t, idx.WriteMetadata("metadata.json"))

	loaded, err := Load(layout, "metadata.json", logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, idx.Recordings(), loaded.Recordings())
	l, err := loaded.AudioLength("x")
	require.NoError(t, err)
	assert.Equal(t, 3.25, l)
}
