package embeddings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

func sampleSet() *models.EmbeddingSet {
	return &models.EmbeddingSet{
		Embeddings: [][]float64{{1, 2, 3}, {4, 5, 6}},
		Timings:    []models.Timing{{0, 3}, {3, 6}},
	}
}

func writeBlob(t *testing.T, s *Store, name string, set *models.EmbeddingSet) {
	t.Helper()
	data, err := Encode(set)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	require.NoError(t, os.WriteFile(s.Path(name), data, 0o644))
}

func TestLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), 3)
	writeBlob(t, s, "rec1", sampleSet())

	got, err := s.Load("rec1")
	require.NoError(t, err)
	assert.Equal(t, sampleSet().Embeddings, got.Embeddings)
	assert.Equal(t, sampleSet().Timings, got.Timings)
	assert.Nil(t, got.Presence)
	assert.Nil(t, got.Absence)
}

func TestLoadMissingBlob(t *testing.T) {
	s := NewStore(t.TempDir(), 3)

	_, err := s.Load("nope")
	assert.ErrorIs(t, err, models.ErrMissingEmbeddings)
}

func TestLoadCorruptBlob(t *testing.T) {
	s := NewStore(t.TempDir(), 3)
	require.NoError(t, os.WriteFile(s.Path("bad"), []byte{0xc1, 0x00, 0x01}, 0o644))

	_, err := s.Load("bad")
	assert.ErrorIs(t, err, models.ErrMissingEmbeddings)
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	s := NewStore(t.TempDir(), 4)
	writeBlob(t, s, "rec1", sampleSet())

	_, err := s.Load("rec1")
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	set := sampleSet()
	set.Timings = set.Timings[:1]
	data, err := Encode(set)
	require.NoError(t, err)

	_, err = Decode(data, 3)
	assert.ErrorIs(t, err, models.ErrMissingEmbeddings)
}

func TestDecodeAcceptsFloat32AndExtraKeys(t *testing.T) {
	blob := map[string]any{
		"embeddings": [][]float32{{0.5, 1.5}},
		"timings":    [][]float32{{0, 3}},
		"model":      "birdnet-2.4",
	}
	data, err := msgpack.Marshal(blob)
	require.NoError(t, err)

	set, err := Decode(data, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 1.5}}, set.Embeddings)
	assert.Equal(t, 1.5, set.Timings[0].Center())
}

func TestWritePartitionPreservesOtherKeys(t *testing.T) {
	s := NewStore(t.TempDir(), 2)
	blob := map[string]any{
		"embeddings": [][]float64{{1, 1}, {2, 2}},
		"timings":    [][]float64{{0, 1}, {1, 2}},
		"model":      "birdnet-2.4",
	}
	data, err := msgpack.Marshal(blob)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("rec"), data, 0o644))

	require.NoError(t, s.WritePartition("rec", [][]float64{{1, 1}}, nil))

	set, err := s.Load("rec")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1}}, set.Presence)
	assert.Empty(t, set.Absence)
	assert.Len(t, set.Embeddings, 2)

	updated, err := os.ReadFile(s.Path("rec"))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, msgpack.Unmarshal(updated, &raw))
	assert.Equal(t, "birdnet-2.4", raw["model"])

	entries, err := os.ReadDir(filepath.Dir(s.Path("rec")))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWritePartitionMissingBlob(t *testing.T) {
	s := NewStore(t.TempDir(), 2)
	err := s.WritePartition("ghost", nil, nil)
	assert.ErrorIs(t, err, models.ErrMissingEmbeddings)
}
