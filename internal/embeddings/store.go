// Package embeddings reads and updates the per-recording embedding blobs.
//
// A blob is a msgpack map with the keys "embeddings" (one D-length float sequence
// per frame) and "timings" (one [start, end] pair per frame). Label submission adds
// "presence_embeddings" and "absence_embeddings"; every other key is preserved.
package embeddings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/utils"
)

// BlobSuffix is appended to a recording name to form its blob file name.
const BlobSuffix = ".birdnet.embeddings.msgpack"

const (
	keyEmbeddings = "embeddings"
	keyTimings    = "timings"
	keyPresence   = "presence_embeddings"
	keyAbsence    = "absence_embeddings"
)

// Store loads embedding blobs from a directory.
type Store struct {
	dir string
	dim int
}

// NewStore returns a store rooted at dir that rejects vectors whose length is not dim.
func NewStore(dir string, dim int) *Store {
	return &Store{dir: dir, dim: dim}
}

func (s *Store) Dir() string { return s.dir }


// Path returns the blob path of a recording.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+BlobSuffix)
}

// Load reads and validates the embedding set of a recording.
func (s *Store) Load(name string) (*models.EmbeddingSet, error) {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrMissingEmbeddings, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", models.ErrMissingEmbeddings, path, err)
	}

	set, err := Decode(data, s.dim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// WritePartition stores the presence/absence subsets inside the recording's blob.
func (s *Store) WritePartition(name string, presence, absence [][]float64) error {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", models.ErrMissingEmbeddings, path, err)
	}

	raw, err := decodeRaw(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if raw[keyPresence], err = msgpack.Marshal(nonNil(presence)); err != nil {
		return fmt.Errorf("encoding presence partition: %w", err)
	}
	if raw[keyAbsence], err = msgpack.Marshal(nonNil(absence)); err != nil {
		return fmt.Errorf("encoding absence partition: %w", err)
	}

	out, err := encodeRaw(raw)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, out, 0o644)
}

// Encode serializes an embedding set into the blob format.
func Encode(set *models.EmbeddingSet) ([]byte, error) {
	timings := make([][]float64, len(set.Timings))
	for i, t := range set.Timings {
		timings[i] = []float64{t[0], t[1]}
	}

	raw := make(map[string]msgpack.RawMessage, 4)
	var err error
	if raw[keyEmbeddings], err = msgpack.Marshal(nonNil(set.Embeddings)); err != nil {
		return nil, fmt.Errorf("encoding embeddings: %w", err)
	}
	if raw[keyTimings], err = msgpack.Marshal(timings); err != nil {
		return nil, fmt.Errorf("encoding timings: %w", err)
	}
	if set.Presence != nil {
		if raw[keyPresence], err = msgpack.Marshal(set.Presence); err != nil {
			return nil, fmt.Errorf("encoding presence partition: %w", err)
		}
	}
	if set.Absence != nil {
		if raw[keyAbsence], err = msgpack.Marshal(set.Absence); err != nil {
			return nil, fmt.Errorf("encoding absence partition: %w", err)
		}
	}
	return encodeRaw(raw)
}

// Decode parses and validates a blob. A dim of zero only checks vectors are uniform.
func Decode(data []byte, dim int) (*models.EmbeddingSet, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}

	var vectors, timings, presence, absence [][]float64
	if err := field(raw, keyEmbeddings, &vectors, true); err != nil {
		return nil, err
	}
	if err := field(raw, keyTimings, &timings, true); err != nil {
		return nil, err
	}
	if err := field(raw, keyPresence, &presence, false); err != nil {
		return nil, err
	}
	if err := field(raw, keyAbsence, &absence, false); err != nil {
		return nil, err
	}

	if len(vectors) != len(timings) {
		return nil, fmt.Errorf("%w: %d embeddings but %d timings",
			models.ErrMissingEmbeddings, len(vectors), len(timings))
	}

	if dim == 0 && len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for _, group := range [][][]float64{vectors, presence, absence} {
		if err := checkDim(group, dim); err != nil {
			return nil, err
		}
	}

	set := &models.EmbeddingSet{
		Embeddings: vectors,
		Timings:    make([]models.Timing, len(timings)),
		Presence:   presence,
		Absence:    absence,
	}
	for i, t := range timings {
		if len(t) != 2 {
			return nil, fmt.Errorf("%w: timing %d has %d values", models.ErrMissingEmbeddings, i, len(t))
		}
		set.Timings[i] = models.Timing{t[0], t[1]}
	}
	return set, nil
}

func checkDim(vectors [][]float64, dim int) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has length %d, want %d", models.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

func field(raw map[string]msgpack.RawMessage, key string, dst *[][]float64, required bool) error {
	b, ok := raw[key]
	if !ok {
		if required {
			return fmt.Errorf("%w: blob has no %q field", models.ErrMissingEmbeddings, key)
		}
		return nil
	}
	if err := msgpack.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: decoding %q: %w", models.ErrMissingEmbeddings, key, err)
	}
	return nil
}

func decodeRaw(data []byte) (map[string]msgpack.RawMessage, error) {
	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding blob: %w", models.ErrMissingEmbeddings, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: blob is not a map", models.ErrMissingEmbeddings)
	}
	return raw, nil
}

func encodeRaw(raw map[string]msgpack.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(raw); err != nil {
		return nil, fmt.Errorf("encoding blob: %w", err)
	}
	return buf.Bytes(), nil
}

func nonNil(v [][]float64) [][]float64 {
	if v == nil {
		return [][]float64{}
	}
	return v
}
