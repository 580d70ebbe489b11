// Package dataset describes the recordings of one dataset and where their files live.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-audio/wav"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/embeddings"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/utils"
)

const (
	AudioExt       = ".wav"
	SpectrogramExt = ".png"
	EmbeddingsExt  = embeddings.BlobSuffix
)

// Layout locates the directories of a dataset under the data root.
type Layout struct {
	DataDir string
	Dataset string
}

func (l Layout) Root() string           { return filepath.Join(l.DataDir, l.Dataset) }
func (l Layout) AudioDir() string       { return filepath.Join(l.Root(), "audio") }
func (l Layout) SpectrogramDir() string { return filepath.Join(l.Root(), "spectrograms") }
func (l Layout) EmbeddingsDir() string  { return filepath.Join(l.Root(), "embeddings") }
func (l Layout) LabelsDir() string      { return filepath.Join(l.Root(), "labels") }

func (l Layout) MetadataPath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(l.Root(), file)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// metadata is the on-disk dataset description.
type metadata struct {
	Files struct {
		AudioFiles   []string           `json:"audio_files"`
		AudioLengths map[string]float64 `json:"audio_lengths"`
	} `json:"files"`
}

// Index is the load-once list of recordings and their audio lengths.
type Index struct {
	layout  Layout
	names   []string
	lengths map[string]float64
}

// Load reads the metadata file of the dataset. When it does not exist the audio
// directory is scanned and lengths are read from the WAV headers.
func Load(layout Layout, metadataFile string, log Logger) (*Index, error) {
	metaPath := layout.MetadataPath(metadataFile)
	data, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		return fromMetadata(layout, data, log)
	case errors.Is(err, os.ErrNotExist):
		log.Infof("No metadata at %s, scanning %s", metaPath, layout.AudioDir())
		return Scan(layout, log)
	default:
		return nil, fmt.Errorf("reading metadata %s: %w", metaPath, err)
	}
}

func fromMetadata(layout Layout, data []byte, log Logger) (*Index, error) {
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}

	idx := &Index{layout: layout, lengths: make(map[string]float64, len(meta.Files.AudioFiles))}
	for _, file := range meta.Files.AudioFiles {
		name := stem(file)
		if _, dup := idx.lengths[name]; dup {
			continue
		}
		length, ok := meta.Files.AudioLengths[file]
		if !ok {
			length, ok = meta.Files.AudioLengths[name+AudioExt]
		}
		if !ok {
			var err error
			if length, err = WavDuration(filepath.Join(layout.AudioDir(), name+AudioExt)); err != nil {
				log.Warnf("No audio length for %s: %v", file, err)
				continue
			}
		}
		idx.names = append(idx.names, name)
		idx.lengths[name] = length
	}
	return idx, nil
}

// Scan builds an index from the WAV files in the audio directory, sorted by name.
func Scan(layout Layout, log Logger) (*Index, error) {
	entries, err := os.ReadDir(layout.AudioDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("scanning audio: %w", err)
	}

	idx := &Index{layout: layout, lengths: map[string]float64{}}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), AudioExt) {
			continue
		}
		length, err := WavDuration(filepath.Join(layout.AudioDir(), e.Name()))
		if err != nil {
			log.Warnf("Skipping %s: %v", e.Name(), err)
			continue
		}
		name := stem(e.Name())
		idx.names = append(idx.names, name)
		idx.lengths[name] = length
	}
	sort.Strings(idx.names)
	return idx, nil
}

// New builds an index from explicit lengths, sorted by name.
func New(layout Layout, lengths map[string]float64) *Index {
	idx := &Index{layout: layout, lengths: make(map[string]float64, len(lengths))}
	for name, l := range lengths {
		idx.names = append(idx.names, name)
		idx.lengths[name] = l
	}
	sort.Strings(idx.names)
	return idx
}

// WavDuration returns the duration of a WAV file in seconds.
func WavDuration(p string) (float64, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%s is not a valid WAV file", p)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("reading duration of %s: %w", p, err)
	}
	return d.Seconds(), nil
}

func (x *Index) Layout() Layout { return x.layout }

func (x *Index) Dataset() string { return x.layout.Dataset }

func (x *Index) Len() int { return len(x.names) }

// Recordings returns the recording names in index order.
func (x *Index) Recordings() []string {
	return append([]string(nil), x.names...)
}

func (x *Index) Has(name string) bool {
	_, ok := x.lengths[name]
	return ok
}

func (x *Index) AudioLength(name string) (float64, error) {
	l, ok := x.lengths[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrUnknownRecording, name)
	}
	return l, nil
}

// Unlabeled returns the recordings not in labeled, in index order.
func (x *Index) Unlabeled(labeled []string) []string {
	done := make(map[string]struct{}, len(labeled))
	for _, n := range labeled {
		done[n] = struct{}{}
	}
	out := make([]string, 0, len(x.names))
	for _, n := range x.names {
		if _, ok := done[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// Descriptor composes the public paths of a recording, relative to the /data/ mount.
func (x *Index) Descriptor(name string) (models.RecordingDescriptor, error) {
	length, err := x.AudioLength(name)
	if err != nil {
		return models.RecordingDescriptor{}, err
	}
	base := path.Join("/data", x.layout.Dataset)
	return models.RecordingDescriptor{
		Filename:        name,
		AudioLength:     length,
		AudioPath:       path.Join(base, "audio", name+AudioExt),
		SpectrogramPath: path.Join(base, "spectrograms", name+SpectrogramExt),
		EmbeddingsPath:  path.Join(base, "embeddings", name+EmbeddingsExt),
	}, nil
}

// WriteMetadata stores the index in the metadata format read by Load.
func (x *Index) WriteMetadata(metadataFile string) error {
	var meta metadata
	meta.Files.AudioFiles = make([]string, 0, len(x.names))
	meta.Files.AudioLengths = make(map[string]float64, len(x.names))
	for _, n := range x.names {
		meta.Files.AudioFiles = append(meta.Files.AudioFiles, n+AudioExt)
		meta.Files.AudioLengths[n+AudioExt] = x.lengths[n]
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(x.layout.MetadataPath(metadataFile), data, 0o644)
}

func stem(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
