package spectrogram

import (
	"context"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/logger"
)

// writeTone writes a 16-bit 440 Hz tone with the given channel count.
func writeTone(t *testing.T, path string, seconds float64, channels int) {
	t.Helper()
	const rate = 8000
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	frames := int(seconds * rate)
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestReadSamplesDownmixes(t *testing.T) {
	dir := t.TempDir()
	mono := filepath.Join(dir, "mono.wav")
	stereo := filepath.Join(dir, "stereo.wav")
	writeTone(t, mono, 0.5, 1)
	writeTone(t, stereo, 0.5, 2)

	m, rate, err := ReadSamples(mono)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.Len(t, m, 4000)

	s, _, err := ReadSamples(stereo)
	require.NoError(t, err)
	require.Len(t, s, len(m))
	assert.InDeltaSlice(t, m, s, 1e-9)

	for _, v := range m {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestReadSamplesRejectsNonWav(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, os.WriteFile(p, []byte("not audio"), 0o644))

	_, _, err := ReadSamples(p)
	assert.Error(t, err)
}

func TestRenderMissing(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "audio", "rec.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(wavPath), 0o755))
	writeTone(t, wavPath, 1, 1)

	jobs := []Job{
		{Name: "rec", WavPath: wavPath, PngPath: filepath.Join(dir, "spectrograms", "rec.png")},
		{Name: "ghost", WavPath: filepath.Join(dir, "audio", "ghost.wav"), PngPath: filepath.Join(dir, "spectrograms", "ghost.png")},
	}
	opts := Options{Width: 256, Height: 128}

	n, err := RenderMissing(context.Background(), jobs, opts, false, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := os.Open(jobs[0].PngPath)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.DecodeConfig(f)
	require.NoError(t, err)

	n, err = RenderMissing(context.Background(), jobs[:1], opts, false, logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRenderRejectsBadSize(t *testing.T) {
	err := Render("in.wav", "out.png", Options{})
	assert.Error(t, err)
}
