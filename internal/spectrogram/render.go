// Package spectrogram renders the PNG spectrograms shown next to each recording.
package spectrogram

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/utils"
)

type Options struct {
	Width  int
	Height int
	// Background is a hex RGB colour such as "000000".
	Background string
}

func DefaultOptions() Options {
	return Options{Width: 2048, Height: 512, Background: "000000"}
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// ReadSamples decodes a PCM WAV file to mono samples in [-1, 1].
func ReadSamples(path string) ([]float64, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file: %s", path)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return nil, 0, fmt.Errorf("getting duration from %s: %w", path, err)
	}

	channels := int(decoder.NumChans)
	frames := int(duration.Seconds() * float64(decoder.SampleRate))
	if frames == 0 || channels == 0 {
		return nil, 0, fmt.Errorf("no samples in %s", path)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  int(decoder.SampleRate),
		},
		Data:           make([]int, frames*channels),
		SourceBitDepth: int(decoder.BitDepth),
	}
	n, err := decoder.PCMBuffer(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("reading samples from %s: %w", path, err)
	}

	maxVal := float64(int(1) << (uint(decoder.BitDepth) - 1))
	samples := make([]float64, n/channels)
	for i := range samples {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / maxVal
	}
	return samples, int(decoder.SampleRate), nil
}

// Render draws the magnitude spectrogram of a WAV file and saves it as PNG.
func Render(wavPath, pngPath string, opts Options) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return errors.New("spectrogram size must be positive")
	}
	if opts.Background == "" {
		opts.Background = "000000"
	}

	samples, rate, err := ReadSamples(wavPath)
	if err != nil {
		return err
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, opts.Width, opts.Height))
	bg := spectrogram.ParseColor(opts.Background)
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	// Hamming window, FFT, linear magnitude.
	spectrogram.Drawfft(img, samples, uint32(rate), uint32(opts.Height), false, false, true, false)

	if err := utils.MakeDir(filepath.Dir(pngPath)); err != nil {
		return err
	}
	if err := spectrogram.SavePng(img, pngPath); err != nil {
		return fmt.Errorf("saving %s: %w", pngPath, err)
	}
	return nil
}

// Job is one recording to render.
type Job struct {
	Name    string
	WavPath string
	PngPath string
}

// RenderMissing renders every job whose PNG does not exist yet, or all of them when
// overwrite is set. Failing recordings are logged and skipped.
func RenderMissing(ctx context.Context, jobs []Job, opts Options, overwrite bool, log Logger) (rendered int, err error) {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return rendered, err
		}
		if !overwrite && utils.FileExists(job.PngPath) {
			continue
		}
		if err := Render(job.WavPath, job.PngPath, opts); err != nil {
			log.Warnf("Skipping spectrogram for %s: %v", job.Name, err)
			continue
		}
		rendered++
	}
	log.Infof("Rendered %d of %d spectrograms", rendered, len(jobs))
	return rendered, nil
}
