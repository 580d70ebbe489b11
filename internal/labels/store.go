// Package labels persists the human-authored label files, one per recording.
package labels

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/utils"
)

// Header is the first line of every label file.
const Header = "start_time,end_time,label"

// FileExt is the extension of label files.
const FileExt = ".txt"

// Store reads and writes label files in a single directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Path returns the label file path of a recording.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+FileExt)
}

// Labeled lists the recordings that have a label file, sorted by name.
// A missing labels directory means nothing is labeled yet and is not an error.
func (s *Store) Labeled() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing labels: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != FileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), FileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a recording has a label file.
func (s *Store) Exists(name string) bool {
	return utils.FileExists(s.Path(name))
}

// Load reads the label file of a recording. Malformed lines are reported through the
// returned error while every valid line is still returned.
func (s *Store) Load(name string) (models.LabelSet, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("opening labels for %s: %w", name, err)
	}
	defer f.Close()

	return Parse(f)
}

// Save validates and atomically writes the label file of a recording.
func (s *Store) Save(name string, set models.LabelSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return utils.WriteFileAtomic(s.Path(name), Format(set), 0o644)
}

// Parse reads a label file body. The header line is skipped, blank lines are ignored,
// and each unparsable row yields a *models.MalformedLineError joined into the error.
func Parse(r io.Reader) (models.LabelSet, error) {
	scanner := bufio.NewScanner(r)
	set := models.LabelSet{}
	var errs []error

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if lineNo == 1 || line == "" {
			continue
		}

		label, err := parseLine(line)
		if err != nil {
			errs = append(errs, &models.MalformedLineError{Line: lineNo, Text: line, Err: err})
			continue
		}
		set = append(set, label)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("reading labels: %w", err))
	}

	return set, errors.Join(errs...)
}

func parseLine(line string) (models.Label, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return models.Label{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	start, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return models.Label{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return models.Label{}, fmt.Errorf("end_time: %w", err)
	}
	class, err := models.ParseClass(fields[2])
	if err != nil {
		return models.Label{}, err
	}

	label := models.Label{StartTime: start, EndTime: end, Class: class}
	if err := label.Validate(); err != nil {
		return models.Label{}, err
	}
	return label, nil
}

// Format renders a label set in the file format.
func Format(set models.LabelSet) []byte {
	var buf bytes.Buffer
	buf.WriteString(Header)
	for _, l := range set {
		buf.WriteByte('\n')
		buf.WriteString(strconv.FormatFloat(l.StartTime, 'f', -1, 64))
		buf.WriteByte(',')
		buf.WriteString(strconv.FormatFloat(l.EndTime, 'f', -1, 64))
		buf.WriteByte(',')
		buf.WriteString(string(l.Class))
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
