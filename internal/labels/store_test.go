package labels

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	set := models.LabelSet{
		{StartTime: 0, EndTime: 2.5, Class: models.Absence},
		{StartTime: 2.5, EndTime: 7.125, Class: models.Presence},
	}

	require.NoError(t, s.Save("rec1", set))

	data, err := os.ReadFile(s.Path("rec1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), Header+"\n"))
	assert.Contains(t, string(data), "2.5,7.125,presence")

	got, err := s.Load("rec1")
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestSaveRejectsInvalidLabels(t *testing.T) {
	s := NewStore(t.TempDir())
	err := s.Save("rec1", models.LabelSet{{StartTime: 3, EndTime: 1, Class: models.Presence}})
	assert.ErrorIs(t, err, models.ErrInvalidLabel)
	assert.False(t, s.Exists("rec1"))
}

func TestSaveEmptySet(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save("rec1", models.LabelSet{}))

	got, err := s.Load("rec1")
	require.NoError(t, err)
	assert.Empty(t, got)

	names, err := s.Labeled()
	require.NoError(t, err)
	assert.Equal(t, []string{"rec1"}, names)
}

func TestParseReportsMalformedLinesPerLine(t *testing.T) {
	body := strings.Join([]string{
		Header,
		"0,1,presence",
		"abc,2,absence",
		"",
		"2,3,noise",
		"3,4",
		"4,5,absence",
	}, "\n")

	set, err := Parse(strings.NewReader(body))
	require.Error(t, err)

	assert.Equal(t, models.LabelSet{
		{StartTime: 0, EndTime: 1, Class: models.Presence},
		{StartTime: 4, EndTime: 5, Class: models.Absence},
	}, set)

	var lines []int
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var mle *models.MalformedLineError
		require.True(t, errors.As(e, &mle))
		lines = append(lines, mle.Line)
	}
	assert.Equal(t, []int{3, 5, 6}, lines)
}

func TestParseHandlesCRLF(t *testing.T) {
	set, err := Parse(strings.NewReader(Header + "\r\n1,2,absence\r\n"))
	require.NoError(t, err)
	assert.Equal(t, models.LabelSet{{StartTime: 1, EndTime: 2, Class: models.Absence}}, set)
}

func TestLabeledMissingDirectory(t *testing.T) {
	s := NewStore(t.TempDir() + "/does-not-exist")

	names, err := s.Labeled()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLabeledIgnoresForeignFiles(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save("b", models.LabelSet{}))
	require.NoError(t, s.Save("a", models.LabelSet{}))
	require.NoError(t, os.WriteFile(s.Dir()+"/notes.md", []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(s.Dir()+"/sub.txt", 0o755))

	names, err := s.Labeled()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestConcurrentSavesNeverExposePartialFiles(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save("rec", models.LabelSet{{StartTime: 0, EndTime: 1, Class: models.Absence}}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			set := make(models.LabelSet, 0, i+1)
			for j := 0; j <= i; j++ {
				set = append(set, models.Label{StartTime: float64(j), EndTime: float64(j + 1), Class: models.Presence})
			}
			assert.NoError(t, s.Save("rec", set))
		}(i)
		go func() {
			defer wg.Done()
			got, err := s.Load("rec")
			assert.NoError(t, err, fmt.Sprintf("read %d labels", len(got)))
			assert.NotEmpty(t, got)
		}()
	}
	wg.Wait()
}
