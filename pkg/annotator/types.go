package annotator

import (
	"time"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/storage"
)

// Submission is one ledger entry for an accepted label submission.
type Submission = storage.Submission

// Stats summarizes the dataset and annotation progress.
type Stats struct {
	Dataset        string     `json:"dataset"`
	Recordings     int        `json:"recordings"`
	Labeled        int        `json:"labeled"`
	Unlabeled      int        `json:"unlabeled"`
	Submissions    int64      `json:"submissions"`
	LastSubmission *time.Time `json:"last_submission,omitempty"`
}

// PartitionReport compares the stored presence/absence partition of a recording with the
// one re-derived from its label file and raw embeddings.
type PartitionReport struct {
	Filename         string   `json:"filename"`
	PresenceFrames   int      `json:"presence_frames"` // re-derived
	AbsenceFrames    int      `json:"absence_frames"`  // re-derived
	StoredPresence   int      `json:"stored_presence"`
	StoredAbsence    int      `json:"stored_absence"`
	Consistent       bool     `json:"consistent"`
	LedgerConsistent bool     `json:"ledger_consistent"` // latest ledger row has the same counts
	LabelErrors      []string `json:"label_errors,omitempty"` // malformed lines skipped while re-deriving
}
