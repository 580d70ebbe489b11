// Package storage keeps the ledger of accepted label submissions in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/utils"
)

const DefaultDBFile = "annotator.sqlite3"
const errDBClientNil = "db client is nil"

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Submission is one accepted label submission for a recording.
type Submission struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Filename       string    `gorm:"index:idx_submission_filename" json:"filename"`
	LabelCount     int       `json:"label_count"`
	PresenceFrames int       `json:"presence_frames"`
	AbsenceFrames  int       `json:"absence_frames"`
	CreatedAt      time.Time `gorm:"index:idx_submission_created" json:"created_at"`
}

// LedgerStats summarizes the ledger.
type LedgerStats struct {
	Submissions    int64      `json:"submissions"`
	Recordings     int64      `json:"recordings"`
	LastSubmission *time.Time `json:"last_submission,omitempty"`
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// SQLite allows one writer at a time.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Submission{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RecordSubmission stores s and returns its ID. A missing or non-UUID ID is replaced.
func (c *DBClient) RecordSubmission(s Submission) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if !utils.IsID(s.ID) {
		s.ID = utils.NewID()
	}
	if err := c.DB.Create(&s).Error; err != nil {
		return "", fmt.Errorf("recording submission for %s: %w", s.Filename, err)
	}
	return s.ID, nil
}

// SubmissionsFor returns the submissions of a recording, newest first.
func (c *DBClient) SubmissionsFor(filename string) ([]Submission, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Submission
	if err := c.DB.Where("filename = ?", filename).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	return rows, nil
}

// LatestSubmission returns the newest submission of a recording, or nil when there is none.
func (c *DBClient) LatestSubmission(filename string) (*Submission, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Submission
	err := c.DB.Where("filename = ?", filename).Order("created_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest submission: %w", err)
	}
	return &row, nil
}

func (c *DBClient) Stats() (LedgerStats, error) {
	if c == nil || c.DB == nil {
		return LedgerStats{}, errors.New(errDBClientNil)
	}
	var stats LedgerStats
	if err := c.DB.Model(&Submission{}).Count(&stats.Submissions).Error; err != nil {
		return LedgerStats{}, fmt.Errorf("counting submissions: %w", err)
	}
	if err := c.DB.Model(&Submission{}).Distinct("filename").Count(&stats.Recordings).Error; err != nil {
		return LedgerStats{}, fmt.Errorf("counting recordings: %w", err)
	}
	if stats.Submissions > 0 {
		var last Submission
		if err := c.DB.Order("created_at DESC").First(&last).Error; err != nil {
			return LedgerStats{}, fmt.Errorf("querying last submission: %w", err)
		}
		stats.LastSubmission = &last.CreatedAt
	}
	return stats, nil
}
