// Package history persists submission outcomes and computes relisting
// due-dates (spec.md §4.9, component C9).
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opt-outta/engine/internal/errs"
)

const fileName = "submissions.json"

// Status is a SubmissionRecord's lifecycle state.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusPendingVerification Status = "pending_verification"
	StatusConfirmed          Status = "confirmed"
	StatusFailed             Status = "failed"
	StatusRelisted           Status = "re_listed"
)

// SubmissionRecord is the outcome of one per-broker run iteration.
type SubmissionRecord struct {
	ID             string     `json:"id"`
	BrokerID       string     `json:"broker_id"`
	Status         Status     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	NextCheckDate  *time.Time `json:"next_check_date,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RunID          string     `json:"run_id"`
}

// NewID generates a fresh submission record identifier.
func NewID() string { return uuid.NewString() }

type fileShape struct {
	Records []SubmissionRecord `json:"records"`
}

// Store is a JSON file-backed submission history.
type Store struct {
	dataDir string
}

// NewStore builds a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) path() string { return filepath.Join(s.dataDir, fileName) }

// Load reads every submission record. A missing file yields an empty slice.
func (s *Store) Load() ([]SubmissionRecord, error) {
	raw, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "history: read file", err)
	}
	var shape fileShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "history: parse file", err)
	}
	return shape.Records, nil
}

// Save overwrites the file with records, pretty-printed.
func (s *Store) Save(records []SubmissionRecord) error {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return errs.Wrap(errs.KindConfiguration, "history: create data dir", err)
	}
	encoded, err := json.MarshalIndent(fileShape{Records: records}, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "history: encode file", err)
	}
	if err := os.WriteFile(s.path(), encoded, 0o600); err != nil {
		return errs.Wrap(errs.KindConfiguration, "history: write file", err)
	}
	return nil
}

// Upsert inserts rec, or replaces the existing record sharing its ID.
func (s *Store) Upsert(rec SubmissionRecord) error {
	records, err := s.Load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return s.Save(records)
}

// SetStatus mutates the named record's status, setting ConfirmedAt when the
// transition lands on StatusConfirmed.
func (s *Store) SetStatus(id string, status Status, now time.Time) error {
	records, err := s.Load()
	if err != nil {
		return err
	}
	found := false
	for i := range records {
		if records[i].ID != id {
			continue
		}
		found = true
		records[i].Status = status
		if status == StatusConfirmed && records[i].ConfirmedAt == nil {
			t := now
			records[i].ConfirmedAt = &t
		}
	}
	if !found {
		return errs.New(errs.KindConfiguration, "history: no submission with id "+id)
	}
	return s.Save(records)
}

// LatestPerBroker groups records by broker id, keeping only the one with
// the greatest SubmittedAt per broker.
func LatestPerBroker(records []SubmissionRecord) []SubmissionRecord {
	latest := make(map[string]SubmissionRecord, len(records))
	for _, rec := range records {
		current, ok := latest[rec.BrokerID]
		if !ok || rec.SubmittedAt.After(current.SubmittedAt) {
			latest[rec.BrokerID] = rec
		}
	}
	out := make([]SubmissionRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out
}

// DueForRecheck returns the latest-per-broker records whose NextCheckDate
// has arrived.
func DueForRecheck(records []SubmissionRecord, now time.Time) []SubmissionRecord {
	var due []SubmissionRecord
	for _, rec := range LatestPerBroker(records) {
		if rec.NextCheckDate != nil && !rec.NextCheckDate.After(now) {
			due = append(due, rec)
		}
	}
	return due
}

// NextCheckDate computes submittedAt + relistDays*24h, per spec.md's
// invariant that a confirmed submission with a broker relist window must
// carry that deadline.
func NextCheckDate(submittedAt time.Time, relistDays int) time.Time {
	return submittedAt.Add(time.Duration(relistDays) * 24 * time.Hour)
}
