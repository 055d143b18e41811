package playbook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/opt-outta/engine/internal/errs"
)

const localPlaybookFileName = "local_playbooks.json"

// LocalStore persists user-authored draft playbooks, mutable until
// promoted to a community submission (spec.md §3).
type LocalStore struct {
	dataDir string
}

// NewLocalStore builds a LocalStore rooted at dataDir.
func NewLocalStore(dataDir string) *LocalStore {
	return &LocalStore{dataDir: dataDir}
}

func (s *LocalStore) path() string { return filepath.Join(s.dataDir, localPlaybookFileName) }

// All returns every local draft.
func (s *LocalStore) All() ([]LocalPlaybook, error) {
	raw, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "playbook: read local store", err)
	}
	var shape LocalPlaybookFile
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "playbook: parse local store", err)
	}
	return shape.Playbooks, nil
}

func (s *LocalStore) saveAll(playbooks []LocalPlaybook) error {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return errs.Wrap(errs.KindConfiguration, "playbook: create data dir", err)
	}
	encoded, err := json.MarshalIndent(LocalPlaybookFile{Playbooks: playbooks}, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "playbook: encode local store", err)
	}
	return errs.Wrap(errs.KindConfiguration, "playbook: write local store", os.WriteFile(s.path(), encoded, 0o600))
}

// Get looks up a single draft by id.
func (s *LocalStore) Get(id string) (*LocalPlaybook, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, errs.New(errs.KindConfiguration, "playbook: no local playbook with id "+id)
}

// Upsert inserts or replaces a draft by id, stamping UpdatedAt.
func (s *LocalStore) Upsert(p LocalPlaybook) error {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	p.Status = "local"

	all, err := s.All()
	if err != nil {
		return err
	}
	replaced := false
	for i := range all {
		if all[i].ID == p.ID {
			all[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, p)
	}
	return s.saveAll(all)
}

// Delete removes a draft by id. It is not an error if none exists.
func (s *LocalStore) Delete(id string) error {
	all, err := s.All()
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, p := range all {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return s.saveAll(kept)
}

// Local implements runengine.PlaybookSource's local-draft lookup: it
// returns the Playbook embedded in the LocalPlaybook record.
func (s *LocalStore) Local(id string) (*Playbook, error) {
	lp, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &lp.Playbook, nil
}
