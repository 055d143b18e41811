package main

import (
	"context"

	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/playbook"
	"github.com/opt-outta/engine/internal/registryapi"
)

// combinedSource implements runengine.PlaybookSource by routing a "local:"
// selection to the local draft store and every other selection to the
// registry API (spec.md §4.8 step 3).
type combinedSource struct {
	local *playbook.LocalStore
	api   *registryapi.Client
}

func newCombinedSource(local *playbook.LocalStore, api *registryapi.Client) *combinedSource {
	return &combinedSource{local: local, api: api}
}

func (s *combinedSource) Local(id string) (*playbook.Playbook, error) {
	return s.local.Local(id)
}

// Best fetches the top-ranked approved playbook for a broker, by popularity.
func (s *combinedSource) Best(brokerID string) (*playbook.Playbook, error) {
	ctx := context.Background()
	summaries, err := s.api.ListPlaybooks(ctx, brokerID, "best", 1)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, errs.New(errs.KindConfiguration, "no community playbook available for broker "+brokerID)
	}
	return s.api.PlaybookDetail(ctx, summaries[0].ID)
}

func (s *combinedSource) ByID(id string) (*playbook.Playbook, error) {
	return s.api.PlaybookDetail(context.Background(), id)
}
