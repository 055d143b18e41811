package playbook_test

import (
	"testing"

	"github.com/opt-outta/engine/internal/playbook"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreUpsertGetDelete(t *testing.T) {
	s := playbook.NewLocalStore(t.TempDir())

	draft := playbook.LocalPlaybook{Playbook: playbook.Playbook{ID: "draft-1", BrokerID: "spokeo"}}
	require.NoError(t, s.Upsert(draft))

	got, err := s.Get("draft-1")
	require.NoError(t, err)
	require.Equal(t, "local", got.Status)
	require.NotEmpty(t, got.UpdatedAt)

	pb, err := s.Local("draft-1")
	require.NoError(t, err)
	require.Equal(t, "spokeo", pb.BrokerID)

	require.NoError(t, s.Delete("draft-1"))
	_, err = s.Get("draft-1")
	require.Error(t, err)
}

func TestLocalStoreGetMissingFails(t *testing.T) {
	s := playbook.NewLocalStore(t.TempDir())
	_, err := s.Get("nope")
	require.Error(t, err)
}
