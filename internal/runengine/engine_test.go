package runengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/history"
	"github.com/opt-outta/engine/internal/playbook"
	"github.com/opt-outta/engine/internal/runengine"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct{}

func (fakeDriver) NavigatePage(string) error                { return nil }
func (fakeDriver) Fill(string, string) error                 { return nil }
func (fakeDriver) Select(string, string) error               { return nil }
func (fakeDriver) Check(string, bool) error                  { return nil }
func (fakeDriver) Click(string) error                        { return nil }
func (fakeDriver) Wait(int) error                            { return nil }
func (fakeDriver) WaitFor(string, int) error                 { return nil }
func (fakeDriver) ScrollTo(string) error                     { return nil }
func (fakeDriver) FindAndClick(string, string) error         { return nil }
func (fakeDriver) Highlight(string) error                    { return nil }
func (fakeDriver) RemoveHighlight(string) error              { return nil }

type fakeSource struct {
	playbooks map[string]*playbook.Playbook
}

func (f *fakeSource) Local(id string) (*playbook.Playbook, error)     { return f.lookup(id) }
func (f *fakeSource) Best(brokerID string) (*playbook.Playbook, error) { return f.lookup(brokerID) }
func (f *fakeSource) ByID(id string) (*playbook.Playbook, error)      { return f.lookup(id) }

func (f *fakeSource) lookup(key string) (*playbook.Playbook, error) {
	pb, ok := f.playbooks[key]
	if !ok {
		return nil, errs.New(errs.KindConfiguration, "no playbook for "+key)
	}
	return pb, nil
}

type fakeReporter struct{}

func (fakeReporter) ReportOutcome(context.Context, string, playbook.PlaybookReport) {}

func localPlaybook(steps ...playbook.Step) *playbook.Playbook {
	return &playbook.Playbook{ID: "local-1", Status: "local", Steps: steps}
}

func clickStep(pos int) playbook.Step {
	sel := "#opt-out"
	return playbook.Step{Position: pos, Action: "click", Selector: &sel, Description: "click"}
}

func TestRunTwoBrokersOneMissingPlaybook(t *testing.T) {
	relistDays := 30
	brokerA := playbook.Broker{ID: "spokeo", Name: "Spokeo", OptOutURL: "https://spokeo.com", RelistDays: &relistDays}
	brokerB := playbook.Broker{ID: "whitepages", Name: "Whitepages", OptOutURL: "https://whitepages.com"}

	source := &fakeSource{playbooks: map[string]*playbook.Playbook{
		"spokeo": localPlaybook(clickStep(1)),
	}}

	hist := history.NewStore(t.TempDir())
	eng := runengine.New(fakeDriver{}, source, hist, fakeReporter{}, nil, "device-1", "1.0.0")

	runID := "run-1"
	require.NoError(t, eng.Start(context.Background(), runID, []runengine.BrokerRun{
		{Broker: brokerA, PlaybookSelection: "local:spokeo"},
		{Broker: brokerB, PlaybookSelection: "local:missing"},
	}, func(string) (string, bool) { return "", false }))

	var completion runengine.CompletionEvent
	select {
	case completion = <-eng.Completion:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}

	require.Equal(t, 2, completion.Total)
	require.Equal(t, 1, completion.Succeeded)
	require.Equal(t, 1, completion.Failed)

	records, err := hist.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byBroker := map[string]history.SubmissionRecord{}
	for _, r := range records {
		byBroker[r.BrokerID] = r
	}
	require.Equal(t, history.StatusSubmitted, byBroker["spokeo"].Status)
	require.NotNil(t, byBroker["spokeo"].NextCheckDate)
	require.WithinDuration(t, byBroker["spokeo"].SubmittedAt.Add(30*24*time.Hour), *byBroker["spokeo"].NextCheckDate, time.Second)
	require.Equal(t, history.StatusFailed, byBroker["whitepages"].Status)
}

func TestCancelDuringHumanWaitEndsRunFailedAfterContinue(t *testing.T) {
	broker := playbook.Broker{ID: "spokeo", Name: "Spokeo", OptOutURL: "https://spokeo.com"}
	source := &fakeSource{playbooks: map[string]*playbook.Playbook{
		"spokeo": localPlaybook(
			playbook.Step{Position: 1, Action: "captcha", Description: "solve it"},
			clickStep(2),
		),
	}}

	hist := history.NewStore(t.TempDir())
	eng := runengine.New(fakeDriver{}, source, hist, fakeReporter{}, nil, "device-1", "1.0.0")

	require.NoError(t, eng.Start(context.Background(), "run-2", []runengine.BrokerRun{
		{Broker: broker, PlaybookSelection: "local:spokeo"},
	}, func(string) (string, bool) { return "", false }))

	// Wait for the engine to suspend on the captcha step.
	var waiting runengine.ProgressEvent
	for {
		select {
		case ev := <-eng.Progress:
			if ev.Status == runengine.StatusWaitingForUser {
				waiting = ev
			}
		case <-time.After(5 * time.Second):
			t.Fatal("engine never reached WaitingForUser")
		}
		if waiting.Status == runengine.StatusWaitingForUser {
			break
		}
	}
	require.Equal(t, runengine.StatusWaitingForUser, eng.Status())

	require.NoError(t, eng.Cancel())
	require.NoError(t, eng.Continue())

	select {
	case completion := <-eng.Completion:
		require.Equal(t, 1, completion.Failed)
		require.Equal(t, 0, completion.Succeeded)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
	require.Equal(t, runengine.StatusFailed, eng.Status())
}

func TestStartFailsWhileAlreadyRunning(t *testing.T) {
	broker := playbook.Broker{ID: "spokeo", Name: "Spokeo", OptOutURL: "https://spokeo.com"}
	source := &fakeSource{playbooks: map[string]*playbook.Playbook{
		"spokeo": localPlaybook(playbook.Step{Position: 1, Action: "captcha", Description: "solve it"}),
	}}
	hist := history.NewStore(t.TempDir())
	eng := runengine.New(fakeDriver{}, source, hist, fakeReporter{}, nil, "device-1", "1.0.0")

	require.NoError(t, eng.Start(context.Background(), "run-3", []runengine.BrokerRun{
		{Broker: broker, PlaybookSelection: "local:spokeo"},
	}, func(string) (string, bool) { return "", false }))

	// Give the goroutine a moment to flip the status to Running.
	time.Sleep(50 * time.Millisecond)

	err := eng.Start(context.Background(), "run-4", nil, func(string) (string, bool) { return "", false })
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConcurrency))

	// Clean up: unblock the suspended run.
	require.NoError(t, eng.Continue())
	<-eng.Completion
}
