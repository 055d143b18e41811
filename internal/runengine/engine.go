// Package runengine implements the per-broker run state machine: the
// engine that drives a set of brokers through their playbooks, suspending
// for human acknowledgement on CAPTCHA/manual steps and recording outcomes
// (spec.md §4.8, component C8).
package runengine

import (
	"context"
	"sync"
	"time"

	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/history"
	"github.com/opt-outta/engine/internal/metrics"
	"github.com/opt-outta/engine/internal/playbook"
)

// Status is the run state machine's current state:
// Idle -> Running -> (WaitingForUser <-> Running)* -> {Completed | Failed}.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusWaitingForUser Status = "waiting_for_user"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// ActionRequired describes why the engine is WaitingForUser.
type ActionRequired struct {
	Kind        playbook.ActionKind
	Selector    string
	Description string
}

// ProgressEvent is emitted on every state transition within a run.
type ProgressEvent struct {
	RunID             string
	BrokerID          string
	BrokerName        string
	Status            Status
	CurrentStep       int
	BrokersCompleted  int
	BrokersTotal      int
	ActionRequired    *ActionRequired
	Error             string
}

// CompletionEvent is emitted once, after every broker has been processed.
type CompletionEvent struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
}

// BrowserDriver is the subset of internal/browser.Driver the run engine
// dispatches automatic FormActions onto.
type BrowserDriver interface {
	NavigatePage(url string) error
	Fill(selector, value string) error
	Select(selector, value string) error
	Check(selector string, checked bool) error
	Click(selector string) error
	Wait(ms int) error
	WaitFor(selector string, timeoutMs int) error
	ScrollTo(selector string) error
	FindAndClick(selector, value string) error
	Highlight(selector string) error
	RemoveHighlight(selector string) error
}

// PlaybookSource resolves a broker's playbook selection string, per
// spec.md §4.8 step 3: "local:<id>" loads a draft, "best" fetches the
// top-ranked approved playbook, anything else is fetched by id.
type PlaybookSource interface {
	Local(id string) (*playbook.Playbook, error)
	Best(brokerID string) (*playbook.Playbook, error)
	ByID(id string) (*playbook.Playbook, error)
}

// OutcomeReporter fire-and-forget reports a non-local playbook's run
// outcome to the registry; failures are swallowed by the caller.
type OutcomeReporter interface {
	ReportOutcome(ctx context.Context, playbookID string, report playbook.PlaybookReport)
}

// ProfileResolver resolves a profile_key (optionally a combine: transform)
// to a PII string.
type ProfileResolver func(key string) (string, bool)

// BrokerRun is one broker selected for this run, with its chosen playbook.
type BrokerRun struct {
	Broker            playbook.Broker
	PlaybookSelection string // "local:<id>" | "best" | a specific playbook id
}

// Engine is the single per-process run coordinator. At most one Engine may
// be Running or WaitingForUser at any instant (spec.md §3 invariant); this
// is enforced per-instance, and callers are expected to hold a single
// shared Engine for the whole process (spec.md §9's "global engine slot"
// design note).
type Engine struct {
	driver   BrowserDriver
	source   PlaybookSource
	history  *history.Store
	reporter OutcomeReporter
	verifier *playbook.Verifier

	deviceID   string
	appVersion string
	metrics    *metrics.Metrics

	Progress   chan ProgressEvent
	Completion chan CompletionEvent

	mu         sync.Mutex
	status     Status
	runID      string
	cancelCh   chan struct{}
	cancelOnce sync.Once

	ackMu sync.Mutex
	ackCh chan struct{}
}

// New builds an idle Engine.
func New(driver BrowserDriver, source PlaybookSource, hist *history.Store, reporter OutcomeReporter, verifier *playbook.Verifier, deviceID, appVersion string) *Engine {
	return &Engine{
		driver:     driver,
		source:     source,
		history:    hist,
		reporter:   reporter,
		verifier:   verifier,
		deviceID:   deviceID,
		appVersion: appVersion,
		metrics:    metrics.Default(),
		Progress:   make(chan ProgressEvent, 64),
		Completion: make(chan CompletionEvent, 1),
		status:     StatusIdle,
	}
}

// Status returns the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Start launches a run over brokers in the given order. It fails fast with
// a Concurrency error if a run is already Running or WaitingForUser.
// Per-broker processing happens on a background goroutine; progress and
// completion are observed via e.Progress / e.Completion.
func (e *Engine) Start(ctx context.Context, runID string, brokers []BrokerRun, resolveProfile ProfileResolver) error {
	e.mu.Lock()
	if e.status == StatusRunning || e.status == StatusWaitingForUser {
		e.mu.Unlock()
		return errs.New(errs.KindConcurrency, "run already in progress")
	}
	e.status = StatusRunning
	e.runID = runID
	e.cancelCh = make(chan struct{})
	e.cancelOnce = sync.Once{}
	e.mu.Unlock()

	go e.run(ctx, runID, brokers, resolveProfile)
	return nil
}

// Cancel requests that the active run stop at its next cancellation
// checkpoint (spec.md §5: it does not interrupt an in-flight browser
// action, HTTP call, or human-action wait).
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning && e.status != StatusWaitingForUser {
		return errs.New(errs.KindConcurrency, "no run in progress to cancel")
	}
	e.cancelOnce.Do(func() { close(e.cancelCh) })
	return nil
}

// Continue signals the single-shot human-acknowledgement channel, resuming
// a run suspended in WaitingForUser.
func (e *Engine) Continue() error {
	e.ackMu.Lock()
	ch := e.ackCh
	e.ackCh = nil
	e.ackMu.Unlock()
	if ch == nil {
		return errs.New(errs.KindConcurrency, "no step is waiting for user acknowledgement")
	}
	close(ch)
	return nil
}

func (e *Engine) cancelled() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) emit(ev ProgressEvent) {
	ev.RunID = e.runID
	select {
	case e.Progress <- ev:
	default:
	}
}

func (e *Engine) run(ctx context.Context, runID string, brokers []BrokerRun, resolveProfile ProfileResolver) {
	total := len(brokers)
	succeeded, failed := 0, 0

	for i, br := range brokers {
		if e.cancelled() {
			e.emit(ProgressEvent{BrokerID: br.Broker.ID, BrokerName: br.Broker.Name, Status: StatusFailed, BrokersCompleted: i, BrokersTotal: total, Error: "run cancelled"})
			failed += total - i
			break
		}

		if e.runOneBroker(ctx, br, i, total, resolveProfile) {
			succeeded++
		} else {
			failed++
		}
	}

	finalStatus := StatusCompleted
	if e.cancelled() {
		finalStatus = StatusFailed
	}
	e.setStatus(finalStatus)
	e.metrics.RunsTotal.WithLabelValues(string(finalStatus)).Inc()
	e.Completion <- CompletionEvent{RunID: runID, Total: total, Succeeded: succeeded, Failed: failed}
}

// runOneBroker executes spec.md §4.8 steps 2-7 for a single broker. It
// returns true on success.
func (e *Engine) runOneBroker(ctx context.Context, br BrokerRun, index, total int, resolveProfile ProfileResolver) bool {
	broker := br.Broker
	e.setStatus(StatusRunning)
	e.emit(ProgressEvent{BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusRunning, BrokersCompleted: index, BrokersTotal: total})

	if err := e.driver.NavigatePage(broker.OptOutURL); err != nil {
		e.recordFailure(broker.ID, "", 0, err.Error())
		e.emit(ProgressEvent{BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusFailed, BrokersCompleted: index, BrokersTotal: total, Error: err.Error()})
		return false
	}

	pb, err := e.resolvePlaybook(br)
	if err != nil {
		e.recordFailure(broker.ID, "", 0, err.Error())
		e.emit(ProgressEvent{BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusFailed, BrokersCompleted: index, BrokersTotal: total, Error: err.Error()})
		return false
	}

	if !pb.IsLocal() {
		if err := e.verifier.Verify(pb); err != nil {
			e.recordFailure(broker.ID, pb.ID, 0, err.Error())
			e.reportOutcome(ctx, pb, false, 0, err.Error())
			e.emit(ProgressEvent{BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusFailed, BrokersCompleted: index, BrokersTotal: total, Error: err.Error()})
			return false
		}
	}
	if err := playbook.ValidateSteps(pb.Steps); err != nil {
		e.recordFailure(broker.ID, pb.ID, 0, err.Error())
		e.reportOutcome(ctx, pb, false, 0, err.Error())
		e.emit(ProgressEvent{BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusFailed, BrokersCompleted: index, BrokersTotal: total, Error: err.Error()})
		return false
	}

	failPos, failErr := e.runSteps(ctx, broker, pb, index, total, resolveProfile)
	if failErr != "" {
		e.recordFailure(broker.ID, pb.ID, failPos, failErr)
		e.reportOutcome(ctx, pb, false, failPos, failErr)
		e.emit(ProgressEvent{BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusFailed, BrokersCompleted: index, BrokersTotal: total, Error: failErr})
		return false
	}

	e.recordSuccess(broker, pb.ID)
	e.reportOutcome(ctx, pb, true, 0, "")
	return true
}

func (e *Engine) resolvePlaybook(br BrokerRun) (*playbook.Playbook, error) {
	switch {
	case br.PlaybookSelection == "":
		return nil, errs.New(errs.KindConfiguration, "no playbook selected for broker "+br.Broker.ID)
	case br.PlaybookSelection == "best":
		return e.source.Best(br.Broker.ID)
	case len(br.PlaybookSelection) > len("local:") && br.PlaybookSelection[:len("local:")] == "local:":
		return e.source.Local(br.PlaybookSelection[len("local:"):])
	default:
		return e.source.ByID(br.PlaybookSelection)
	}
}

// runSteps dispatches every step in order, suspending for human directives.
// It returns the failing step's position and error text, or (0, "") on
// success.
func (e *Engine) runSteps(ctx context.Context, broker playbook.Broker, pb *playbook.Playbook, brokerIndex, brokersTotal int, resolveProfile ProfileResolver) (int, string) {
	for _, step := range pb.Steps {
		if e.cancelled() {
			return step.Position, "run cancelled"
		}

		action, ok := playbook.ToFormAction(step)
		if !ok {
			continue
		}

		var dispatchErr error
		if action.IsHumanDirective() {
			dispatchErr = e.suspendForUser(broker, action, step, brokerIndex, brokersTotal)
		} else {
			start := time.Now()
			dispatchErr = e.dispatchAutomatic(action, resolveProfile)
			e.metrics.StepDurationSeconds.Observe(time.Since(start).Seconds())
		}

		if dispatchErr != nil && !step.Optional {
			return step.Position, dispatchErr.Error()
		}

		if err := e.driver.Wait(step.WaitAfterMs); err != nil {
			return step.Position, err.Error()
		}
	}
	return 0, ""
}

func (e *Engine) suspendForUser(broker playbook.Broker, action *playbook.FormAction, step playbook.Step, brokerIndex, brokersTotal int) error {
	if action.Kind == playbook.ActionManualFill {
		_ = e.driver.Highlight(action.Selector)
	}

	e.ackMu.Lock()
	ack := make(chan struct{})
	e.ackCh = ack
	e.ackMu.Unlock()

	e.setStatus(StatusWaitingForUser)
	e.emit(ProgressEvent{
		BrokerID: broker.ID, BrokerName: broker.Name, Status: StatusWaitingForUser,
		CurrentStep: step.Position, BrokersCompleted: brokerIndex, BrokersTotal: brokersTotal,
		ActionRequired: &ActionRequired{Kind: action.Kind, Selector: action.Selector, Description: action.Description},
	})

	<-ack // per spec.md §5, this wait is not itself cancellable

	if action.Kind == playbook.ActionManualFill {
		_ = e.driver.RemoveHighlight(action.Selector)
	}
	e.setStatus(StatusRunning)
	return nil
}

func (e *Engine) dispatchAutomatic(action *playbook.FormAction, resolveProfile ProfileResolver) error {
	switch action.Kind {
	case playbook.ActionNavigate:
		return e.driver.NavigatePage(action.Value)
	case playbook.ActionFill:
		value, _ := resolveProfile(action.ProfileKey)
		return e.driver.Fill(action.Selector, value)
	case playbook.ActionSelect:
		value := action.Value
		if value == "" && action.ProfileKey != "" {
			if resolved, ok := resolveProfile(action.ProfileKey); ok {
				value = resolved
			}
		}
		return e.driver.Select(action.Selector, value)
	case playbook.ActionCheck:
		return e.driver.Check(action.Selector, action.Value != "false")
	case playbook.ActionClick:
		return e.driver.Click(action.Selector)
	case playbook.ActionWait:
		return e.driver.Wait(action.WaitMs)
	case playbook.ActionWaitFor:
		return e.driver.WaitFor(action.Selector, action.TimeoutMs)
	case playbook.ActionScrollTo:
		return e.driver.ScrollTo(action.Selector)
	case playbook.ActionFindAndClick:
		value, _ := resolveProfile(action.ProfileKey)
		return e.driver.FindAndClick(action.Selector, value)
	case playbook.ActionDone:
		return nil
	default:
		return nil
	}
}

func (e *Engine) recordSuccess(broker playbook.Broker, playbookID string) {
	now := time.Now()
	status := history.StatusSubmitted
	if broker.RequiresVerification {
		status = history.StatusPendingVerification
	}
	rec := history.SubmissionRecord{
		ID:          history.NewID(),
		BrokerID:    broker.ID,
		Status:      status,
		SubmittedAt: now,
		RunID:       e.runID,
	}
	if broker.RelistDays != nil {
		due := history.NextCheckDate(now, *broker.RelistDays)
		rec.NextCheckDate = &due
	}
	_ = e.history.Upsert(rec)
	_ = playbookID
	e.metrics.BrokerSubmissionsTotal.WithLabelValues(string(status)).Inc()
}

func (e *Engine) recordFailure(brokerID, playbookID string, failedPosition int, errText string) {
	rec := history.SubmissionRecord{
		ID:           history.NewID(),
		BrokerID:     brokerID,
		Status:       history.StatusFailed,
		SubmittedAt:  time.Now(),
		ErrorMessage: errText,
		RunID:        e.runID,
	}
	_ = e.history.Upsert(rec)
	_ = playbookID
	_ = failedPosition
	e.metrics.BrokerSubmissionsTotal.WithLabelValues(string(history.StatusFailed)).Inc()
}

func (e *Engine) reportOutcome(ctx context.Context, pb *playbook.Playbook, success bool, failedPosition int, errText string) {
	if pb.IsLocal() || e.reporter == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	report := playbook.PlaybookReport{
		DeviceID:   e.deviceID,
		Outcome:    outcome,
		AppVersion: e.appVersion,
	}
	if !success {
		report.ErrorText = errText
		if failedPosition > 0 {
			p := failedPosition
			report.FailedPosition = &p
		}
	}
	go e.reporter.ReportOutcome(ctx, pb.ID, report)
}
