package playbook_test

import (
	"testing"

	"github.com/opt-outta/engine/internal/playbook"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func makeStep(action string) playbook.Step {
	return playbook.Step{
		Position:    1,
		Action:      action,
		Selector:    strPtr("#test"),
		Description: "Test step",
		WaitAfterMs: 500,
	}
}

func TestRejectsUnknownAction(t *testing.T) {
	s := makeStep("eval_js")
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsJavascriptURL(t *testing.T) {
	s := makeStep("navigate")
	s.Value = strPtr("javascript:alert(1)")
	s.Selector = nil
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsFileURL(t *testing.T) {
	s := makeStep("navigate")
	s.Value = strPtr("file:///etc/passwd")
	s.Selector = nil
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsDataURL(t *testing.T) {
	s := makeStep("navigate")
	s.Value = strPtr("data:text/html,<script>alert(1)</script>")
	s.Selector = nil
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestAllowsHTTPSURL(t *testing.T) {
	s := makeStep("navigate")
	s.Value = strPtr("https://example.com/opt-out")
	s.Selector = nil
	require.NoError(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsLocalhostURL(t *testing.T) {
	s := makeStep("navigate")
	s.Value = strPtr("http://localhost:8080/admin")
	s.Selector = nil
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsSelectorWithEventHandler(t *testing.T) {
	s := makeStep("click")
	s.Selector = strPtr(`[onerror="alert(1)"]`)
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsTooManySteps(t *testing.T) {
	steps := make([]playbook.Step, 0, 101)
	for i := 0; i < 101; i++ {
		s := makeStep("click")
		s.Position = i + 1
		steps = append(steps, s)
	}
	require.Error(t, playbook.ValidateSteps(steps))
}

func TestRejectsExcessiveWait(t *testing.T) {
	s := makeStep("click")
	s.WaitAfterMs = 60_000
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsUnknownProfileKey(t *testing.T) {
	s := makeStep("fill")
	s.ProfileKey = strPtr("ssn")
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestAllowsValidFill(t *testing.T) {
	s := makeStep("fill")
	s.ProfileKey = strPtr("firstName")
	require.NoError(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsScriptInValue(t *testing.T) {
	s := makeStep("select")
	s.Value = strPtr("<script>alert(1)</script>")
	require.Error(t, playbook.ValidateSteps([]playbook.Step{s}))
}

func TestRejectsEmptyStepList(t *testing.T) {
	require.Error(t, playbook.ValidateSteps(nil))
}
