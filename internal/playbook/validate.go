package playbook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opt-outta/engine/internal/errs"
)

const (
	maxSteps            = 100
	maxSelectorLen      = 500
	maxValueLen         = 2000
	maxDescriptionLen   = 500
	maxInstructionsLen  = 2000
	maxWaitMs           = 30_000
)

var allowedActions = map[string]struct{}{
	"navigate":       {},
	"fill":           {},
	"select":         {},
	"check":          {},
	"click":          {},
	"wait":           {},
	"wait_for":       {},
	"scroll_to":      {},
	"find_and_click": {},
	"captcha":        {},
	"user_prompt":    {},
	"done":           {},
}

var allowedProfileKeys = map[string]struct{}{
	"firstName": {},
	"lastName":  {},
	"email":     {},
	"phone":     {},
	"address":   {},
	"city":      {},
	"state":     {},
	"zip":       {},
	"dob":       {},
	"fullName":  {},
}

var blockedURLSchemes = []string{
	"javascript:", "data:", "file:", "blob:", "vbscript:", "about:", "chrome:", "chrome-extension:",
}

var blockedSelectorPatterns = []string{
	"javascript:", "<script", "onerror", "onload", "onclick", "onmouseover",
	"onfocus", "onblur", "onchange", "oninput", "onsubmit", "onkeydown",
	"onkeyup", "onkeypress", "onmousedown", "onmouseup", "ondblclick",
	"oncontextmenu", "expression(", "url(", "import(",
}

var actionsRequiringSelector = map[string]struct{}{
	"click": {}, "check": {}, "scroll_to": {}, "find_and_click": {}, "wait_for": {}, "fill": {}, "select": {},
}

// ValidationError carries the 1-based step position the check failed on.
type ValidationError struct {
	Position int
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %d: %s", e.Position, e.Msg)
}

func fail(position int, format string, args ...any) error {
	ve := &ValidationError{Position: position, Msg: fmt.Sprintf(format, args...)}
	return errs.Wrap(errs.KindValidation, ve.Error(), ve)
}

// ValidateSteps runs the purely structural checks of spec.md §4.4 over a
// full step sequence. No network access, no DOM.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errs.New(errs.KindValidation, "playbook must have at least one step")
	}
	if len(steps) > maxSteps {
		return errs.New(errs.KindValidation, fmt.Sprintf("playbook has %d steps, maximum allowed is %d", len(steps), maxSteps))
	}
	for i := range steps {
		if err := validateStep(&steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Step) error {
	pos := s.Position

	if _, ok := allowedActions[s.Action]; !ok {
		return fail(pos, "unknown action %q", s.Action)
	}

	if s.Selector != nil {
		if err := validateSelector(*s.Selector, pos); err != nil {
			return err
		}
	}
	if s.Value != nil {
		if err := validateValue(*s.Value, s.Action, pos); err != nil {
			return err
		}
	}
	if len(s.Description) > maxDescriptionLen {
		return fail(pos, "description too long (%d chars, max %d)", len(s.Description), maxDescriptionLen)
	}
	if s.Instructions != nil && len(*s.Instructions) > maxInstructionsLen {
		return fail(pos, "instructions too long (%d chars, max %d)", len(*s.Instructions), maxInstructionsLen)
	}
	if s.ProfileKey != nil {
		if _, ok := allowedProfileKeys[*s.ProfileKey]; !ok {
			return fail(pos, "unknown profile key %q", *s.ProfileKey)
		}
	}
	if s.WaitAfterMs > maxWaitMs {
		return fail(pos, "wait_after_ms is %d ms, maximum allowed is %d ms", s.WaitAfterMs, maxWaitMs)
	}

	switch s.Action {
	case "navigate":
		return validateNavigate(s, pos)
	case "wait":
		return validateWait(s, pos)
	default:
		if _, ok := actionsRequiringSelector[s.Action]; ok {
			return validateRequiresSelector(s, pos)
		}
		// captcha, user_prompt, done — no extra validation needed.
		return nil
	}
}

func validateSelector(sel string, pos int) error {
	if sel == "" {
		return fail(pos, "selector is empty")
	}
	if len(sel) > maxSelectorLen {
		return fail(pos, "selector too long (%d chars, max %d)", len(sel), maxSelectorLen)
	}
	lower := strings.ToLower(sel)
	for _, pattern := range blockedSelectorPatterns {
		if strings.Contains(lower, pattern) {
			return fail(pos, "selector contains blocked pattern %q", pattern)
		}
	}
	return nil
}

func validateValue(val, action string, pos int) error {
	if len(val) > maxValueLen {
		return fail(pos, "value too long (%d chars, max %d)", len(val), maxValueLen)
	}
	if action == "navigate" {
		return nil
	}
	lower := strings.ToLower(val)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return fail(pos, "value contains blocked content")
	}
	return nil
}

func validateNavigate(s *Step, pos int) error {
	if s.Value == nil {
		return fail(pos, "navigate step requires a URL value")
	}
	url := *s.Value
	if url == "" {
		return fail(pos, "navigate URL is empty")
	}
	lower := strings.ToLower(strings.TrimSpace(url))

	for _, scheme := range blockedURLSchemes {
		if strings.HasPrefix(lower, scheme) {
			return fail(pos, "navigate URL uses blocked scheme %q; only http:// and https:// are allowed", scheme)
		}
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return fail(pos, "navigate URL must start with http:// or https://")
	}

	var afterScheme string
	if strings.HasPrefix(lower, "https://") {
		afterScheme = lower[len("https://"):]
	} else {
		afterScheme = lower[len("http://"):]
	}
	host := afterScheme
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	hostNoPort := host
	if idx := strings.IndexByte(hostNoPort, ':'); idx >= 0 {
		hostNoPort = hostNoPort[:idx]
	}

	if hostNoPort == "localhost" ||
		hostNoPort == "127.0.0.1" ||
		hostNoPort == "0.0.0.0" ||
		hostNoPort == "[::1]" ||
		strings.HasPrefix(hostNoPort, "192.168.") ||
		strings.HasPrefix(hostNoPort, "10.") ||
		strings.HasPrefix(hostNoPort, "172.16.") ||
		strings.HasSuffix(hostNoPort, ".local") {
		return fail(pos, "navigate URL points to a local/internal address, which is not allowed")
	}
	return nil
}

func validateRequiresSelector(s *Step, pos int) error {
	if s.Selector == nil || *s.Selector == "" {
		return fail(pos, "%q step requires a selector", s.Action)
	}
	return nil
}

func validateWait(s *Step, pos int) error {
	if s.Value == nil {
		return nil
	}
	ms, err := strconv.ParseUint(*s.Value, 10, 64)
	if err != nil {
		return nil
	}
	if ms > maxWaitMs {
		return fail(pos, "wait value is %d ms, maximum allowed is %d ms", ms, maxWaitMs)
	}
	return nil
}
