package playbook

// ActionKind distinguishes the FormAction variants the executor and the
// run engine's human-acknowledgement protocol understand (spec.md §3).
type ActionKind string

const (
	ActionFill         ActionKind = "fill"
	ActionSelect       ActionKind = "select"
	ActionCheck        ActionKind = "check"
	ActionClick        ActionKind = "click"
	ActionWait         ActionKind = "wait"
	ActionNavigate     ActionKind = "navigate"
	ActionWaitFor      ActionKind = "wait_for"
	ActionScrollTo     ActionKind = "scroll_to"
	ActionFindAndClick ActionKind = "find_and_click"
	ActionCaptcha      ActionKind = "captcha"
	ActionUserPrompt   ActionKind = "user_prompt"
	ActionManualFill   ActionKind = "manual_fill"
	ActionManualSelect ActionKind = "manual_select"
	ActionDone         ActionKind = "done"
	ActionError        ActionKind = "error"
)

const defaultWaitForTimeoutMs = 10_000

// FormAction is the translated directive a Step turns into: either an
// automatic browser action the driver can execute unattended, or a
// human-interaction directive the run engine must suspend for.
type FormAction struct {
	Kind        ActionKind
	Selector    string
	Value       string
	ProfileKey  string
	Transform   string
	WaitMs      int
	TimeoutMs   int
	Description string
}

// IsHumanDirective reports whether this action requires suspending the run
// for a human acknowledgement (spec.md §4.8 step 5c).
func (a *FormAction) IsHumanDirective() bool {
	switch a.Kind {
	case ActionCaptcha, ActionUserPrompt, ActionManualFill, ActionManualSelect:
		return true
	default:
		return false
	}
}

// ToFormAction maps a playbook Step to the FormAction the run engine
// dispatches (spec.md §4.7, component C7). The second return value is false
// for unknown actions, which the caller skips.
func ToFormAction(s Step) (*FormAction, bool) {
	switch s.Action {
	case "navigate":
		return &FormAction{Kind: ActionNavigate, Value: valueOf(s.Value)}, true

	case "fill":
		if s.ProfileKey != nil && *s.ProfileKey != "" {
			return &FormAction{
				Kind:       ActionFill,
				Selector:   valueOf(s.Selector),
				ProfileKey: *s.ProfileKey,
			}, true
		}
		return &FormAction{
			Kind:        ActionManualFill,
			Selector:    valueOf(s.Selector),
			Description: s.Description,
		}, true

	case "select":
		value := ""
		switch {
		case s.Value != nil:
			value = *s.Value
		case s.ProfileKey != nil:
			value = *s.ProfileKey
		}
		return &FormAction{Kind: ActionSelect, Selector: valueOf(s.Selector), Value: value, ProfileKey: valueOf(s.ProfileKey)}, true

	case "check":
		return &FormAction{
			Kind:     ActionCheck,
			Selector: valueOf(s.Selector),
			Value:    boolString(valueOf(s.Value) != "false"),
		}, true

	case "click":
		return &FormAction{Kind: ActionClick, Selector: valueOf(s.Selector)}, true

	case "wait":
		return &FormAction{Kind: ActionWait, WaitMs: s.WaitAfterMs}, true

	case "wait_for":
		return &FormAction{Kind: ActionWaitFor, Selector: valueOf(s.Selector), TimeoutMs: defaultWaitForTimeoutMs}, true

	case "scroll_to":
		return &FormAction{Kind: ActionScrollTo, Selector: valueOf(s.Selector)}, true

	case "find_and_click":
		return &FormAction{Kind: ActionFindAndClick, Selector: valueOf(s.Selector), ProfileKey: valueOf(s.ProfileKey)}, true

	case "captcha":
		return &FormAction{Kind: ActionCaptcha, Description: s.Description}, true

	case "user_prompt":
		return &FormAction{Kind: ActionUserPrompt, Description: s.Description}, true

	case "done":
		return &FormAction{Kind: ActionDone}, true

	default:
		return nil, false
	}
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
