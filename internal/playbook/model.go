// Package playbook implements playbook validation (C4), signature
// verification (C5), and step translation (C7), plus the shared playbook
// and broker data model (spec.md §3).
package playbook

import "encoding/json"

// defaultWaitAfterMs is applied to a Step decoded from JSON that omits
// wait_after_ms, matching the original implementation's serde default.
const defaultWaitAfterMs = 500

// Step is one unit of work in a playbook.
type Step struct {
	Position     int     `json:"position"`
	Action       string  `json:"action"`
	Selector     *string `json:"selector,omitempty"`
	ProfileKey   *string `json:"profile_key,omitempty"`
	Value        *string `json:"value,omitempty"`
	Description  string  `json:"description"`
	Instructions *string `json:"instructions,omitempty"`
	WaitAfterMs  int     `json:"wait_after_ms"`
	Optional     bool    `json:"optional"`
}

// UnmarshalJSON applies the defaultWaitAfterMs default when the field is
// absent from the wire payload.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step
	aux := struct {
		WaitAfterMs *int `json:"wait_after_ms"`
		*alias
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.WaitAfterMs == nil {
		s.WaitAfterMs = defaultWaitAfterMs
	} else {
		s.WaitAfterMs = *aux.WaitAfterMs
	}
	return nil
}

// Playbook is an ordered sequence of steps that drive a browser through a
// broker's opt-out flow, plus its provenance and detached signature.
type Playbook struct {
	ID             string `json:"id"`
	BrokerID       string `json:"broker_id"`
	BrokerName     string `json:"broker_name"`
	Title          string `json:"title,omitempty"`
	Version        int    `json:"version"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	Steps          []Step `json:"steps"`
	Signature      string `json:"signature,omitempty"`
	Upvotes        int    `json:"upvotes"`
	Downvotes      int    `json:"downvotes"`
	SuccessCount   int    `json:"success_count"`
	FailureCount   int    `json:"failure_count"`
	CreatedAt      string `json:"created_at"`
}

// IsLocal reports whether this playbook is a local draft, exempt from
// signature verification.
func (p *Playbook) IsLocal() bool { return p.Status == "local" }

// PlaybookSummary is the trimmed projection sent to the UI's browse list;
// it omits steps and signature.
type PlaybookSummary struct {
	ID           string `json:"id"`
	BrokerID     string `json:"broker_id"`
	BrokerName   string `json:"broker_name"`
	Title        string `json:"title,omitempty"`
	Version      int    `json:"version"`
	Status       string `json:"status"`
	Upvotes      int    `json:"upvotes"`
	Downvotes    int    `json:"downvotes"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	CreatedAt    string `json:"created_at"`
}

// Broker is a data-broker website from which the user seeks removal.
type Broker struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	OptOutURL            string `json:"opt_out_url"`
	RequiresVerification bool   `json:"requires_verification,omitempty"`
	RelistDays           *int   `json:"relist_days,omitempty"`
}

// BrokerRegistry is a versioned list of Brokers. Two instances may exist at
// runtime (bundled and cached); internal/registry picks the one with the
// strictly greater version.
type BrokerRegistry struct {
	Version string   `json:"version"`
	Brokers []Broker `json:"brokers"`
}

// LocalPlaybook is a user-authored draft, mutable until promoted to a
// community submission.
type LocalPlaybook struct {
	Playbook
	UpdatedAt string `json:"updated_at"`
}

// LocalPlaybookFile is local_playbooks.json's shape, as LocalStore reads and
// writes it.
type LocalPlaybookFile struct {
	Playbooks []LocalPlaybook `json:"playbooks"`
}

// TrackedSubmission records a community submission pending moderator
// review, so the UI can show its status without re-querying the registry.
type TrackedSubmission struct {
	PlaybookID string `json:"playbook_id"`
	BrokerID   string `json:"broker_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	SubmittedAt string `json:"submitted_at"`
}

// SubmissionTrackerFile is submission_tracker.json's shape.
type SubmissionTrackerFile struct {
	Submissions []TrackedSubmission `json:"submissions"`
}

// Envelope wraps every registry API response.
type Envelope[T any] struct {
	Data T   `json:"data"`
	Meta any `json:"meta,omitempty"`
}

// PlaybookSubmission is the body of POST /playbooks.
type PlaybookSubmission struct {
	BrokerID string `json:"broker_id"`
	Title    string `json:"title,omitempty"`
	Steps    []Step `json:"steps"`
}

// PlaybookSubmitResponse is the envelope.data of POST /playbooks.
type PlaybookSubmitResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PlaybookReport is the body of POST /playbooks/{id}/report: the outcome of
// running a non-local playbook, reported without any PII.
type PlaybookReport struct {
	DeviceID       string `json:"device_id"`
	Outcome        string `json:"outcome"` // "success" | "failure"
	FailedPosition *int   `json:"failed_position,omitempty"`
	ErrorText      string `json:"error_text,omitempty"`
	AppVersion     string `json:"app_version"`
}

// PlaybookReportEntry is one entry of GET /playbooks/{id}/reports.
type PlaybookReportEntry struct {
	Outcome        string `json:"outcome"`
	FailedPosition *int   `json:"failed_position,omitempty"`
	ErrorText      string `json:"error_text,omitempty"`
	ReportedAt     string `json:"reported_at"`
}

// RegistryVersionResponse is the envelope.data of GET /registry/version.
type RegistryVersionResponse struct {
	Version string `json:"version"`
}

// ChangelogEntry is one entry of GET /changelog.
type ChangelogEntry struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
}
