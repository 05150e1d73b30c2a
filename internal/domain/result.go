package domain

import "time"

// ItemStatus is the terminal outcome of one identifier's workflow.
type ItemStatus string

const (
	ItemStatusSuccess ItemStatus = "SUCCESS"
	ItemStatusFailed  ItemStatus = "FAILED"
	ItemStatusError   ItemStatus = "ERROR"
	ItemStatusPartial ItemStatus = "PARTIAL"
)

// ExtractedRecord holds the fields recovered from a search result page.
// Any subset of fields may be present.
type ExtractedRecord struct {
	Name       string `json:"name,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// IsEmpty reports whether no field was extracted from the page.
// Identifier is stamped by the workflow and does not count.
func (r ExtractedRecord) IsEmpty() bool {
	return r.Name == "" && r.NationalID == "" && r.BirthDate == ""
}

// SecondaryOutcome classifies the response of the second portal.
type SecondaryOutcome string

const (
	SecondaryRedirected SecondaryOutcome = "REDIRECTED_TO_ALTERNATE_FLOW"
	SecondarySuccess    SecondaryOutcome = "SUCCESS"
	SecondaryProcessed  SecondaryOutcome = "PROCESSED_NO_CONFIRMATION"
	SecondaryUnknown    SecondaryOutcome = "UNKNOWN"
)

// SecondaryResult is attached to a successful item; it never changes the item status.
type SecondaryResult struct {
	Outcome SecondaryOutcome `json:"outcome"`
	URL     string           `json:"url,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

// ItemResult is the append-only outcome for one identifier within a task.
type ItemResult struct {
	TaskID     string           `json:"task_id,omitempty"`
	Identifier string           `json:"identifier"`
	Status     ItemStatus       `json:"status"`
	Record     *ExtractedRecord `json:"record,omitempty"`
	Detail     string           `json:"detail"`
	Secondary  *SecondaryResult `json:"secondary,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	Attempt    int              `json:"attempt"`
}

// Clone copies the result including its optional parts.
func (r ItemResult) Clone() ItemResult {
	if r.Record != nil {
		rec := *r.Record
		r.Record = &rec
	}
	if r.Secondary != nil {
		sec := *r.Secondary
		r.Secondary = &sec
	}
	return r
}

// JobStatus tracks a vendor-side challenge job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "PENDING"
	JobStatusSolved   JobStatus = "SOLVED"
	JobStatusFailed   JobStatus = "FAILED"
	JobStatusTimedOut JobStatus = "TIMED_OUT"
)

// ChallengeJob is a challenge submitted to the solving vendor.
// It lives only until it is solved, fails, or runs out of polls.
type ChallengeJob struct {
	ID          string
	SubmittedAt time.Time
	Status      JobStatus
	Text        string
}
