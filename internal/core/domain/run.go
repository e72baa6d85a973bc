package domain

import "time"

type Stage string

const (
	StageFetching    Stage = "fetching"
	StageMerging     Stage = "merging"
	StagePersisting  Stage = "persisting"
	StageClassifying Stage = "classifying"
	StageDispatching Stage = "dispatching"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

type RunStatus string

const (
	RunStatusOK     RunStatus = "OK"
	RunStatusFailed RunStatus = "FAILED"
)

// ItemResult is what one pipeline instance reports back to the run.
type ItemResult struct {
	Identity    string
	Stage       Stage
	FailedAt    Stage
	Err         error
	Event       *NotificationEvent
	Delivery    Delivery
	DispatchErr error
}

func (r ItemResult) Updated() bool {
	return r.Stage == StageDone
}

type ItemFailure struct {
	Identity string `json:"identity"`
	Stage    Stage  `json:"stage"`
	Reason   string `json:"reason"`
}

type RunSummary struct {
	RunID            string        `json:"run_id"`
	Status           RunStatus     `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	UpdatedCount     int           `json:"updated_count"`
	Updated          []string      `json:"updated"`
	Failures         []ItemFailure `json:"failures"`
	Notified         int           `json:"notified"`
	DispatchFailures []ItemFailure `json:"dispatch_failures"`
}

// NewRunSummary folds per-item results into a summary. Results keep catalog
// order.
func NewRunSummary(runID string, startedAt time.Time, results []ItemResult) RunSummary {
	s := RunSummary{
		RunID:            runID,
		Status:           RunStatusOK,
		StartedAt:        startedAt,
		Updated:          []string{},
		Failures:         []ItemFailure{},
		DispatchFailures: []ItemFailure{},
	}
	for _, r := range results {
		if !r.Updated() {
			reason := "not processed"
			if r.Err != nil {
				reason = r.Err.Error()
			}
			s.Failures = append(s.Failures, ItemFailure{Identity: r.Identity, Stage: r.FailedAt, Reason: reason})
			continue
		}
		s.Updated = append(s.Updated, r.Identity)
		if r.Delivery == DeliverySent {
			s.Notified++
		}
		if r.DispatchErr != nil {
			s.DispatchFailures = append(s.DispatchFailures, ItemFailure{
				Identity: r.Identity,
				Stage:    StageDispatching,
				Reason:   r.DispatchErr.Error(),
			})
		}
	}
	s.UpdatedCount = len(s.Updated)
	return s
}
