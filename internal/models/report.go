package models

import "time"

// RunState is a stage of an ingestion run.
type RunState string

const (
	StateStart       RunState = "start"
	StateCollecting  RunState = "collecting"
	StateDeduping    RunState = "deduping"
	StateSummarizing RunState = "summarizing"
	StateMerging     RunState = "merging"
	StatePublishing  RunState = "publishing"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
)

// RunStatus is the final verdict of an ingestion run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunDegraded  RunStatus = "degraded"
	RunFailed    RunStatus = "failed"
)

type ChunkOutcome string

const (
	ChunkOK        ChunkOutcome = "ok"
	ChunkDegraded  ChunkOutcome = "degraded"
	ChunkCancelled ChunkOutcome = "cancelled"
)

type FeedStatus struct {
	ItemsFetched int    `json:"items_fetched"`
	Error        string `json:"error,omitempty"`
}

type ChunkReport struct {
	Index    int          `json:"index"`
	Size     int          `json:"size"`
	Attempts int          `json:"attempts"`
	Outcome  ChunkOutcome `json:"outcome"`
	Error    string       `json:"error,omitempty"`
}

// RunReport describes one ingestion run. It is returned to the caller and
// never persisted.
type RunReport struct {
	RunID             string                `json:"run_id"`
	Date              string                `json:"date"`
	State             RunState              `json:"state"`
	Status            RunStatus             `json:"status"`
	Feeds             map[string]FeedStatus `json:"feeds"`
	Chunks            []ChunkReport         `json:"chunks"`
	ItemsCollected    int                   `json:"items_collected"`
	ItemsNovel        int                   `json:"items_novel"`
	ItemsPublished    int                   `json:"items_published"`
	NarrativeDegraded bool                  `json:"narrative_degraded"`
	ConflictRetries   int                   `json:"conflict_retries"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
	Error             string                `json:"error,omitempty"`
}

// Degraded reports whether any feed, chunk or the narrative fell short.
func (r *RunReport) Degraded() bool {
	if r.NarrativeDegraded {
		return true
	}
	for _, f := range r.Feeds {
		if f.Error != "" {
			return true
		}
	}
	for _, c := range r.Chunks {
		if c.Outcome != ChunkOK {
			return true
		}
	}
	return false
}

// Finish stamps the report with its terminal state and status.
func (r *RunReport) Finish(state RunState, err error, now time.Time) {
	r.State = state
	r.FinishedAt = now
	switch {
	case state == StateFailed:
		r.Status = RunFailed
		if err != nil {
			r.Error = err.Error()
		}
	case r.Degraded():
		r.Status = RunDegraded
	default:
		r.Status = RunSucceeded
	}
}
