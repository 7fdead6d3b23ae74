package worker

// ChunkTask triggers processing of one bounded chunk of an import run.
// Epoch must match the job's current run_epoch or the consumer drops
// the task; a stop or restart bumps the epoch and thereby cancels any
// triggers still in flight.
type ChunkTask struct {
	JobID  string `json:"job_id"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	Epoch  int    `json:"epoch"`

	CorrelationID string `json:"correlation_id"`
}

// TickPayload is the periodic scheduler heartbeat. The consumer starts
// whichever jobs are due at Now.
type TickPayload struct {
	Now string `json:"now"`

	CorrelationID string `json:"correlation_id"`
}

// ChunkError attributes one failed record to its position in the feed.
type ChunkError struct {
	Row     int    `json:"row"`
	SKU     string `json:"sku,omitempty"`
	Message string `json:"message"`
}

// ChunkResult summarizes one processed chunk.
type ChunkResult struct {
	JobID          string       `json:"job_id"`
	Offset         int          `json:"offset"`
	Processed      int          `json:"processed"`
	TotalProcessed int          `json:"total_processed"`
	Created        int          `json:"created"`
	Updated        int          `json:"updated"`
	Skipped        int          `json:"skipped"`
	Errors         []ChunkError `json:"errors"`
	Completed      bool         `json:"completed"`
	// Locked means another worker holds the job; the task should be
	// retried, not dropped.
	Locked bool `json:"locked"`
	// Stopped means the trigger is stale or the job is no longer
	// running; the task is dropped without touching the job.
	Stopped bool `json:"stopped"`
}

// ChunkResultEvent reports the outcome of one processed chunk.
type ChunkResultEvent struct {
	JobID     string       `json:"job_id"`
	Offset    int          `json:"offset"`
	Processed int          `json:"processed"`
	Completed bool         `json:"completed"`
	Errors    []ChunkError `json:"errors,omitempty"`

	CorrelationID string `json:"correlation_id"`
}
