package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity runs the ledger consistency checks.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskAgeingRefresh re-buckets open subsidiary ledger records.
	TaskAgeingRefresh = "ledger:ageing_refresh"
)

const payloadDateLayout = "2006-01-02"

// AgeingRefreshPayload carries the as-of date for a refresh. An empty date means today.
type AgeingRefreshPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewGLIntegrityTask constructs the integrity check task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil, asynq.Queue(QueueDefault), asynq.Timeout(10*time.Minute))
}

// NewAgeingRefreshTask constructs an ageing refresh task for asOf. A zero asOf resolves at run time.
func NewAgeingRefreshTask(asOf time.Time) (*asynq.Task, error) {
	payload := AgeingRefreshPayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.UTC().Format(payloadDateLayout)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgeingRefresh, body, asynq.Queue(QueueDefault)), nil
}
