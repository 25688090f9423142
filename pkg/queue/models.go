package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

// GenerationJob is a queued request to generate a scenario for a party
type GenerationJob struct {
	JobID      string                     `json:"job_id"`
	Request    scenario.GenerationRequest `json:"request"`
	Attempts   int                        `json:"attempts"`
	EnqueuedAt time.Time                  `json:"enqueued_at"`
}

// NewGenerationJob wraps a request with a fresh job ID
func NewGenerationJob(req scenario.GenerationRequest, now time.Time) *GenerationJob {
	return &GenerationJob{
		JobID:      uuid.NewString(),
		Request:    req,
		EnqueuedAt: now,
	}
}

// PartyCode is the party the job generates for
func (j *GenerationJob) PartyCode() string {
	return j.Request.PartyCode
}

// ToJSON converts the job to JSON bytes for Redis
func (j *GenerationJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON parses a job from JSON bytes
func FromJSON(data []byte) (*GenerationJob, error) {
	var job GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, errors.New("generation job has no job_id")
	}
	return &job, nil
}
