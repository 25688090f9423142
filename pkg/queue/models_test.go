package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

func TestGenerationJob_RoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	job := NewGenerationJob(scenario.GenerationRequest{
		PartyCode:  "ABCD",
		PlayerIDs:  []string{"p1", "p2"},
		Type:       scenario.TypeMystery,
		Difficulty: 4,
	}, now)
	job.Attempts = 2

	data, err := job.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, "ABCD", got.PartyCode())
	assert.Equal(t, []string{"p1", "p2"}, got.Request.PlayerIDs)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, now.Equal(got.EnqueuedAt))
}

func TestFromJSON_Rejects(t *testing.T) {
	for name, data := range map[string]string{
		"not json":   `job`,
		"missing id": `{"request": {"party_code": "ABCD"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromJSON([]byte(data))
			assert.Error(t, err)
		})
	}
}
