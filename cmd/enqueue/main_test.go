package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/consequence-engine/pkg/scenario"
)

func TestParseArgs(t *testing.T) {
	req, err := parseArgs([]string{"ABCD", "mystery", "4", "p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, "ABCD", req.PartyCode)
	assert.Equal(t, scenario.TypeMystery, req.Type)
	assert.Equal(t, 4, req.Difficulty)
	assert.Equal(t, []string{"p1", "p2"}, req.PlayerIDs)

	for _, bad := range []string{"0", "11", "hard"} {
		_, err := parseArgs([]string{"ABCD", "mystery", bad, "p1"})
		assert.Error(t, err, bad)
	}
}
