package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthmetrix/recontact-service/internal/database"
)

func TestSelectAction(t *testing.T) {
	tests := []struct {
		name  string
		flags actionFlags
		want  string
	}{
		{"up", actionFlags{up: true, force: -1}, "up"},
		{"down", actionFlags{down: true, force: -1}, "down"},
		{"steps forward", actionFlags{steps: 2, force: -1}, "steps 2"},
		{"steps back", actionFlags{steps: -1, force: -1}, "steps -1"},
		{"status", actionFlags{status: true, force: -1}, "status"},
		{"force zero", actionFlags{force: 0}, "force 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectAction(tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.name)
			assert.NotNil(t, got.run)
		})
	}
}

func TestSelectAction_StatusRunsNothing(t *testing.T) {
	got, err := selectAction(actionFlags{status: true, force: -1})
	require.NoError(t, err)
	assert.NoError(t, got.run((*database.Migrator)(nil)))
}

func TestSelectAction_Errors(t *testing.T) {
	_, err := selectAction(actionFlags{force: -1})
	assert.ErrorIs(t, err, errNoAction)

	_, err = selectAction(actionFlags{up: true, status: true, force: -1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNoAction)
	assert.Contains(t, err.Error(), "only one action")
}
