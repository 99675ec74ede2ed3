package sweepstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitu-idm/dirsync/internal/db/dbtest"
)

func TestLoadSave(t *testing.T) {
	db := dbtest.Open(t)

	var s State
	require.NoError(t, s.Load(db))
	assert.Equal(t, State{}, s)

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s = State{LastUserID: 42, Rounds: 3, StartedAt: started}
	require.NoError(t, s.Save(db))

	var loaded State
	require.NoError(t, loaded.Load(db))
	assert.Equal(t, uint64(42), loaded.LastUserID)
	assert.Equal(t, 3, loaded.Rounds)
	assert.True(t, started.Equal(loaded.StartedAt))
}
