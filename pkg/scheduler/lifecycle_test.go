package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
)

func testLifecycle(t *testing.T) (*Lifecycle, *data.MemoryRepository) {
	t.Helper()
	repo := data.NewMemoryRepository()
	cfg := &config.SchedConfig{
		SweepSchedule: "0 * * * * *",
		SweepTimeout:  45 * time.Second,
		PreviewHours:  24,
	}
	return NewLifecycle(repo, cfg, 30*time.Minute, zaptest.NewLogger(t)), repo
}

// seedElection stores a draft election with the given window, flags, and
// candidate count, then optionally transitions it to active.
func seedElection(t *testing.T, repo *data.MemoryRepository, start, end time.Time, autoStart, autoEnd bool, candidates int, activate bool) *data.Election {
	t.Helper()
	ctx := context.Background()

	election, err := data.NewElection("Test Election", "desc", "council", start, end)
	require.NoError(t, err)
	election.AutoStart = autoStart
	election.AutoEnd = autoEnd
	require.NoError(t, repo.SaveElection(ctx, election))

	for i := 0; i < candidates; i++ {
		candidate, err := data.NewCandidate(election.ID, "Candidate", i+1)
		require.NoError(t, err)
		require.NoError(t, repo.SaveCandidate(ctx, candidate))
	}

	if activate {
		changed, err := repo.TransitionElectionStatus(ctx, election.ID,
			data.ElectionStatusDraft, data.ElectionStatusActive)
		require.NoError(t, err)
		require.True(t, changed)
	}
	return election
}

func TestRunScheduledTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("StartsDueElection", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), true, true, 2, false)

		report := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 1, report.Started)
		assert.Empty(t, report.Errors)

		got, err := repo.GetElection(ctx, election.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElectionStatusActive, got.Status)

		entries := repo.AuditByAction(data.AuditElectionAutoStarted)
		require.Len(t, entries, 1)
		assert.Equal(t, election.ID, entries[0].ElectionID)
		assert.Equal(t, false, entries[0].Details["forced"])
	})

	t.Run("SweepIsIdempotent", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), true, true, 2, false)

		first := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 1, first.Started)

		second := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 0, second.Started)
		assert.Len(t, repo.AuditByAction(data.AuditElectionAutoStarted), 1)
	})

	t.Run("SkipsUnderPopulatedElection", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), true, true, 1, false)

		report := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 0, report.Started)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "at least 2 candidates")

		got, err := repo.GetElection(ctx, election.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElectionStatusDraft, got.Status)
	})

	t.Run("IgnoresManualElections", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), false, false, 2, false)

		report := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 0, report.Started)
	})

	t.Run("IgnoresFutureElections", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		seedElection(t, repo, now.Add(time.Hour), now.Add(2*time.Hour), true, true, 2, false)

		report := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 0, report.Started)
	})

	t.Run("CompletesDueElection", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(-2*time.Hour), now.Add(-time.Hour), true, true, 2, true)

		report := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 1, report.Completed)

		got, err := repo.GetElection(ctx, election.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElectionStatusCompleted, got.Status)
		assert.Len(t, repo.AuditByAction(data.AuditElectionAutoCompleted), 1)
	})

	t.Run("ExpiresStaleSessions", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)

		stale, err := data.NewVotingSession("hash-stale", "10.0.0.1", "agent")
		require.NoError(t, err)
		stale.LastActivity = now.Add(-time.Hour)
		require.NoError(t, repo.SaveSession(ctx, stale))

		fresh, err := data.NewVotingSession("hash-fresh", "10.0.0.2", "agent")
		require.NoError(t, err)
		require.NoError(t, repo.SaveSession(ctx, fresh))

		report := lifecycle.RunScheduledTransitions(ctx)
		assert.Equal(t, 1, report.SessionsExpired)

		got, err := repo.GetSession(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, data.SessionStatusExpired, got.Status)

		entries := repo.AuditByAction(data.AuditSessionEnded)
		require.Len(t, entries, 1)
		assert.Equal(t, stale.ID, entries[0].SessionID)
		assert.Equal(t, "expired", entries[0].Details["reason"])
	})

	t.Run("UpdatesMetrics", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), true, true, 2, false)

		lifecycle.RunScheduledTransitions(ctx)
		stats := lifecycle.GetStats()
		assert.Equal(t, int64(1), stats.SweepsRun)
		assert.Equal(t, int64(1), stats.ElectionsStarted)
		assert.False(t, stats.LastSweep.IsZero())
	})
}

func TestForceStart(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("StartsEarly", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(time.Hour), now.Add(2*time.Hour), false, false, 2, false)

		require.NoError(t, lifecycle.ForceStart(ctx, election.ID))

		got, err := repo.GetElection(ctx, election.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElectionStatusActive, got.Status)

		entries := repo.AuditByAction(data.AuditElectionAutoStarted)
		require.Len(t, entries, 1)
		assert.Equal(t, true, entries[0].Details["forced"])
	})

	t.Run("CandidateGuardStillApplies", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(time.Hour), now.Add(2*time.Hour), false, false, 1, false)

		err := lifecycle.ForceStart(ctx, election.ID)
		assert.ErrorIs(t, err, ErrNotEnoughCandidates)

		got, err := repo.GetElection(ctx, election.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElectionStatusDraft, got.Status)
	})

	t.Run("RejectsNonDraft", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), false, false, 2, true)

		err := lifecycle.ForceStart(ctx, election.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("UnknownElection", func(t *testing.T) {
		lifecycle, _ := testLifecycle(t)
		assert.Error(t, lifecycle.ForceStart(ctx, "missing"))
	})
}

func TestForceStop(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("StopsActiveElection", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), false, false, 2, true)

		require.NoError(t, lifecycle.ForceStop(ctx, election.ID))

		got, err := repo.GetElection(ctx, election.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElectionStatusCompleted, got.Status)
	})

	t.Run("RejectsDraft", func(t *testing.T) {
		lifecycle, repo := testLifecycle(t)
		election := seedElection(t, repo, now.Add(-time.Hour), now.Add(time.Hour), false, false, 2, false)

		err := lifecycle.ForceStop(ctx, election.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestPreviewUpcoming(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	lifecycle, repo := testLifecycle(t)
	starting := seedElection(t, repo, now.Add(2*time.Hour), now.Add(48*time.Hour), true, true, 2, false)
	ending := seedElection(t, repo, now.Add(-time.Hour), now.Add(3*time.Hour), true, true, 2, true)
	seedElection(t, repo, now.Add(72*time.Hour), now.Add(96*time.Hour), true, true, 2, false)

	preview, err := lifecycle.PreviewUpcoming(ctx, 24)
	require.NoError(t, err)

	require.Len(t, preview.Starting, 1)
	assert.Equal(t, starting.ID, preview.Starting[0].ID)
	require.Len(t, preview.Ending, 1)
	assert.Equal(t, ending.ID, preview.Ending[0].ID)

	// Read-only: nothing transitioned
	got, err := repo.GetElection(ctx, starting.ID)
	require.NoError(t, err)
	assert.Equal(t, data.ElectionStatusDraft, got.Status)
}
