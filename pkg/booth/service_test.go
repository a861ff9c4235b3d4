package booth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
	"campus_vote/pkg/security"
	"campus_vote/pkg/tally"
)

const (
	testCredential = "VROLL1234567"
	testIP         = "10.0.0.1"
	testAgent      = "booth-kiosk/1.0"
)

type boothFixture struct {
	service  *Service
	repo     *data.MemoryRepository
	hasher   *security.IdentityHasher
	tokens   *security.TokenIssuer
	election *data.Election
	first    *data.Candidate
	second   *data.Candidate
}

func newFixture(t *testing.T, blockOnFraud bool) *boothFixture {
	t.Helper()
	ctx := context.Background()

	repo := data.NewMemoryRepository()
	hasher := security.NewIdentityHasher("test-hash-secret")
	detector := security.NewFraudDetector(&config.FraudConfig{
		MaxVotesPerIP:    5,
		MaxVotesPerAgent: 10,
		MinVoteGap:       30 * time.Second,
		MaxAttempts:      3,
		AttemptWindow:    10 * time.Minute,
	})
	tokens := security.NewTokenIssuer(&config.SecurityConfig{
		TokenSecret: "test-token-secret",
		TokenExpiry: time.Hour,
	})
	votingCfg := &config.VotingConfig{
		SessionTimeout:    30 * time.Minute,
		RecentVoteWindow:  30 * time.Minute,
		RecentVoteLimit:   500,
		BlockOnFraud:      blockOnFraud,
		TallyDebounce:     2 * time.Second,
		TallyPollInterval: 30 * time.Second,
	}
	logger := zaptest.NewLogger(t)
	aggregator := tally.NewAggregator(repo, nil, votingCfg, logger)

	student, err := data.NewStudent("Jordan Reyes", hasher.Hash(testCredential))
	require.NoError(t, err)
	require.NoError(t, repo.SaveStudent(ctx, student))

	election, err := data.NewElection("Student Council 2026", "desc", "council",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.SaveElection(ctx, election))

	first, err := data.NewCandidate(election.ID, "Ada Lovelace", 1)
	require.NoError(t, err)
	require.NoError(t, repo.SaveCandidate(ctx, first))
	second, err := data.NewCandidate(election.ID, "Grace Hopper", 2)
	require.NoError(t, err)
	require.NoError(t, repo.SaveCandidate(ctx, second))

	changed, err := repo.TransitionElectionStatus(ctx, election.ID,
		data.ElectionStatusDraft, data.ElectionStatusActive)
	require.NoError(t, err)
	require.True(t, changed)

	return &boothFixture{
		service:  NewService(repo, hasher, detector, tokens, aggregator, votingCfg, logger),
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		election: election,
		first:    first,
		second:   second,
	}
}

func TestCheckEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidCredentialFormat", func(t *testing.T) {
		f := newFixture(t, true)
		result, err := f.service.CheckEligibility(ctx, "bogus-id", testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, result.IsEligible)
		assert.Equal(t, "invalid voting ID format", result.Reason)
	})

	t.Run("UnknownVoter", func(t *testing.T) {
		f := newFixture(t, true)
		result, err := f.service.CheckEligibility(ctx, "VROLL9999999", testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, result.IsEligible)
		assert.Equal(t, "voting ID not recognized", result.Reason)
	})

	t.Run("InactiveVoter", func(t *testing.T) {
		f := newFixture(t, true)
		student, err := data.NewStudent("Casey Wu", f.hasher.Hash("V5555"))
		require.NoError(t, err)
		student.Active = false
		require.NoError(t, f.repo.SaveStudent(ctx, student))

		result, err := f.service.CheckEligibility(ctx, "V5555", testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, result.IsEligible)
		assert.Equal(t, "voting ID is not active", result.Reason)
	})

	t.Run("EligibleVoter", func(t *testing.T) {
		f := newFixture(t, true)
		result, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)

		assert.True(t, result.IsEligible)
		assert.Equal(t, "Jordan Reyes", result.StudentName)
		require.Len(t, result.Elections, 1)
		assert.Equal(t, f.election.ID, result.Elections[0].ID)

		sessionID, voterHash, err := f.tokens.Validate(result.SessionToken)
		require.NoError(t, err)
		assert.Equal(t, f.hasher.Hash(testCredential), voterHash)

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, data.SessionStatusActive, session.Status)
		assert.Len(t, f.repo.AuditByAction(data.AuditSessionStarted), 1)
	})

	t.Run("NormalizesCredential", func(t *testing.T) {
		f := newFixture(t, true)
		result, err := f.service.CheckEligibility(ctx, "  vroll1234567 ", testIP, testAgent)
		require.NoError(t, err)
		assert.True(t, result.IsEligible)
	})

	t.Run("ResumesExistingSession", func(t *testing.T) {
		f := newFixture(t, true)
		firstResult, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)
		secondResult, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)

		firstSession, _, err := f.tokens.Validate(firstResult.SessionToken)
		require.NoError(t, err)
		secondSession, _, err := f.tokens.Validate(secondResult.SessionToken)
		require.NoError(t, err)

		assert.Equal(t, firstSession, secondSession)
		assert.Len(t, f.repo.AuditByAction(data.AuditSessionStarted), 1)
	})

	t.Run("ResumeRefreshesActivity", func(t *testing.T) {
		f := newFixture(t, true)
		session, err := data.NewVotingSession(f.hasher.Hash(testCredential), testIP, testAgent)
		require.NoError(t, err)
		session.LastActivity = time.Now().UTC().Add(-20 * time.Minute)
		require.NoError(t, f.repo.SaveSession(ctx, session))

		result, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)
		require.True(t, result.IsEligible)

		resumed, err := f.repo.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), resumed.LastActivity, time.Minute)
	})

	t.Run("ExcludesVotedElections", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		require.True(t, result.Success)

		eligibility, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.True(t, eligibility.IsEligible)
		assert.Empty(t, eligibility.Elections)
	})
}

func TestCastVote(t *testing.T) {
	ctx := context.Background()

	openSession := func(t *testing.T, f *boothFixture) {
		t.Helper()
		result, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)
		require.True(t, result.IsEligible)
	}

	t.Run("RecordsVote", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "vote recorded", result.Message)

		counts, err := f.repo.CountVotesByCandidate(ctx, f.election.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[f.first.ID])

		require.Len(t, f.repo.AuditByAction(data.AuditVoteCast), 1)
		require.Len(t, f.repo.AuditByAction(data.AuditVoteVerified), 1)
	})

	t.Run("StampSurvivesStorePrecision", func(t *testing.T) {
		f := newFixture(t, true)
		eligibility, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)
		sessionID, _, err := f.tokens.Validate(eligibility.SessionToken)
		require.NoError(t, err)

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		require.True(t, result.Success)

		votes, err := f.repo.ListRecentVotes(ctx, time.Now().Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, votes, 1)
		vote := votes[0]

		// The ledger column keeps microseconds; recomputing the stamp from
		// the stored timestamp must reproduce the stored token
		stored := vote.CastAt.Truncate(time.Microsecond)
		assert.Equal(t, vote.CastAt, stored)
		assert.True(t, security.VerifyStamp(sessionID, stored, vote.IntegrityHash))
	})

	t.Run("RejectsSecondVote", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		first, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		require.True(t, first.Success)

		second, err := f.service.CastVote(ctx, f.election.ID, f.second.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, second.Success)
		assert.Equal(t, "vote already recorded for this election", second.Message)

		counts, err := f.repo.CountVotesByCandidate(ctx, f.election.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, counts[f.second.ID])
	})

	t.Run("ConcurrentCastsSingleWinner", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		var wg sync.WaitGroup
		results := make([]*CastResult, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ip := fmt.Sprintf("10.0.1.%d", i+1)
				results[i], errs[i] = f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, ip, testAgent)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		successes := 0
		for _, result := range results {
			if result.Success {
				successes++
			}
		}
		assert.Equal(t, 1, successes)

		counts, err := f.repo.CountVotesByCandidate(ctx, f.election.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[f.first.ID])
	})

	t.Run("RejectsClosedElection", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		changed, err := f.repo.TransitionElectionStatus(ctx, f.election.ID,
			data.ElectionStatusActive, data.ElectionStatusCompleted)
		require.NoError(t, err)
		require.True(t, changed)

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "election is not open for voting", result.Message)
	})

	t.Run("RequiresSession", func(t *testing.T) {
		f := newFixture(t, true)

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "no active voting session", result.Message)
	})

	t.Run("AllowsMultipleVotesWhenEnabled", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		updated, err := f.repo.GetElection(ctx, f.election.ID)
		require.NoError(t, err)
		updated.AllowMultipleVotes = true
		require.NoError(t, f.repo.UpdateElection(ctx, updated))

		first, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.True(t, first.Success)

		second, err := f.service.CastVote(ctx, f.election.ID, f.second.ID, testCredential, "10.0.0.2", testAgent)
		require.NoError(t, err)
		assert.True(t, second.Success)
	})

	t.Run("RateLimitsRepeatedAttempts", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		// Three prior ledger entries from this IP inside the window
		now := time.Now().UTC()
		for i := 0; i < 3; i++ {
			vote, err := data.NewVote(f.election.ID, f.first.ID,
				fmt.Sprintf("other-voter-%d", i), "stamp", testIP, testAgent)
			require.NoError(t, err)
			vote.CastAt = now.Add(-time.Duration(i+1) * time.Minute)
			require.NoError(t, f.repo.AppendVote(ctx, vote, false))
		}

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "too many attempts, please wait before trying again", result.Message)
	})

	t.Run("BlocksSuspiciousVote", func(t *testing.T) {
		f := newFixture(t, true)
		openSession(t, f)

		// Six ledger entries from one IP trip the same-IP rule. They sit
		// past the rate-limit window so only the fraud verdict applies.
		now := time.Now().UTC()
		for i := 0; i < 6; i++ {
			vote, err := data.NewVote(f.election.ID, f.first.ID,
				fmt.Sprintf("other-voter-%d", i), "stamp", "10.9.9.9", fmt.Sprintf("agent-%d", i))
			require.NoError(t, err)
			vote.CastAt = now.Add(-time.Duration(15+i) * time.Minute)
			require.NoError(t, f.repo.AppendVote(ctx, vote, false))
		}

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, "10.9.9.9", testAgent)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "same IP address")

		require.Len(t, f.repo.AuditByAction(data.AuditFraudAttempt), 1)
		voted, err := f.repo.HasVoted(ctx, f.election.ID, f.hasher.Hash(testCredential))
		require.NoError(t, err)
		assert.False(t, voted)
	})

	t.Run("AuditsWithoutBlockingWhenConfigured", func(t *testing.T) {
		f := newFixture(t, false)
		openSession(t, f)

		now := time.Now().UTC()
		for i := 0; i < 6; i++ {
			vote, err := data.NewVote(f.election.ID, f.first.ID,
				fmt.Sprintf("other-voter-%d", i), "stamp", "10.9.9.9", fmt.Sprintf("agent-%d", i))
			require.NoError(t, err)
			vote.CastAt = now.Add(-time.Duration(15+i) * time.Minute)
			require.NoError(t, f.repo.AppendVote(ctx, vote, false))
		}

		result, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, "10.9.9.9", testAgent)
		require.NoError(t, err)
		assert.True(t, result.Success)
		require.Len(t, f.repo.AuditByAction(data.AuditFraudAttempt), 1)
	})
}

func TestCompleteSession(t *testing.T) {
	ctx := context.Background()

	t.Run("ClosesSession", func(t *testing.T) {
		f := newFixture(t, true)
		result, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
		require.NoError(t, err)
		sessionID, _, err := f.tokens.Validate(result.SessionToken)
		require.NoError(t, err)

		require.NoError(t, f.service.CompleteSession(ctx, testCredential))

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, data.SessionStatusCompleted, session.Status)
		assert.NotNil(t, session.SessionEnd)

		entries := f.repo.AuditByAction(data.AuditSessionEnded)
		require.Len(t, entries, 1)
		assert.Equal(t, "completed", entries[0].Details["reason"])
	})

	t.Run("InvalidCredential", func(t *testing.T) {
		f := newFixture(t, true)
		assert.ErrorIs(t, f.service.CompleteSession(ctx, "bogus"), data.ErrInvalidData)
	})

	t.Run("NoActiveSession", func(t *testing.T) {
		f := newFixture(t, true)
		assert.ErrorIs(t, f.service.CompleteSession(ctx, testCredential), data.ErrNotFound)
	})
}

func TestGetLiveTallies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	result, err := f.service.CheckEligibility(ctx, testCredential, testIP, testAgent)
	require.NoError(t, err)
	require.True(t, result.IsEligible)

	cast, err := f.service.CastVote(ctx, f.election.ID, f.first.ID, testCredential, testIP, testAgent)
	require.NoError(t, err)
	require.True(t, cast.Success)

	tallies, err := f.service.GetLiveTallies(ctx, f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tallies.TotalVotes)
	assert.Equal(t, f.first.ID, tallies.Candidates[0].CandidateID)
	assert.Equal(t, 100.0, tallies.Candidates[0].VotePercentage)
}
