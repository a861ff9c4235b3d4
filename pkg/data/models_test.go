package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewElection(t *testing.T) {
	start := time.Now().Add(time.Hour)
	end := start.Add(24 * time.Hour)

	t.Run("ValidElection", func(t *testing.T) {
		election, err := NewElection("Student Council 2026", "Annual council election", "council", start, end)
		require.NoError(t, err)

		assert.NotEmpty(t, election.ID)
		assert.Equal(t, ElectionStatusDraft, election.Status)
		assert.True(t, election.EndDate.After(election.StartDate))
		assert.NoError(t, election.Validate())
	})

	t.Run("EmptyTitle", func(t *testing.T) {
		_, err := NewElection("", "desc", "council", start, end)
		assert.Error(t, err)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		_, err := NewElection("Student Council 2026", "desc", "council", end, start)
		assert.Error(t, err)
	})

	t.Run("EndEqualsStart", func(t *testing.T) {
		_, err := NewElection("Student Council 2026", "desc", "council", start, start)
		assert.Error(t, err)
	})

	t.Run("ZeroTime", func(t *testing.T) {
		_, err := NewElection("Student Council 2026", "desc", "council", time.Time{}, end)
		assert.ErrorIs(t, err, ErrInvalidTime)
	})
}

func TestElectionValidate(t *testing.T) {
	election, err := NewElection("Student Council 2026", "desc", "council", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	t.Run("BadStatus", func(t *testing.T) {
		e := *election
		e.Status = ElectionStatus("paused")
		assert.ErrorIs(t, e.Validate(), ErrInvalidStatus)
	})

	t.Run("MissingID", func(t *testing.T) {
		e := *election
		e.ID = ""
		assert.ErrorIs(t, e.Validate(), ErrInvalidID)
	})
}

func TestElectionIsTerminal(t *testing.T) {
	cases := map[ElectionStatus]bool{
		ElectionStatusDraft:     false,
		ElectionStatusActive:    false,
		ElectionStatusCompleted: true,
		ElectionStatusArchived:  true,
		ElectionStatusCancelled: true,
	}
	for status, want := range cases {
		e := Election{Status: status}
		assert.Equal(t, want, e.IsTerminal(), string(status))
	}
}

func TestNewCandidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		candidate, err := NewCandidate("election-1", "Ada Lovelace", 1)
		require.NoError(t, err)
		assert.NotEmpty(t, candidate.ID)
		assert.NoError(t, candidate.Validate())
	})

	t.Run("MissingName", func(t *testing.T) {
		_, err := NewCandidate("election-1", "", 1)
		assert.Error(t, err)
	})

	t.Run("NegativePosition", func(t *testing.T) {
		_, err := NewCandidate("election-1", "Ada Lovelace", -1)
		assert.Error(t, err)
	})
}

func TestVotingSession(t *testing.T) {
	session, err := NewVotingSession("voter-hash", "10.0.0.1", "agent")
	require.NoError(t, err)

	t.Run("StartsActive", func(t *testing.T) {
		assert.Equal(t, SessionStatusActive, session.Status)
		assert.Empty(t, session.ElectionsVoted)
		assert.Nil(t, session.SessionEnd)
	})

	t.Run("HasVoted", func(t *testing.T) {
		assert.False(t, session.HasVoted("election-1"))
		session.ElectionsVoted = append(session.ElectionsVoted, "election-1")
		assert.True(t, session.HasVoted("election-1"))
		assert.False(t, session.HasVoted("election-2"))
	})

	t.Run("EmptyVoterHash", func(t *testing.T) {
		_, err := NewVotingSession("", "10.0.0.1", "agent")
		assert.Error(t, err)
	})
}

func TestNewVote(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		vote, err := NewVote("election-1", "candidate-1", "voter-hash", "stamp", "10.0.0.1", "agent")
		require.NoError(t, err)
		assert.NotEmpty(t, vote.ID)
		assert.False(t, vote.CastAt.IsZero())
		assert.NoError(t, vote.Validate())
	})

	t.Run("MissingIntegrityHash", func(t *testing.T) {
		_, err := NewVote("election-1", "candidate-1", "voter-hash", "", "10.0.0.1", "agent")
		assert.Error(t, err)
	})
}

func TestAuditLogEntry(t *testing.T) {
	entry := NewAuditLogEntry(AuditVoteCast, map[string]interface{}{"candidate_id": "candidate-1"}).
		WithSession("session-1").
		WithElection("election-1").
		WithClient("10.0.0.1", "agent")

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, AuditVoteCast, entry.Action)
	assert.Equal(t, "session-1", entry.SessionID)
	assert.Equal(t, "election-1", entry.ElectionID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	assert.Equal(t, "candidate-1", entry.Details["candidate_id"])

	t.Run("NilDetails", func(t *testing.T) {
		e := NewAuditLogEntry(AuditSessionStarted, nil)
		assert.NotNil(t, e.Details)
	})
}
