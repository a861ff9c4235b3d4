package booth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
	"campus_vote/pkg/security"
	"campus_vote/pkg/tally"
)

// User-visible rejection messages. Internal error detail stays in logs.
const (
	msgInvalidCredential = "invalid voting ID format"
	msgUnknownVoter      = "voting ID not recognized"
	msgInactiveVoter     = "voting ID is not active"
	msgElectionClosed    = "election is not open for voting"
	msgNoSession         = "no active voting session"
	msgAlreadyVoted      = "vote already recorded for this election"
	msgRateLimited       = "too many attempts, please wait before trying again"
	msgStoreFailure      = "could not record vote, please try again"
	msgVoteRecorded      = "vote recorded"
)

// EligibilityResult is returned by CheckEligibility
type EligibilityResult struct {
	IsEligible   bool             `json:"isEligible"`
	StudentName  string           `json:"studentName,omitempty"`
	Elections    []*data.Election `json:"elections"`
	SessionToken string           `json:"sessionToken,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// CastResult is returned by CastVote
type CastResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Service is the voting booth flow: eligibility checks, vote casting and
// the live activity feed. It is stateless; every call goes to the store,
// so many booths can run the same flow concurrently.
type Service struct {
	repo     data.Repository
	hasher   *security.IdentityHasher
	detector *security.FraudDetector
	tokens   *security.TokenIssuer
	tallies  *tally.Aggregator
	cfg      *config.VotingConfig
	logger   *zap.Logger
}

// NewService creates a booth service with its collaborators injected
func NewService(
	repo data.Repository,
	hasher *security.IdentityHasher,
	detector *security.FraudDetector,
	tokens *security.TokenIssuer,
	tallies *tally.Aggregator,
	cfg *config.VotingConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		hasher:   hasher,
		detector: detector,
		tokens:   tokens,
		tallies:  tallies,
		cfg:      cfg,
		logger:   logger,
	}
}

// CheckEligibility validates a voting credential and opens (or resumes) a
// booth session. On success it returns the student's name, the active
// elections still available to them, and a session token. The raw
// credential is never persisted; only its hash is used from here on.
func (s *Service) CheckEligibility(ctx context.Context, credential, ipAddress, userAgent string) (*EligibilityResult, error) {
	credential = strings.ToUpper(strings.TrimSpace(credential))
	if !security.ValidateCredentialFormat(credential) {
		return &EligibilityResult{Reason: msgInvalidCredential}, nil
	}

	voterHash := s.hasher.Hash(credential)

	student, err := s.repo.GetStudentByVoterHash(ctx, voterHash)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return &EligibilityResult{Reason: msgUnknownVoter}, nil
		}
		return nil, err
	}
	if !student.Active {
		return &EligibilityResult{Reason: msgInactiveVoter}, nil
	}

	session, err := s.repo.GetActiveSessionByVoterHash(ctx, voterHash)
	if err != nil {
		if !errors.Is(err, data.ErrNotFound) {
			return nil, err
		}
		session, err = s.startSession(ctx, voterHash, ipAddress, userAgent)
		if err != nil {
			return nil, err
		}
	} else if err := s.repo.TouchSession(ctx, session.ID); err != nil {
		// Resuming a session counts as activity for the idle sweep.
		s.logger.Warn("Failed to refresh session activity",
			zap.String("sessionID", session.ID),
			zap.Error(err))
	}

	elections, err := s.availableElections(ctx, session, voterHash)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(session.ID, voterHash)
	if err != nil {
		return nil, err
	}

	return &EligibilityResult{
		IsEligible:   true,
		StudentName:  student.FullName,
		Elections:    elections,
		SessionToken: token,
	}, nil
}

// CastVote records a single vote. The fraud detector is advisory: its
// verdict is always audited, and blocks the vote only when configured to.
// The store's unique ledger key is the final arbiter between two
// concurrent casts for the same voter and election.
func (s *Service) CastVote(ctx context.Context, electionID, candidateID, credential, ipAddress, userAgent string) (*CastResult, error) {
	credential = strings.ToUpper(strings.TrimSpace(credential))
	if !security.ValidateCredentialFormat(credential) {
		return &CastResult{Message: msgInvalidCredential}, nil
	}
	voterHash := s.hasher.Hash(credential)

	election, err := s.repo.GetElection(ctx, electionID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return &CastResult{Message: msgElectionClosed}, nil
		}
		return nil, err
	}
	if election.Status != data.ElectionStatusActive {
		return &CastResult{Message: msgElectionClosed}, nil
	}

	session, err := s.repo.GetActiveSessionByVoterHash(ctx, voterHash)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return &CastResult{Message: msgNoSession}, nil
		}
		return nil, err
	}

	if !election.AllowMultipleVotes && session.HasVoted(electionID) {
		return &CastResult{Message: msgAlreadyVoted}, nil
	}

	// The cast timestamp is stored at microsecond precision, and the stamp
	// must be reproducible from the stored row. Truncate before stamping.
	now := time.Now().UTC().Truncate(time.Microsecond)
	recent, err := s.repo.ListRecentVotes(ctx, now.Add(-s.cfg.RecentVoteWindow), s.cfg.RecentVoteLimit)
	if err != nil {
		return nil, err
	}

	if !s.withinRateLimit(recent, ipAddress, now) {
		return &CastResult{Message: msgRateLimited}, nil
	}

	check := s.detector.DetectFraudPattern(ipAddress, userAgent, recent)
	if check.Suspicious {
		entry := data.NewAuditLogEntry(data.AuditFraudAttempt, map[string]interface{}{
			"reason":       check.Reason,
			"election_id":  electionID,
			"candidate_id": candidateID,
		}).WithSession(session.ID).WithElection(electionID).WithClient(ipAddress, userAgent)
		if err := s.repo.AppendAudit(ctx, entry); err != nil {
			s.logger.Error("Failed to audit fraud attempt", zap.Error(err))
		}

		if s.cfg.BlockOnFraud {
			s.logger.Warn("Vote blocked by fraud detector",
				zap.String("electionID", electionID),
				zap.String("reason", check.Reason))
			return &CastResult{Message: "vote rejected: " + check.Reason}, nil
		}
	}

	stamp := security.Stamp(session.ID, now)
	vote, err := data.NewVote(electionID, candidateID, voterHash, stamp, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}
	vote.CastAt = now

	if err := s.repo.AppendVote(ctx, vote, election.AllowMultipleVotes); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			// Lost the race against a concurrent cast for the same pair
			return &CastResult{Message: msgAlreadyVoted}, nil
		}
		// Store errors surface to the caller for retry
		return &CastResult{Message: msgStoreFailure}, err
	}

	if err := s.repo.MarkElectionVoted(ctx, session.ID, electionID); err != nil {
		// The vote is already on the ledger; session bookkeeping is best effort
		s.logger.Warn("Failed to mark election voted",
			zap.String("sessionID", session.ID),
			zap.Error(err))
	}

	s.auditVote(ctx, session, vote)

	return &CastResult{Success: true, Message: msgVoteRecorded}, nil
}

// CompleteSession closes the voter's session once they have finished
func (s *Service) CompleteSession(ctx context.Context, credential string) error {
	credential = strings.ToUpper(strings.TrimSpace(credential))
	if !security.ValidateCredentialFormat(credential) {
		return data.ErrInvalidData
	}
	voterHash := s.hasher.Hash(credential)

	session, err := s.repo.GetActiveSessionByVoterHash(ctx, voterHash)
	if err != nil {
		return err
	}

	closed, err := s.repo.CloseSession(ctx, session.ID, data.SessionStatusCompleted)
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}

	entry := data.NewAuditLogEntry(data.AuditSessionEnded, map[string]interface{}{
		"reason":          "completed",
		"elections_voted": len(session.ElectionsVoted),
	}).WithSession(session.ID)
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("Failed to audit session completion", zap.Error(err))
	}

	return nil
}

// GetLiveTallies returns the current tallies for an election
func (s *Service) GetLiveTallies(ctx context.Context, electionID string) (*tally.ElectionTally, error) {
	return s.tallies.ComputeTallies(ctx, electionID)
}

// GetRecentActivity returns the newest audit entries
func (s *Service) GetRecentActivity(ctx context.Context, limit int) ([]*data.AuditLogEntry, error) {
	return s.repo.ListRecentAudit(ctx, limit)
}

func (s *Service) startSession(ctx context.Context, voterHash, ipAddress, userAgent string) (*data.VotingSession, error) {
	session, err := data.NewVotingSession(voterHash, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	entry := data.NewAuditLogEntry(data.AuditSessionStarted, nil).
		WithSession(session.ID).
		WithClient(ipAddress, userAgent)
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("Failed to audit session start", zap.Error(err))
	}

	return session, nil
}

// availableElections lists active elections the voter has not yet voted
// in, checking both the session's voted set and the ledger (a prior
// session's votes still count for single-vote elections).
func (s *Service) availableElections(ctx context.Context, session *data.VotingSession, voterHash string) ([]*data.Election, error) {
	active, err := s.repo.ListElections(ctx, data.ElectionFilter{Status: data.ElectionStatusActive})
	if err != nil {
		return nil, err
	}

	available := make([]*data.Election, 0, len(active))
	for _, election := range active {
		if session.HasVoted(election.ID) {
			continue
		}
		if !election.AllowMultipleVotes {
			voted, err := s.repo.HasVoted(ctx, election.ID, voterHash)
			if err != nil {
				return nil, err
			}
			if voted {
				continue
			}
		}
		available = append(available, election)
	}

	return available, nil
}

// withinRateLimit derives the attempt count and window age for this IP
// from the recent-vote history, keeping the handler stateless.
func (s *Service) withinRateLimit(recent []*data.Vote, ipAddress string, now time.Time) bool {
	attempts := 0
	var oldest time.Time
	for _, v := range recent {
		if v.IPAddress != ipAddress {
			continue
		}
		attempts++
		if oldest.IsZero() || v.CastAt.Before(oldest) {
			oldest = v.CastAt
		}
	}
	if attempts == 0 {
		return true
	}
	return s.detector.CheckRateLimit(attempts, now.Sub(oldest))
}

func (s *Service) auditVote(ctx context.Context, session *data.VotingSession, vote *data.Vote) {
	cast := data.NewAuditLogEntry(data.AuditVoteCast, map[string]interface{}{
		"election_id":    vote.ElectionID,
		"candidate_id":   vote.CandidateID,
		"integrity_hash": vote.IntegrityHash,
	}).WithSession(session.ID).WithElection(vote.ElectionID).WithClient(vote.IPAddress, vote.UserAgent)
	if err := s.repo.AppendAudit(ctx, cast); err != nil {
		s.logger.Error("Failed to audit vote cast", zap.Error(err))
	}

	if security.VerifyStamp(session.ID, vote.CastAt, vote.IntegrityHash) {
		verified := data.NewAuditLogEntry(data.AuditVoteVerified, map[string]interface{}{
			"election_id":    vote.ElectionID,
			"integrity_hash": vote.IntegrityHash,
		}).WithSession(session.ID).WithElection(vote.ElectionID)
		if err := s.repo.AppendAudit(ctx, verified); err != nil {
			s.logger.Error("Failed to audit vote verification", zap.Error(err))
		}
	}
}
