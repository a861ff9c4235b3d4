package data

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Error variables for consistent error handling
var (
	ErrInvalidData   = errors.New("invalid data format")
	ErrInvalidID     = errors.New("invalid identifier")
	ErrInvalidTime   = errors.New("invalid timestamp")
	ErrInvalidStatus = errors.New("invalid status")
)

// ElectionStatus represents the lifecycle state of an election
type ElectionStatus string

const (
	ElectionStatusDraft     ElectionStatus = "draft"
	ElectionStatusActive    ElectionStatus = "active"
	ElectionStatusCompleted ElectionStatus = "completed"
	ElectionStatusArchived  ElectionStatus = "archived"
	ElectionStatusCancelled ElectionStatus = "cancelled"
)

// MinCandidatesToStart is the minimum number of candidates an election
// must have before it may become active.
const MinCandidatesToStart = 2

// Election represents a single election with its scheduling settings
type Election struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Category           string         `json:"category"`
	Status             ElectionStatus `json:"status"`
	StartDate          time.Time      `json:"start_date"`
	EndDate            time.Time      `json:"end_date"`
	AutoStart          bool           `json:"auto_start"`
	AutoEnd            bool           `json:"auto_end"`
	AllowMultipleVotes bool           `json:"allow_multiple_votes"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewElection creates a new Election instance in draft state with validation
func NewElection(title, description, category string, start, end time.Time) (*Election, error) {
	if title == "" {
		return nil, errors.New("title cannot be empty")
	}
	if start.IsZero() || end.IsZero() {
		return nil, ErrInvalidTime
	}
	if !end.After(start) {
		return nil, errors.New("end date must be after start date")
	}

	now := time.Now().UTC()
	return &Election{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Category:    category,
		Status:      ElectionStatusDraft,
		StartDate:   start.UTC(),
		EndDate:     end.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks if the election is valid
func (e *Election) Validate() error {
	if e.ID == "" {
		return ErrInvalidID
	}
	if e.Title == "" {
		return errors.New("title cannot be empty")
	}
	switch e.Status {
	case ElectionStatusDraft, ElectionStatusActive, ElectionStatusCompleted,
		ElectionStatusArchived, ElectionStatusCancelled:
	default:
		return ErrInvalidStatus
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return ErrInvalidTime
	}
	if !e.EndDate.After(e.StartDate) {
		return errors.New("end date must be after start date")
	}
	return nil
}

// IsTerminal reports whether the election has reached a terminal state
func (e *Election) IsTerminal() bool {
	switch e.Status {
	case ElectionStatusCompleted, ElectionStatusArchived, ElectionStatusCancelled:
		return true
	}
	return false
}

// Candidate represents a candidate standing in an election
type Candidate struct {
	ID         string    `json:"id"`
	ElectionID string    `json:"election_id"`
	Name       string    `json:"name"`
	Position   int       `json:"position"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	Manifesto  string    `json:"manifesto,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCandidate creates a new Candidate instance with validation
func NewCandidate(electionID, name string, position int) (*Candidate, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if name == "" {
		return nil, errors.New("candidate name cannot be empty")
	}
	if position < 0 {
		return nil, errors.New("position cannot be negative")
	}

	return &Candidate{
		ID:         uuid.New().String(),
		ElectionID: electionID,
		Name:       name,
		Position:   position,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Validate checks if the candidate is valid
func (c *Candidate) Validate() error {
	if c.ID == "" {
		return ErrInvalidID
	}
	if c.ElectionID == "" {
		return errors.New("election ID cannot be empty")
	}
	if c.Name == "" {
		return errors.New("candidate name cannot be empty")
	}
	return nil
}

// Student represents a registered voter. Only the salted hash of the
// student's voting credential is retained.
type Student struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	VoterHash string    `json:"voter_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStudent creates a new Student instance with validation
func NewStudent(fullName, voterHash string) (*Student, error) {
	if fullName == "" {
		return nil, errors.New("full name cannot be empty")
	}
	if voterHash == "" {
		return nil, errors.New("voter hash cannot be empty")
	}

	return &Student{
		ID:        uuid.New().String(),
		FullName:  fullName,
		VoterHash: voterHash,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SessionStatus represents the state of a voting session
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
)

// VotingSession represents a booth session for an anonymized voter.
// ElectionsVoted only grows and holds each election id at most once.
type VotingSession struct {
	ID             string        `json:"id"`
	VoterHash      string        `json:"encrypted_voter_hash"`
	SessionStart   time.Time     `json:"session_start"`
	SessionEnd     *time.Time    `json:"session_end,omitempty"`
	LastActivity   time.Time     `json:"last_activity"`
	ElectionsVoted []string      `json:"elections_voted"`
	IPAddress      string        `json:"ip_address"`
	UserAgent      string        `json:"user_agent"`
	Status         SessionStatus `json:"status"`
}

// NewVotingSession creates a new active session for a voter hash
func NewVotingSession(voterHash, ipAddress, userAgent string) (*VotingSession, error) {
	if voterHash == "" {
		return nil, errors.New("voter hash cannot be empty")
	}

	now := time.Now().UTC()
	return &VotingSession{
		ID:             uuid.New().String(),
		VoterHash:      voterHash,
		SessionStart:   now,
		LastActivity:   now,
		ElectionsVoted: []string{},
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		Status:         SessionStatusActive,
	}, nil
}

// HasVoted reports whether the session already voted in the given election
func (s *VotingSession) HasVoted(electionID string) bool {
	for _, id := range s.ElectionsVoted {
		if id == electionID {
			return true
		}
	}
	return false
}

// Vote represents an immutable entry in the vote ledger
type Vote struct {
	ID            string    `json:"id"`
	ElectionID    string    `json:"election_id"`
	CandidateID   string    `json:"candidate_id"`
	VoterHash     string    `json:"voter_hash"`
	IntegrityHash string    `json:"integrity_hash"`
	CastAt        time.Time `json:"cast_at"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
}

// NewVote creates a new Vote instance with validation
func NewVote(electionID, candidateID, voterHash, integrityHash, ipAddress, userAgent string) (*Vote, error) {
	if electionID == "" {
		return nil, errors.New("election ID cannot be empty")
	}
	if candidateID == "" {
		return nil, errors.New("candidate ID cannot be empty")
	}
	if voterHash == "" {
		return nil, errors.New("voter hash cannot be empty")
	}
	if integrityHash == "" {
		return nil, errors.New("integrity hash cannot be empty")
	}

	return &Vote{
		ID:            uuid.New().String(),
		ElectionID:    electionID,
		CandidateID:   candidateID,
		VoterHash:     voterHash,
		IntegrityHash: integrityHash,
		CastAt:        time.Now().UTC(),
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
	}, nil
}

// Validate checks if the vote is valid
func (v *Vote) Validate() error {
	if v.ID == "" {
		return ErrInvalidID
	}
	if v.ElectionID == "" {
		return errors.New("election ID cannot be empty")
	}
	if v.CandidateID == "" {
		return errors.New("candidate ID cannot be empty")
	}
	if v.VoterHash == "" {
		return errors.New("voter hash cannot be empty")
	}
	if v.IntegrityHash == "" {
		return errors.New("integrity hash cannot be empty")
	}
	if v.CastAt.IsZero() {
		return ErrInvalidTime
	}
	return nil
}

// AuditAction enumerates the recorded audit trail actions
type AuditAction string

const (
	AuditVoteCast              AuditAction = "vote_cast"
	AuditVoteVerified          AuditAction = "vote_verified"
	AuditFraudAttempt          AuditAction = "fraud_attempt"
	AuditSessionStarted        AuditAction = "session_started"
	AuditSessionEnded          AuditAction = "session_ended"
	AuditElectionAutoStarted   AuditAction = "election_auto_started"
	AuditElectionAutoCompleted AuditAction = "election_auto_completed"
)

// AuditLogEntry is an append-only record of a state-changing operation
type AuditLogEntry struct {
	ID         string                 `json:"id"`
	Action     AuditAction            `json:"action"`
	SessionID  string                 `json:"session_id,omitempty"`
	ElectionID string                 `json:"election_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
}

// NewAuditLogEntry creates a new audit entry for the given action
func NewAuditLogEntry(action AuditAction, details map[string]interface{}) *AuditLogEntry {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &AuditLogEntry{
		ID:        uuid.New().String(),
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// WithSession attaches a session reference to the entry
func (a *AuditLogEntry) WithSession(sessionID string) *AuditLogEntry {
	a.SessionID = sessionID
	return a
}

// WithElection attaches an election reference to the entry
func (a *AuditLogEntry) WithElection(electionID string) *AuditLogEntry {
	a.ElectionID = electionID
	return a
}

// WithClient attaches client metadata to the entry
func (a *AuditLogEntry) WithClient(ipAddress, userAgent string) *AuditLogEntry {
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
