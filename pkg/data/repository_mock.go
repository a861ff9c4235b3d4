package data

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used by unit tests. It
// mirrors the store-level guarantees the scheduler and booth flow depend
// on: guarded status transitions and the unique (election, dedupe) key.
type MemoryRepository struct {
	mu         sync.Mutex
	elections  map[string]*Election
	candidates map[string]*Candidate
	students   map[string]*Student
	sessions   map[string]*VotingSession
	votes      []*Vote
	voteKeys   map[string]bool
	audit      []*AuditLogEntry
}

// Ensure MemoryRepository implements the Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		elections:  make(map[string]*Election),
		candidates: make(map[string]*Candidate),
		students:   make(map[string]*Student),
		sessions:   make(map[string]*VotingSession),
		voteKeys:   make(map[string]bool),
	}
}

func (m *MemoryRepository) SaveElection(ctx context.Context, election *Election) error {
	if err := election.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.elections[election.ID]; exists {
		return ErrDuplicate
	}
	cp := *election
	m.elections[election.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetElection(ctx context.Context, id string) (*Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	election, exists := m.elections[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *election
	return &cp, nil
}

func (m *MemoryRepository) ListElections(ctx context.Context, filter ElectionFilter) ([]*Election, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*Election
	for _, e := range m.elections {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if filter.AutoStart != nil && e.AutoStart != *filter.AutoStart {
			continue
		}
		if filter.AutoEnd != nil && e.AutoEnd != *filter.AutoEnd {
			continue
		}
		if filter.StartsBefore != nil && e.StartDate.After(*filter.StartsBefore) {
			continue
		}
		if filter.StartsAfter != nil && e.StartDate.Before(*filter.StartsAfter) {
			continue
		}
		if filter.EndsBefore != nil && e.EndDate.After(*filter.EndsBefore) {
			continue
		}
		if filter.EndsAfter != nil && e.EndDate.Before(*filter.EndsAfter) {
			continue
		}
		cp := *e
		results = append(results, &cp)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartDate.Before(results[j].StartDate)
	})

	if filter.Offset > 0 && filter.Offset < len(results) {
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(results) {
		results = results[:filter.Limit]
	}

	return results, nil
}

func (m *MemoryRepository) UpdateElection(ctx context.Context, election *Election) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.elections[election.ID]; !exists {
		return ErrNotFound
	}
	cp := *election
	cp.UpdatedAt = time.Now().UTC()
	m.elections[election.ID] = &cp
	return nil
}

func (m *MemoryRepository) TransitionElectionStatus(ctx context.Context, id string, from, to ElectionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	election, exists := m.elections[id]
	if !exists || election.Status != from {
		return false, nil
	}
	election.Status = to
	election.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) SaveCandidate(ctx context.Context, candidate *Candidate) error {
	if err := candidate.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	election, exists := m.elections[candidate.ElectionID]
	if !exists || election.Status != ElectionStatusDraft {
		return ErrInvalidStatus
	}
	cp := *candidate
	m.candidates[candidate.ID] = &cp
	return nil
}

func (m *MemoryRepository) ListCandidates(ctx context.Context, electionID string) ([]*Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*Candidate
	for _, c := range m.candidates {
		if c.ElectionID == electionID {
			cp := *c
			results = append(results, &cp)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Position != results[j].Position {
			return results[i].Position < results[j].Position
		}
		return results[i].ID < results[j].ID
	})

	return results, nil
}

func (m *MemoryRepository) CountCandidates(ctx context.Context, electionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.candidates {
		if c.ElectionID == electionID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) DeleteCandidate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate, exists := m.candidates[id]
	if !exists {
		return ErrNotFound
	}
	if election, ok := m.elections[candidate.ElectionID]; ok && election.Status != ElectionStatusDraft {
		return ErrNotFound
	}
	delete(m.candidates, id)
	return nil
}

func (m *MemoryRepository) SaveStudent(ctx context.Context, student *Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.students {
		if s.VoterHash == student.VoterHash {
			return ErrDuplicate
		}
	}
	cp := *student
	m.students[student.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetStudentByVoterHash(ctx context.Context, voterHash string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.students {
		if s.VoterHash == voterHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) SaveSession(ctx context.Context, session *VotingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrDuplicate
	}
	cp := *session
	cp.ElectionsVoted = append([]string{}, session.ElectionsVoted...)
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetSession(ctx context.Context, id string) (*VotingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

func (m *MemoryRepository) GetActiveSessionByVoterHash(ctx context.Context, voterHash string) (*VotingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *VotingSession
	for _, s := range m.sessions {
		if s.VoterHash != voterHash || s.Status != SessionStatusActive {
			continue
		}
		if latest == nil || s.SessionStart.After(latest.SessionStart) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copySession(latest), nil
}

func (m *MemoryRepository) MarkElectionVoted(ctx context.Context, sessionID, electionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || session.Status != SessionStatusActive {
		return nil
	}
	for _, id := range session.ElectionsVoted {
		if id == electionID {
			return nil
		}
	}
	session.ElectionsVoted = append(session.ElectionsVoted, electionID)
	session.LastActivity = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) TouchSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || session.Status != SessionStatusActive {
		return nil
	}
	session.LastActivity = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) CloseSession(ctx context.Context, sessionID string, status SessionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists || session.Status != SessionStatusActive {
		return false, nil
	}
	now := time.Now().UTC()
	session.Status = status
	session.SessionEnd = &now
	return true, nil
}

func (m *MemoryRepository) ExpireSessionsIdleSince(ctx context.Context, cutoff time.Time) ([]*VotingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*VotingSession
	now := time.Now().UTC()
	for _, s := range m.sessions {
		if s.Status == SessionStatusActive && s.LastActivity.Before(cutoff) {
			s.Status = SessionStatusExpired
			s.SessionEnd = &now
			expired = append(expired, copySession(s))
		}
	}
	return expired, nil
}

func (m *MemoryRepository) AppendVote(ctx context.Context, vote *Vote, allowMultiple bool) error {
	if err := vote.Validate(); err != nil {
		return err
	}

	dedupeKey := vote.VoterHash
	if allowMultiple {
		dedupeKey = vote.ID
	}
	key := vote.ElectionID + "|" + dedupeKey

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.voteKeys[key] {
		return ErrDuplicate
	}
	m.voteKeys[key] = true
	cp := *vote
	m.votes = append(m.votes, &cp)
	return nil
}

func (m *MemoryRepository) HasVoted(ctx context.Context, electionID, voterHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.votes {
		if v.ElectionID == electionID && v.VoterHash == voterHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) ListRecentVotes(ctx context.Context, since time.Time, limit int) ([]*Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*Vote
	for _, v := range m.votes {
		if !v.CastAt.Before(since) {
			cp := *v
			results = append(results, &cp)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CastAt.After(results[j].CastAt)
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	return results, nil
}

func (m *MemoryRepository) CountVotesByCandidate(ctx context.Context, electionID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	for _, v := range m.votes {
		if v.ElectionID == electionID {
			counts[v.CandidateID]++
		}
	}
	return counts, nil
}

func (m *MemoryRepository) AppendAudit(ctx context.Context, entry *AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryRepository) ListRecentAudit(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]*AuditLogEntry, 0, len(m.audit))
	for _, e := range m.audit {
		cp := *e
		results = append(results, &cp)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	return results, nil
}

// AuditByAction returns entries for one action, a test convenience
func (m *MemoryRepository) AuditByAction(action AuditAction) []*AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*AuditLogEntry
	for _, e := range m.audit {
		if e.Action == action {
			cp := *e
			results = append(results, &cp)
		}
	}
	return results
}

func copySession(s *VotingSession) *VotingSession {
	cp := *s
	cp.ElectionsVoted = append([]string{}, s.ElectionsVoted...)
	if s.SessionEnd != nil {
		end := *s.SessionEnd
		cp.SessionEnd = &end
	}
	return &cp
}
