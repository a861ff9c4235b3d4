package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Repository defines the interface for data persistence
type Repository interface {
	// Election operations
	SaveElection(ctx context.Context, election *Election) error
	GetElection(ctx context.Context, id string) (*Election, error)
	ListElections(ctx context.Context, filter ElectionFilter) ([]*Election, error)
	UpdateElection(ctx context.Context, election *Election) error
	// TransitionElectionStatus performs a guarded status update. It returns
	// true only when the row was still in the expected source state; a
	// false result is a silent no-op, not an error.
	TransitionElectionStatus(ctx context.Context, id string, from, to ElectionStatus) (bool, error)

	// Candidate operations
	SaveCandidate(ctx context.Context, candidate *Candidate) error
	ListCandidates(ctx context.Context, electionID string) ([]*Candidate, error)
	CountCandidates(ctx context.Context, electionID string) (int, error)
	DeleteCandidate(ctx context.Context, id string) error

	// Student operations
	SaveStudent(ctx context.Context, student *Student) error
	GetStudentByVoterHash(ctx context.Context, voterHash string) (*Student, error)

	// Session operations
	SaveSession(ctx context.Context, session *VotingSession) error
	GetSession(ctx context.Context, id string) (*VotingSession, error)
	GetActiveSessionByVoterHash(ctx context.Context, voterHash string) (*VotingSession, error)
	// MarkElectionVoted appends the election to the session's voted set.
	// The set only grows and holds each election at most once.
	MarkElectionVoted(ctx context.Context, sessionID, electionID string) error
	// TouchSession refreshes an active session's last-activity time so
	// the idle sweep does not expire a voter mid-flow.
	TouchSession(ctx context.Context, sessionID string) error
	// CloseSession performs a guarded active -> completed/expired update.
	CloseSession(ctx context.Context, sessionID string, status SessionStatus) (bool, error)
	// ExpireSessionsIdleSince expires active sessions with no activity
	// after the cutoff and returns the sessions that were expired.
	ExpireSessionsIdleSince(ctx context.Context, cutoff time.Time) ([]*VotingSession, error)

	// Vote ledger operations (insert-only)
	AppendVote(ctx context.Context, vote *Vote, allowMultiple bool) error
	HasVoted(ctx context.Context, electionID, voterHash string) (bool, error)
	ListRecentVotes(ctx context.Context, since time.Time, limit int) ([]*Vote, error)
	CountVotesByCandidate(ctx context.Context, electionID string) (map[string]int, error)

	// Audit log operations (append-only)
	AppendAudit(ctx context.Context, entry *AuditLogEntry) error
	ListRecentAudit(ctx context.Context, limit int) ([]*AuditLogEntry, error)
}

// ElectionFilter defines filter parameters for election queries
type ElectionFilter struct {
	Status       ElectionStatus
	Category     string
	AutoStart    *bool
	AutoEnd      *bool
	StartsBefore *time.Time
	StartsAfter  *time.Time
	EndsBefore   *time.Time
	EndsAfter    *time.Time
	Limit        int
	Offset       int
}

// PostgresRepository implements Repository interface using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository instance
func NewPostgresRepository(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close releases all database resources
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// InitializeSchema applies the schema DDL in a single transaction
func (r *PostgresRepository) InitializeSchema(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

// SaveElection persists a new election
func (r *PostgresRepository) SaveElection(ctx context.Context, election *Election) error {
	if err := election.Validate(); err != nil {
		return fmt.Errorf("validating election: %w", err)
	}

	query := `
		INSERT INTO elections (
			id, title, description, category, status, start_date, end_date,
			auto_start, auto_end, allow_multiple_votes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		election.ID, election.Title, election.Description, election.Category,
		election.Status, election.StartDate, election.EndDate,
		election.AutoStart, election.AutoEnd, election.AllowMultipleVotes,
		election.CreatedAt, election.UpdatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting election: %w", err)
	}

	return nil
}

// GetElection retrieves an election by ID
func (r *PostgresRepository) GetElection(ctx context.Context, id string) (*Election, error) {
	query := `
		SELECT id, title, description, category, status, start_date, end_date,
			   auto_start, auto_end, allow_multiple_votes, created_at, updated_at
		FROM elections
		WHERE id = $1`

	election := &Election{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&election.ID, &election.Title, &election.Description, &election.Category,
		&election.Status, &election.StartDate, &election.EndDate,
		&election.AutoStart, &election.AutoEnd, &election.AllowMultipleVotes,
		&election.CreatedAt, &election.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying election: %w", err)
	}

	return election, nil
}

// ListElections retrieves elections based on filter criteria
func (r *PostgresRepository) ListElections(ctx context.Context, filter ElectionFilter) ([]*Election, error) {
	query := `
		SELECT id, title, description, category, status, start_date, end_date,
			   auto_start, auto_end, allow_multiple_votes, created_at, updated_at
		FROM elections
		WHERE 1=1`

	args := make([]interface{}, 0)
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}

	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argCount)
		args = append(args, filter.Category)
		argCount++
	}

	if filter.AutoStart != nil {
		query += fmt.Sprintf(" AND auto_start = $%d", argCount)
		args = append(args, *filter.AutoStart)
		argCount++
	}

	if filter.AutoEnd != nil {
		query += fmt.Sprintf(" AND auto_end = $%d", argCount)
		args = append(args, *filter.AutoEnd)
		argCount++
	}

	if filter.StartsBefore != nil {
		query += fmt.Sprintf(" AND start_date <= $%d", argCount)
		args = append(args, *filter.StartsBefore)
		argCount++
	}

	if filter.StartsAfter != nil {
		query += fmt.Sprintf(" AND start_date >= $%d", argCount)
		args = append(args, *filter.StartsAfter)
		argCount++
	}

	if filter.EndsBefore != nil {
		query += fmt.Sprintf(" AND end_date <= $%d", argCount)
		args = append(args, *filter.EndsBefore)
		argCount++
	}

	if filter.EndsAfter != nil {
		query += fmt.Sprintf(" AND end_date >= $%d", argCount)
		args = append(args, *filter.EndsAfter)
		argCount++
	}

	query += " ORDER BY start_date ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying elections: %w", err)
	}
	defer rows.Close()

	var results []*Election
	for rows.Next() {
		election := &Election{}
		err := rows.Scan(
			&election.ID, &election.Title, &election.Description, &election.Category,
			&election.Status, &election.StartDate, &election.EndDate,
			&election.AutoStart, &election.AutoEnd, &election.AllowMultipleVotes,
			&election.CreatedAt, &election.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning election row: %w", err)
		}
		results = append(results, election)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating election rows: %w", err)
	}

	return results, nil
}

// UpdateElection updates a draft election's editable fields
func (r *PostgresRepository) UpdateElection(ctx context.Context, election *Election) error {
	if err := election.Validate(); err != nil {
		return fmt.Errorf("validating election: %w", err)
	}

	query := `
		UPDATE elections
		SET title = $1, description = $2, category = $3, start_date = $4,
			end_date = $5, auto_start = $6, auto_end = $7,
			allow_multiple_votes = $8, updated_at = $9
		WHERE id = $10`

	result, err := r.pool.Exec(ctx, query,
		election.Title, election.Description, election.Category,
		election.StartDate, election.EndDate, election.AutoStart,
		election.AutoEnd, election.AllowMultipleVotes, time.Now().UTC(),
		election.ID,
	)

	if err != nil {
		return fmt.Errorf("updating election: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// TransitionElectionStatus flips an election's status only if the row is
// still in the expected source state. Concurrent invocations race on the
// WHERE clause; at most one observes a row change.
func (r *PostgresRepository) TransitionElectionStatus(ctx context.Context, id string, from, to ElectionStatus) (bool, error) {
	query := `
		UPDATE elections
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	result, err := r.pool.Exec(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("transitioning election status: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// SaveCandidate persists a candidate. Candidates may only be added while
// their election is still in draft.
func (r *PostgresRepository) SaveCandidate(ctx context.Context, candidate *Candidate) error {
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("validating candidate: %w", err)
	}

	query := `
		INSERT INTO candidates (id, election_id, name, position, photo_url, manifesto, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM elections WHERE id = $2 AND status = 'draft')`

	result, err := r.pool.Exec(ctx, query,
		candidate.ID, candidate.ElectionID, candidate.Name, candidate.Position,
		candidate.PhotoURL, candidate.Manifesto, candidate.CreatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting candidate: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("election %s is not in draft: %w", candidate.ElectionID, ErrInvalidStatus)
	}

	return nil
}

// ListCandidates retrieves an election's candidates ordered by position
func (r *PostgresRepository) ListCandidates(ctx context.Context, electionID string) ([]*Candidate, error) {
	query := `
		SELECT id, election_id, name, position, photo_url, manifesto, created_at
		FROM candidates
		WHERE election_id = $1
		ORDER BY position ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c := &Candidate{}
		err := rows.Scan(&c.ID, &c.ElectionID, &c.Name, &c.Position, &c.PhotoURL, &c.Manifesto, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidate rows: %w", err)
	}

	return candidates, nil
}

// CountCandidates returns the number of candidates in an election
func (r *PostgresRepository) CountCandidates(ctx context.Context, electionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM candidates WHERE election_id = $1`, electionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting candidates: %w", err)
	}
	return count, nil
}

// DeleteCandidate removes a candidate while its election is still in draft
func (r *PostgresRepository) DeleteCandidate(ctx context.Context, id string) error {
	query := `
		DELETE FROM candidates
		WHERE id = $1
		  AND election_id IN (SELECT id FROM elections WHERE status = 'draft')`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting candidate: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveStudent persists a registered voter
func (r *PostgresRepository) SaveStudent(ctx context.Context, student *Student) error {
	query := `
		INSERT INTO students (id, full_name, voter_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		student.ID, student.FullName, student.VoterHash, student.Active, student.CreatedAt,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting student: %w", err)
	}

	return nil
}

// GetStudentByVoterHash resolves an anonymized credential hash to a student
func (r *PostgresRepository) GetStudentByVoterHash(ctx context.Context, voterHash string) (*Student, error) {
	query := `
		SELECT id, full_name, voter_hash, active, created_at
		FROM students
		WHERE voter_hash = $1`

	student := &Student{}
	err := r.pool.QueryRow(ctx, query, voterHash).Scan(
		&student.ID, &student.FullName, &student.VoterHash, &student.Active, &student.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying student: %w", err)
	}

	return student, nil
}

// SaveSession persists a voting session
func (r *PostgresRepository) SaveSession(ctx context.Context, session *VotingSession) error {
	query := `
		INSERT INTO voting_sessions (
			id, voter_hash, session_start, session_end, last_activity,
			elections_voted, ip_address, user_agent, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		session.ID, session.VoterHash, session.SessionStart, session.SessionEnd,
		session.LastActivity, session.ElectionsVoted, session.IPAddress,
		session.UserAgent, session.Status,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*VotingSession, error) {
	query := sessionSelect + ` WHERE id = $1`
	return r.querySession(ctx, query, id)
}

// GetActiveSessionByVoterHash retrieves a voter's active session, if any
func (r *PostgresRepository) GetActiveSessionByVoterHash(ctx context.Context, voterHash string) (*VotingSession, error) {
	query := sessionSelect + ` WHERE voter_hash = $1 AND status = 'active' ORDER BY session_start DESC LIMIT 1`
	return r.querySession(ctx, query, voterHash)
}

const sessionSelect = `
	SELECT id, voter_hash, session_start, session_end, last_activity,
		   elections_voted, ip_address, user_agent, status
	FROM voting_sessions`

func (r *PostgresRepository) querySession(ctx context.Context, query string, arg interface{}) (*VotingSession, error) {
	session := &VotingSession{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&session.ID, &session.VoterHash, &session.SessionStart, &session.SessionEnd,
		&session.LastActivity, &session.ElectionsVoted, &session.IPAddress,
		&session.UserAgent, &session.Status,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return session, nil
}

// MarkElectionVoted appends the election id to the session's voted set.
// The array_position guard keeps the set grow-only with unique members.
func (r *PostgresRepository) MarkElectionVoted(ctx context.Context, sessionID, electionID string) error {
	query := `
		UPDATE voting_sessions
		SET elections_voted = array_append(elections_voted, $2),
			last_activity = $3
		WHERE id = $1
		  AND status = 'active'
		  AND array_position(elections_voted, $2) IS NULL`

	result, err := r.pool.Exec(ctx, query, sessionID, electionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking election voted: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Already marked or session no longer active; the voted set never shrinks
		return nil
	}

	return nil
}

// TouchSession refreshes last_activity while the session is still active
func (r *PostgresRepository) TouchSession(ctx context.Context, sessionID string) error {
	query := `
		UPDATE voting_sessions
		SET last_activity = $2
		WHERE id = $1 AND status = 'active'`

	if _, err := r.pool.Exec(ctx, query, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// CloseSession performs a guarded transition out of the active state
func (r *PostgresRepository) CloseSession(ctx context.Context, sessionID string, status SessionStatus) (bool, error) {
	query := `
		UPDATE voting_sessions
		SET status = $1, session_end = $2
		WHERE id = $3 AND status = 'active'`

	result, err := r.pool.Exec(ctx, query, status, time.Now().UTC(), sessionID)
	if err != nil {
		return false, fmt.Errorf("closing session: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ExpireSessionsIdleSince expires stale active sessions and returns them
func (r *PostgresRepository) ExpireSessionsIdleSince(ctx context.Context, cutoff time.Time) ([]*VotingSession, error) {
	query := `
		UPDATE voting_sessions
		SET status = 'expired', session_end = $1
		WHERE status = 'active' AND last_activity < $2
		RETURNING id, voter_hash, session_start, session_end, last_activity,
				  elections_voted, ip_address, user_agent, status`

	rows, err := r.pool.Query(ctx, query, time.Now().UTC(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("expiring sessions: %w", err)
	}
	defer rows.Close()

	var expired []*VotingSession
	for rows.Next() {
		session := &VotingSession{}
		err := rows.Scan(
			&session.ID, &session.VoterHash, &session.SessionStart, &session.SessionEnd,
			&session.LastActivity, &session.ElectionsVoted, &session.IPAddress,
			&session.UserAgent, &session.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning expired session: %w", err)
		}
		expired = append(expired, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired sessions: %w", err)
	}

	return expired, nil
}

// AppendVote inserts a ledger entry. For single-vote elections the dedupe
// key is the voter hash, so the unique constraint on
// (election_id, dedupe_key) makes the store the arbiter between two
// concurrent casts; for allow-multiple elections the vote id is used.
func (r *PostgresRepository) AppendVote(ctx context.Context, vote *Vote, allowMultiple bool) error {
	if err := vote.Validate(); err != nil {
		return fmt.Errorf("validating vote: %w", err)
	}

	dedupeKey := vote.VoterHash
	if allowMultiple {
		dedupeKey = vote.ID
	}

	query := `
		INSERT INTO votes (
			id, election_id, candidate_id, voter_hash, dedupe_key,
			integrity_hash, cast_at, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		vote.ID, vote.ElectionID, vote.CandidateID, vote.VoterHash, dedupeKey,
		vote.IntegrityHash, vote.CastAt, vote.IPAddress, vote.UserAgent,
	)

	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting vote: %w", err)
	}

	return nil
}

// HasVoted reports whether the ledger holds a vote for the pair
func (r *PostgresRepository) HasVoted(ctx context.Context, electionID, voterHash string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM votes WHERE election_id = $1 AND voter_hash = $2)`,
		electionID, voterHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking vote existence: %w", err)
	}
	return exists, nil
}

// ListRecentVotes returns the most recent ledger entries since the cutoff,
// newest first. Used as the fraud detector's history window.
func (r *PostgresRepository) ListRecentVotes(ctx context.Context, since time.Time, limit int) ([]*Vote, error) {
	query := `
		SELECT id, election_id, candidate_id, voter_hash, integrity_hash,
			   cast_at, ip_address, user_agent
		FROM votes
		WHERE cast_at >= $1
		ORDER BY cast_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent votes: %w", err)
	}
	defer rows.Close()

	var votes []*Vote
	for rows.Next() {
		vote := &Vote{}
		err := rows.Scan(
			&vote.ID, &vote.ElectionID, &vote.CandidateID, &vote.VoterHash,
			&vote.IntegrityHash, &vote.CastAt, &vote.IPAddress, &vote.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning vote row: %w", err)
		}
		votes = append(votes, vote)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vote rows: %w", err)
	}

	return votes, nil
}

// CountVotesByCandidate aggregates the ledger for one election
func (r *PostgresRepository) CountVotesByCandidate(ctx context.Context, electionID string) (map[string]int, error) {
	query := `
		SELECT candidate_id, COUNT(*)
		FROM votes
		WHERE election_id = $1
		GROUP BY candidate_id`

	rows, err := r.pool.Query(ctx, query, electionID)
	if err != nil {
		return nil, fmt.Errorf("counting votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var candidateID string
		var count int
		if err := rows.Scan(&candidateID, &count); err != nil {
			return nil, fmt.Errorf("scanning vote count: %w", err)
		}
		counts[candidateID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vote counts: %w", err)
	}

	return counts, nil
}

// AppendAudit persists an audit trail entry
func (r *PostgresRepository) AppendAudit(ctx context.Context, entry *AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (
			id, action, session_id, election_id, details, timestamp, ip_address, user_agent
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.Action, entry.SessionID, entry.ElectionID,
		entry.Details, entry.Timestamp, entry.IPAddress, entry.UserAgent,
	)

	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// ListRecentAudit returns the newest audit entries first
func (r *PostgresRepository) ListRecentAudit(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, action, COALESCE(session_id, ''), COALESCE(election_id, ''),
			   details, timestamp, ip_address, user_agent
		FROM audit_log
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		entry := &AuditLogEntry{}
		err := rows.Scan(
			&entry.ID, &entry.Action, &entry.SessionID, &entry.ElectionID,
			&entry.Details, &entry.Timestamp, &entry.IPAddress, &entry.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}

	return entries, nil
}

// Helper function to check for PostgreSQL duplicate key errors
func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
