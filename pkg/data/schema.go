package data

// schemaDDL creates all tables, indexes and notification triggers. The
// unique key on (election_id, dedupe_key) is the store-level guarantee of
// at most one vote per (election, voter) for single-vote elections.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS elections (
	id                   TEXT PRIMARY KEY,
	title                TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	category             TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'draft',
	start_date           TIMESTAMPTZ NOT NULL,
	end_date             TIMESTAMPTZ NOT NULL,
	auto_start           BOOLEAN NOT NULL DEFAULT FALSE,
	auto_end             BOOLEAN NOT NULL DEFAULT FALSE,
	allow_multiple_votes BOOLEAN NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	CHECK (end_date > start_date)
);

CREATE INDEX IF NOT EXISTS idx_elections_status ON elections (status);
CREATE INDEX IF NOT EXISTS idx_elections_schedule ON elections (status, start_date, end_date);

CREATE TABLE IF NOT EXISTS candidates (
	id          TEXT PRIMARY KEY,
	election_id TEXT NOT NULL REFERENCES elections (id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	position    INTEGER NOT NULL DEFAULT 0,
	photo_url   TEXT NOT NULL DEFAULT '',
	manifesto   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_candidates_election ON candidates (election_id, position);

CREATE TABLE IF NOT EXISTS students (
	id         TEXT PRIMARY KEY,
	full_name  TEXT NOT NULL,
	voter_hash TEXT NOT NULL UNIQUE,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS voting_sessions (
	id              TEXT PRIMARY KEY,
	voter_hash      TEXT NOT NULL,
	session_start   TIMESTAMPTZ NOT NULL,
	session_end     TIMESTAMPTZ,
	last_activity   TIMESTAMPTZ NOT NULL,
	elections_voted TEXT[] NOT NULL DEFAULT '{}',
	ip_address      TEXT NOT NULL DEFAULT '',
	user_agent      TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_sessions_voter ON voting_sessions (voter_hash, status);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON voting_sessions (status, last_activity);

CREATE TABLE IF NOT EXISTS votes (
	id             TEXT PRIMARY KEY,
	election_id    TEXT NOT NULL REFERENCES elections (id),
	candidate_id   TEXT NOT NULL REFERENCES candidates (id),
	voter_hash     TEXT NOT NULL,
	dedupe_key     TEXT NOT NULL,
	integrity_hash TEXT NOT NULL,
	cast_at        TIMESTAMPTZ NOT NULL,
	ip_address     TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	UNIQUE (election_id, dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_votes_election ON votes (election_id, candidate_id);
CREATE INDEX IF NOT EXISTS idx_votes_cast_at ON votes (cast_at DESC);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	session_id  TEXT,
	election_id TEXT,
	details     JSONB NOT NULL DEFAULT '{}',
	timestamp   TIMESTAMPTZ NOT NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log (timestamp DESC);

CREATE OR REPLACE FUNCTION notify_vote_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('vote_events',
		json_build_object('election_id', NEW.election_id, 'candidate_id', NEW.candidate_id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS votes_notify ON votes;
CREATE TRIGGER votes_notify AFTER INSERT ON votes
	FOR EACH ROW EXECUTE FUNCTION notify_vote_event();

CREATE OR REPLACE FUNCTION notify_audit_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('audit_events',
		json_build_object('action', NEW.action, 'election_id', NEW.election_id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_notify ON audit_log;
CREATE TRIGGER audit_notify AFTER INSERT ON audit_log
	FOR EACH ROW EXECUTE FUNCTION notify_audit_event();
`
