package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
)

var (
	// ErrNotEnoughCandidates is returned when an election cannot start
	// because it has fewer than the required number of candidates.
	ErrNotEnoughCandidates = errors.New("election needs at least 2 candidates to start")
	// ErrInvalidTransition is returned when a forced transition is
	// requested from a state it cannot leave.
	ErrInvalidTransition = errors.New("election is not in a state that allows this transition")
)

// TransitionReport summarizes one scheduler sweep. Per-election failures
// are collected here; a failure never aborts the rest of the sweep.
type TransitionReport struct {
	Started         int      `json:"started"`
	Completed       int      `json:"completed"`
	SessionsExpired int      `json:"sessions_expired"`
	Errors          []string `json:"errors"`
}

// UpcomingElections is the read-only lookahead result
type UpcomingElections struct {
	Starting []*data.Election `json:"starting"`
	Ending   []*data.Election `json:"ending"`
}

// Lifecycle drives election state transitions. It is stateless apart from
// metrics: all durable state lives in the store, and every transition is
// a guarded conditional update, so overlapping invocations (cron sweep
// plus on-demand dashboard refresh) cannot double-transition an election.
type Lifecycle struct {
	repo           data.Repository
	cfg            *config.SchedConfig
	sessionTimeout time.Duration
	logger         *zap.Logger
	cron           *cron.Cron
	metrics        *LifecycleMetrics
}

// LifecycleMetrics tracks scheduler activity
type LifecycleMetrics struct {
	SweepsRun          int64
	ElectionsStarted   int64
	ElectionsCompleted int64
	SweepFailures      int64
	LastSweep          time.Time
	mu                 sync.RWMutex
}

// LifecycleStats is a point-in-time snapshot of the metrics
type LifecycleStats struct {
	SweepsRun          int64
	ElectionsStarted   int64
	ElectionsCompleted int64
	SweepFailures      int64
	LastSweep          time.Time
}

// NewLifecycle creates a lifecycle scheduler with its store injected
func NewLifecycle(repo data.Repository, cfg *config.SchedConfig, sessionTimeout time.Duration, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		repo:           repo,
		cfg:            cfg,
		sessionTimeout: sessionTimeout,
		logger:         logger,
		cron:           cron.New(cron.WithSeconds()),
		metrics:        &LifecycleMetrics{},
	}
}

// Start begins the periodic sweep
func (l *Lifecycle) Start() error {
	_, err := l.cron.AddFunc(l.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SweepTimeout)
		defer cancel()
		l.RunScheduledTransitions(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling lifecycle sweep: %w", err)
	}

	l.cron.Start()
	l.logger.Info("Lifecycle scheduler started",
		zap.String("schedule", l.cfg.SweepSchedule))
	return nil
}

// Stop halts the periodic sweep and waits for a running sweep to finish
func (l *Lifecycle) Stop() {
	ctx := l.cron.Stop()
	<-ctx.Done()
	l.logger.Info("Lifecycle scheduler stopped")
}

// RunScheduledTransitions scans eligible elections and performs due
// transitions. Each election is attempted independently; failures are
// collected into the report and never abort the sweep.
func (l *Lifecycle) RunScheduledTransitions(ctx context.Context) *TransitionReport {
	report := &TransitionReport{Errors: []string{}}
	now := time.Now().UTC()

	l.startDueElections(ctx, now, report)
	l.completeDueElections(ctx, now, report)
	l.expireStaleSessions(ctx, now, report)

	l.metrics.mu.Lock()
	l.metrics.SweepsRun++
	l.metrics.ElectionsStarted += int64(report.Started)
	l.metrics.ElectionsCompleted += int64(report.Completed)
	if len(report.Errors) > 0 {
		l.metrics.SweepFailures++
	}
	l.metrics.LastSweep = now
	l.metrics.mu.Unlock()

	l.logger.Info("Lifecycle sweep completed",
		zap.Int("started", report.Started),
		zap.Int("completed", report.Completed),
		zap.Int("sessionsExpired", report.SessionsExpired),
		zap.Int("errors", len(report.Errors)))

	return report
}

func (l *Lifecycle) startDueElections(ctx context.Context, now time.Time, report *TransitionReport) {
	autoStart := true
	due, err := l.repo.ListElections(ctx, data.ElectionFilter{
		Status:       data.ElectionStatusDraft,
		AutoStart:    &autoStart,
		StartsBefore: &now,
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("listing due draft elections: %v", err))
		return
	}

	for _, election := range due {
		if err := l.startElection(ctx, election, now, false); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("election %s (%s): %v", election.ID, election.Title, err))
			continue
		}
		report.Started++
	}
}

func (l *Lifecycle) completeDueElections(ctx context.Context, now time.Time, report *TransitionReport) {
	autoEnd := true
	due, err := l.repo.ListElections(ctx, data.ElectionFilter{
		Status:     data.ElectionStatusActive,
		AutoEnd:    &autoEnd,
		EndsBefore: &now,
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("listing due active elections: %v", err))
		return
	}

	for _, election := range due {
		if err := l.completeElection(ctx, election, now, false); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("election %s (%s): %v", election.ID, election.Title, err))
			continue
		}
		report.Completed++
	}
}

func (l *Lifecycle) expireStaleSessions(ctx context.Context, now time.Time, report *TransitionReport) {
	cutoff := now.Add(-l.sessionTimeout)
	expired, err := l.repo.ExpireSessionsIdleSince(ctx, cutoff)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("expiring stale sessions: %v", err))
		return
	}

	for _, session := range expired {
		entry := data.NewAuditLogEntry(data.AuditSessionEnded, map[string]interface{}{
			"reason":        "expired",
			"last_activity": session.LastActivity,
		}).WithSession(session.ID)
		if err := l.repo.AppendAudit(ctx, entry); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("auditing expired session %s: %v", session.ID, err))
		}
	}
	report.SessionsExpired = len(expired)
}

// startElection performs the guarded draft -> active transition. The
// candidate count is checked at transition time; losing the conditional
// update to a concurrent invocation is a silent no-op.
func (l *Lifecycle) startElection(ctx context.Context, election *data.Election, now time.Time, forced bool) error {
	count, err := l.repo.CountCandidates(ctx, election.ID)
	if err != nil {
		return fmt.Errorf("counting candidates: %w", err)
	}
	if count < data.MinCandidatesToStart {
		return ErrNotEnoughCandidates
	}

	changed, err := l.repo.TransitionElectionStatus(ctx, election.ID,
		data.ElectionStatusDraft, data.ElectionStatusActive)
	if err != nil {
		return fmt.Errorf("activating election: %w", err)
	}
	if !changed {
		// Another invocation already flipped it
		return nil
	}

	entry := data.NewAuditLogEntry(data.AuditElectionAutoStarted, map[string]interface{}{
		"election_id":     election.ID,
		"title":           election.Title,
		"scheduled_start": election.StartDate,
		"transitioned_at": now,
		"forced":          forced,
	}).WithElection(election.ID)
	if err := l.repo.AppendAudit(ctx, entry); err != nil {
		// The transition stands; only the audit write failed
		return fmt.Errorf("auditing election start: %w", err)
	}

	l.logger.Info("Election started",
		zap.String("electionID", election.ID),
		zap.String("title", election.Title),
		zap.Bool("forced", forced))
	return nil
}

// completeElection performs the guarded active -> completed transition
func (l *Lifecycle) completeElection(ctx context.Context, election *data.Election, now time.Time, forced bool) error {
	changed, err := l.repo.TransitionElectionStatus(ctx, election.ID,
		data.ElectionStatusActive, data.ElectionStatusCompleted)
	if err != nil {
		return fmt.Errorf("completing election: %w", err)
	}
	if !changed {
		return nil
	}

	entry := data.NewAuditLogEntry(data.AuditElectionAutoCompleted, map[string]interface{}{
		"election_id":     election.ID,
		"title":           election.Title,
		"scheduled_end":   election.EndDate,
		"transitioned_at": now,
		"forced":          forced,
	}).WithElection(election.ID)
	if err := l.repo.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("auditing election completion: %w", err)
	}

	l.logger.Info("Election completed",
		zap.String("electionID", election.ID),
		zap.String("title", election.Title),
		zap.Bool("forced", forced))
	return nil
}

// PreviewUpcoming returns elections due to start or end within the
// window. Read-only; no side effects.
func (l *Lifecycle) PreviewUpcoming(ctx context.Context, withinHours int) (*UpcomingElections, error) {
	if withinHours <= 0 {
		withinHours = l.cfg.PreviewHours
	}
	horizon := time.Now().UTC().Add(time.Duration(withinHours) * time.Hour)

	autoStart := true
	starting, err := l.repo.ListElections(ctx, data.ElectionFilter{
		Status:       data.ElectionStatusDraft,
		AutoStart:    &autoStart,
		StartsBefore: &horizon,
	})
	if err != nil {
		return nil, fmt.Errorf("listing upcoming starts: %w", err)
	}

	autoEnd := true
	ending, err := l.repo.ListElections(ctx, data.ElectionFilter{
		Status:     data.ElectionStatusActive,
		AutoEnd:    &autoEnd,
		EndsBefore: &horizon,
	})
	if err != nil {
		return nil, fmt.Errorf("listing upcoming ends: %w", err)
	}

	return &UpcomingElections{Starting: starting, Ending: ending}, nil
}

// ForceStart activates a draft election immediately, bypassing the time
// guard. The candidate-count guard still applies so a forced election can
// never go active with fewer than 2 candidates.
func (l *Lifecycle) ForceStart(ctx context.Context, electionID string) error {
	election, err := l.repo.GetElection(ctx, electionID)
	if err != nil {
		return fmt.Errorf("loading election: %w", err)
	}
	if election.Status != data.ElectionStatusDraft {
		return ErrInvalidTransition
	}

	return l.startElection(ctx, election, time.Now().UTC(), true)
}

// ForceStop completes an active election immediately
func (l *Lifecycle) ForceStop(ctx context.Context, electionID string) error {
	election, err := l.repo.GetElection(ctx, electionID)
	if err != nil {
		return fmt.Errorf("loading election: %w", err)
	}
	if election.Status != data.ElectionStatusActive {
		return ErrInvalidTransition
	}

	return l.completeElection(ctx, election, time.Now().UTC(), true)
}

// GetStats returns a snapshot of the scheduler metrics
func (l *Lifecycle) GetStats() LifecycleStats {
	l.metrics.mu.RLock()
	defer l.metrics.mu.RUnlock()

	return LifecycleStats{
		SweepsRun:          l.metrics.SweepsRun,
		ElectionsStarted:   l.metrics.ElectionsStarted,
		ElectionsCompleted: l.metrics.ElectionsCompleted,
		SweepFailures:      l.metrics.SweepFailures,
		LastSweep:          l.metrics.LastSweep,
	}
}
