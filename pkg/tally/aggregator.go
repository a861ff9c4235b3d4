package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
)

// CandidateTally is one candidate's aggregated result
type CandidateTally struct {
	CandidateID    string  `json:"id"`
	Name           string  `json:"name"`
	Position       int     `json:"position"`
	VoteCount      int     `json:"voteCount"`
	VotePercentage float64 `json:"votePercentage"`
}

// ElectionTally is the aggregated result for one election. Candidates are
// ordered deterministically: vote count descending, then position, then
// id, so the leading candidate is stable across repeated calls.
type ElectionTally struct {
	ElectionID string           `json:"electionId"`
	Candidates []CandidateTally `json:"candidates"`
	TotalVotes int              `json:"totalVotes"`
	ComputedAt time.Time        `json:"computedAt"`
}

// Aggregator computes live vote tallies. It serves on-demand reads
// straight from the store (read-after-write) and keeps a cached snapshot
// refreshed by the store change feed with a debounce, plus a periodic
// fallback poll for resilience against missed notifications. The dual
// trigger is deliberate, not redundant.
type Aggregator struct {
	repo     data.Repository
	listener *data.Listener
	debounce time.Duration
	pollRate time.Duration
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string]*ElectionTally
}

// NewAggregator creates a tally aggregator. The listener may be nil when
// only pull-based computation is needed (e.g. in tests).
func NewAggregator(repo data.Repository, listener *data.Listener, cfg *config.VotingConfig, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		repo:     repo,
		listener: listener,
		debounce: cfg.TallyDebounce,
		pollRate: cfg.TallyPollInterval,
		logger:   logger,
		cache:    make(map[string]*ElectionTally),
	}
}

// ComputeTallies recomputes an election's tallies from the ledger. Every
// vote written before the call is reflected in the result.
func (a *Aggregator) ComputeTallies(ctx context.Context, electionID string) (*ElectionTally, error) {
	candidates, err := a.repo.ListCandidates(ctx, electionID)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	counts, err := a.repo.CountVotesByCandidate(ctx, electionID)
	if err != nil {
		return nil, fmt.Errorf("counting votes: %w", err)
	}

	total := 0
	for _, count := range counts {
		total += count
	}

	tallies := make([]CandidateTally, 0, len(candidates))
	for _, c := range candidates {
		count := counts[c.ID]
		percentage := 0.0
		if total > 0 {
			percentage = roundPercentage(float64(count) / float64(total) * 100)
		}
		tallies = append(tallies, CandidateTally{
			CandidateID:    c.ID,
			Name:           c.Name,
			Position:       c.Position,
			VoteCount:      count,
			VotePercentage: percentage,
		})
	}

	sort.SliceStable(tallies, func(i, j int) bool {
		if tallies[i].VoteCount != tallies[j].VoteCount {
			return tallies[i].VoteCount > tallies[j].VoteCount
		}
		if tallies[i].Position != tallies[j].Position {
			return tallies[i].Position < tallies[j].Position
		}
		return tallies[i].CandidateID < tallies[j].CandidateID
	})

	result := &ElectionTally{
		ElectionID: electionID,
		Candidates: tallies,
		TotalVotes: total,
		ComputedAt: time.Now().UTC(),
	}

	a.mu.Lock()
	a.cache[electionID] = result
	a.mu.Unlock()

	return result, nil
}

// GetCached returns the last computed snapshot for an election, if any
func (a *Aggregator) GetCached(electionID string) (*ElectionTally, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tally, ok := a.cache[electionID]
	return tally, ok
}

// Watch consumes the vote change feed and keeps cached tallies fresh
// until the context is cancelled. Safe to run in its own goroutine.
func (a *Aggregator) Watch(ctx context.Context) {
	if a.listener == nil {
		a.logger.Warn("Tally watch started without a change feed; falling back to polling only")
	}

	var events <-chan data.ChangeEvent
	if a.listener != nil {
		events = a.listener.Subscribe(data.VoteEventsChannel)
	}

	poll := time.NewTicker(a.pollRate)
	defer poll.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	dirty := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-events:
			electionID := parseElectionID(event.Payload)
			if electionID == "" {
				continue
			}
			dirty[electionID] = true
			if debounce == nil {
				debounce = time.NewTimer(a.debounce)
				debounceC = debounce.C
			}

		case <-debounceC:
			a.refresh(ctx, dirty)
			dirty = make(map[string]bool)
			debounce = nil
			debounceC = nil

		case <-poll.C:
			// Fallback: refresh everything we are tracking
			a.mu.RLock()
			tracked := make(map[string]bool, len(a.cache))
			for id := range a.cache {
				tracked[id] = true
			}
			a.mu.RUnlock()
			a.refresh(ctx, tracked)
		}
	}
}

func (a *Aggregator) refresh(ctx context.Context, electionIDs map[string]bool) {
	for id := range electionIDs {
		if _, err := a.ComputeTallies(ctx, id); err != nil {
			a.logger.Warn("Tally refresh failed",
				zap.String("electionID", id),
				zap.Error(err))
		}
	}
}

func parseElectionID(payload string) string {
	var event struct {
		ElectionID string `json:"election_id"`
	}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return ""
	}
	return event.ElectionID
}

func roundPercentage(p float64) float64 {
	return math.Round(p*100) / 100
}
