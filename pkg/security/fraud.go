package security

import (
	"sort"
	"time"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
)

// FraudCheck is the advisory result of a fraud pattern evaluation. The
// caller decides whether to block the vote or only record the attempt.
type FraudCheck struct {
	Suspicious bool   `json:"is_suspicious"`
	Reason     string `json:"reason,omitempty"`
}

// FraudDetector evaluates vote attempts against a recent-history window.
// It is a pure evaluator: it never persists, retries, or queries the
// store itself; the window is supplied by the caller.
type FraudDetector struct {
	maxVotesPerIP    int
	maxVotesPerAgent int
	minVoteGap       time.Duration
	maxAttempts      int
	attemptWindow    time.Duration
}

// NewFraudDetector creates a detector with the configured thresholds
func NewFraudDetector(cfg *config.FraudConfig) *FraudDetector {
	return &FraudDetector{
		maxVotesPerIP:    cfg.MaxVotesPerIP,
		maxVotesPerAgent: cfg.MaxVotesPerAgent,
		minVoteGap:       cfg.MinVoteGap,
		maxAttempts:      cfg.MaxAttempts,
		attemptWindow:    cfg.AttemptWindow,
	}
}

// DetectFraudPattern evaluates a vote attempt against recent votes.
// Rules are evaluated in order; the first match wins.
func (d *FraudDetector) DetectFraudPattern(ipAddress, userAgent string, recentVotes []*data.Vote) FraudCheck {
	sameIP := make([]*data.Vote, 0)
	sameAgent := 0

	for _, v := range recentVotes {
		if v.IPAddress == ipAddress {
			sameIP = append(sameIP, v)
		}
		if v.UserAgent == userAgent {
			sameAgent++
		}
	}

	if len(sameIP) > d.maxVotesPerIP {
		return FraudCheck{Suspicious: true, Reason: "too many votes from same IP address"}
	}

	if sameAgent > d.maxVotesPerAgent {
		return FraudCheck{Suspicious: true, Reason: "too many votes with identical user agent"}
	}

	if len(sameIP) >= 2 {
		sort.Slice(sameIP, func(i, j int) bool {
			return sameIP[i].CastAt.After(sameIP[j].CastAt)
		})
		if sameIP[0].CastAt.Sub(sameIP[1].CastAt) < d.minVoteGap {
			return FraudCheck{Suspicious: true, Reason: "votes cast too rapidly from same location"}
		}
	}

	return FraudCheck{}
}

// CheckRateLimit reports whether another attempt is still allowed. An
// attempt is blocked only when the attempt ceiling has been reached while
// the window is still open; once the window has elapsed the counter no
// longer applies.
func (d *FraudDetector) CheckRateLimit(attempts int, windowElapsed time.Duration) bool {
	if attempts >= d.maxAttempts && windowElapsed <= d.attemptWindow {
		return false
	}
	return true
}
