// Package core holds the domain types shared by the match synchronization packages.
package core

import "time"

// DefaultMatchDuration is the length of a match when nothing else is configured.
const DefaultMatchDuration = 180 * time.Second

// Participant is a member of a room, identified by its actor number.
type Participant struct {
	ID       int    `json:"id" msgpack:"id"`
	Name     string `json:"name" msgpack:"name"`
	IsMaster bool   `json:"isMaster" msgpack:"master"`
}

// ScoreEntry pairs a participant with its score.
type ScoreEntry struct {
	ParticipantID int `json:"participantId"`
	Score         int `json:"score"`
}

// MatchState is the timing state of a match. Only the master writes it.
type MatchState struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Ended     bool          `json:"ended"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
}

// Elapsed returns the time spent in the match at now.
func (m MatchState) Elapsed(now time.Time) time.Duration {
	if m.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(m.StartedAt)
}

// TimeLeft returns the remaining match time at now, never negative.
func (m MatchState) TimeLeft(now time.Time) time.Duration {
	left := m.Duration - m.Elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}

// EndReason explains why a match ended.
type EndReason string

const (
	EndTimeout      EndReason = "timeout"
	EndLastStanding EndReason = "last_standing"
	EndExplicit     EndReason = "explicit"
)

// FinalScore is what a participant submits to the score sink at match end.
type FinalScore struct {
	MatchID       string    `json:"matchId"`
	ParticipantID int       `json:"participantId"`
	Name          string    `json:"name"`
	Score         int       `json:"score"`
	MatchBonus    int       `json:"matchBonus"`
	Winner        bool      `json:"winner"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// KillRecord is one attributed kill.
type KillRecord struct {
	MatchID  string    `json:"matchId"`
	KillerID int       `json:"killerId"`
	VictimID int       `json:"victimId"`
	At       time.Time `json:"at"`
}

// MatchResult is the announced outcome of a match.
type MatchResult struct {
	MatchID     string `json:"matchId"`
	WinnerID    int    `json:"winnerId"`
	WinnerName  string `json:"winnerName"`
	WinnerScore int    `json:"winnerScore"`
}

// HasWinner reports whether a winner was resolved.
func (r MatchResult) HasWinner() bool {
	return r.WinnerID > 0
}
