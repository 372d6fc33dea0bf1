package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tankclash/matchcore/pkg/core"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Match{},
	&FinalScore{},
	&KillRecord{},
}

// Match is one played match. The roster is kept as JSON since participants
// are only meaningful within the match.
type Match struct {
	gorm.Model
	MatchID   string         `json:"matchId" gorm:"size:64;uniqueIndex:idx_match_match_id"`
	StartedAt time.Time      `json:"startedAt" gorm:"index:idx_match_started_at"`
	EndedAt   *time.Time     `json:"endedAt" gorm:"default:NULL"`
	Duration  float64        `json:"durationSeconds"`
	Roster    datatypes.JSON `json:"roster"`

	FinalScores []FinalScore `gorm:"foreignKey:MatchRef"`
	Kills       []KillRecord `gorm:"foreignKey:MatchRef"`
}

func (*Match) TableName() string {
	return "matches"
}

// FinalScore is the score a participant submitted at match end.
type FinalScore struct {
	ID            uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	MatchRef      uint      `json:"-" gorm:"index:idx_finalscore_match_ref"`
	MatchID       string    `json:"matchId" gorm:"size:64;index:idx_finalscore_match_id"`
	ParticipantID int       `json:"participantId"`
	Name          string    `json:"name" gorm:"size:64"`
	Score         int       `json:"score"`
	MatchBonus    int       `json:"matchBonus"`
	Winner        bool      `json:"winner"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

func (*FinalScore) TableName() string {
	return "final_scores"
}

// KillRecord is one attributed kill.
type KillRecord struct {
	ID       uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time `json:"time"`
	MatchRef uint      `json:"-" gorm:"index:idx_killrecord_match_ref"`
	MatchID  string    `json:"matchId" gorm:"size:64;index:idx_killrecord_match_id"`
	KillerID int       `json:"killerId" gorm:"index:idx_killrecord_killer_id"`
	VictimID int       `json:"victimId"`
}

func (*KillRecord) TableName() string {
	return "kill_records"
}

// MatchFromCore builds the row for a started match.
func MatchFromCore(m core.MatchState, participants []core.Participant) (Match, error) {
	roster, err := json.Marshal(participants)
	if err != nil {
		return Match{}, err
	}
	return Match{
		MatchID:   m.ID,
		StartedAt: m.StartedAt,
		Duration:  m.Duration.Seconds(),
		Roster:    datatypes.JSON(roster),
	}, nil
}

// Participants decodes the roster.
func (m *Match) Participants() ([]core.Participant, error) {
	var out []core.Participant
	if len(m.Roster) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(m.Roster, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func FinalScoreFromCore(s core.FinalScore) FinalScore {
	return FinalScore{
		MatchID:       s.MatchID,
		ParticipantID: s.ParticipantID,
		Name:          s.Name,
		Score:         s.Score,
		MatchBonus:    s.MatchBonus,
		Winner:        s.Winner,
		SubmittedAt:   s.SubmittedAt,
	}
}

func KillRecordFromCore(k core.KillRecord) KillRecord {
	return KillRecord{
		Time:     k.At,
		MatchID:  k.MatchID,
		KillerID: k.KillerID,
		VictimID: k.VictimID,
	}
}
