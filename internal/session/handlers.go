package session

import (
	"fmt"

	"github.com/tankclash/matchcore/internal/dispatcher"
	"github.com/tankclash/matchcore/internal/winner"
	"github.com/tankclash/matchcore/pkg/core"
	"github.com/tankclash/matchcore/pkg/protocol"
)

// listener turns transport callbacks into session work.
type listener struct {
	s *Session
}

func (l *listener) OnEvent(code protocol.Code, payload []byte, senderID int) {
	l.s.enqueue(func() { l.s.handleEvent(code, payload, senderID) })
}

func (l *listener) OnParticipantJoined(p core.Participant) {
	l.s.enqueue(func() { l.s.onParticipantJoined(p) })
}

func (l *listener) OnParticipantLeft(p core.Participant) {
	l.s.enqueue(func() { l.s.onParticipantLeft(p) })
}

func (l *listener) OnMasterClientSwitched(master core.Participant) {
	l.s.enqueue(func() { l.s.onMasterSwitched(master) })
}

// handleEvent decodes once and routes by event code. Undecodable events are
// dropped.
func (s *Session) handleEvent(code protocol.Code, payload []byte, senderID int) {
	if !s.joined {
		s.logger.Debug("event before join dropped", "code", code, "sender", senderID)
		return
	}
	ev, err := protocol.Decode(code, payload)
	if err != nil {
		s.logger.Warn("dropping undecodable event", "code", code, "sender", senderID, "error", err)
		return
	}
	err = s.events.Dispatch(dispatcher.Event{
		Topic:     code.String(),
		Payload:   ev,
		SenderID:  senderID,
		Timestamp: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("event handler failed", "code", code, "sender", senderID, "error", err)
	}
}

// on adapts a typed handler to the dispatcher.
func on[T protocol.Event](fn func(senderID int, ev T) error) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) error {
		ev, ok := e.Payload.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T on %s", e.Payload, e.Topic)
		}
		return fn(e.SenderID, ev)
	}
}

func (s *Session) registerHandlers() {
	s.events.Register(protocol.CodeScoreDelta.String(), on(func(sender int, ev protocol.ScoreDelta) error {
		s.ledger.ApplyDelta(sender, ev)
		return nil
	}))
	s.events.Register(protocol.CodeScoreSnapshot.String(), on(func(sender int, ev protocol.ScoreSnapshot) error {
		return s.ledger.ApplySnapshot(sender, ev)
	}))
	s.events.Register(protocol.CodeScoreRequest.String(), on(func(sender int, ev protocol.ScoreRequest) error {
		s.ledger.HandleRequest(sender, ev)
		return nil
	}))
	s.events.Register(protocol.CodeTimerSync.String(), on(func(_ int, ev protocol.TimerSync) error {
		s.lifecycle.HandleTimerSync(s.clock.Now(), ev)
		return nil
	}))
	s.events.Register(protocol.CodeMatchStart.String(), on(func(_ int, ev protocol.MatchStart) error {
		s.lifecycle.HandleMatchStart(s.clock.Now(), ev)
		s.syncMatchID()
		return nil
	}))
	s.events.Register(protocol.CodeMatchEnd.String(), on(func(sender int, ev protocol.MatchEnd) error {
		s.winner.Receive(sender, ev)
		return nil
	}))
	s.events.Register(protocol.CodeWalletAssociation.String(), on(func(_ int, ev protocol.WalletAssociation) error {
		s.directory.SetWallet(ev.ParticipantID, ev.Address)
		return nil
	}))
	s.events.Register(protocol.CodeKillFeed.String(), on(func(_ int, ev protocol.KillFeed) error {
		if s.deps.Hooks.OnKillFeed != nil {
			s.deps.Hooks.OnKillFeed(ev.KillerID, ev.VictimID)
		}
		return nil
	}))
	s.events.Register(protocol.CodeTankDamage.String(), on(func(sender int, ev protocol.TankDamage) error {
		s.respawn.HandleDamage(sender, ev)
		return nil
	}))
	s.events.Register(protocol.CodeTankState.String(), on(func(_ int, ev protocol.TankState) error {
		s.respawn.ApplyState(ev)
		return nil
	}))
	s.events.Register(protocol.CodeTankRespawn.String(), on(func(_ int, ev protocol.TankRespawn) error {
		s.respawn.ApplyRespawn(ev)
		return nil
	}))

	if s.deps.Sink != nil {
		s.events.Register(topicSink, s.handleSinkJob, dispatcher.Buffered(sinkBufferSize), dispatcher.Blocking(), dispatcher.Logged())
	}
}

func (s *Session) onJoined() {
	if s.joined {
		return
	}
	s.joined = true
	now := s.clock.Now()

	participants := s.tr.CurrentParticipants()
	s.directory.Replace(participants)
	s.deps.Context.SetLocal(s.tr.LocalID(), s.tr.IsMasterClient())
	for _, p := range participants {
		s.ledger.Join(p.ID)
		s.respawn.Spawn(p.ID)
	}

	s.lifecycle.Start(now)
	s.syncMatchID()
	s.lifecycle.OnPopulationChanged(len(participants))
	s.logger.Info("joined match", "participants", len(participants), "master", s.tr.IsMasterClient())
}

func (s *Session) onParticipantJoined(p core.Participant) {
	if !s.joined {
		return
	}
	s.directory.Upsert(p)
	s.ledger.Join(p.ID)
	s.respawn.Spawn(p.ID)
	s.lifecycle.OnPopulationChanged(s.directory.Len())

	// bring the newcomer up to date
	s.ledger.BroadcastSnapshot()
	s.lifecycle.Announce(s.clock.Now())
	s.logger.Info("participant joined", "participant", p.ID, "name", p.Name)
}

func (s *Session) onParticipantLeft(p core.Participant) {
	if !s.joined {
		return
	}
	s.directory.Remove(p.ID)
	s.ledger.Leave(p.ID)
	s.respawn.Remove(p.ID)
	s.lifecycle.OnPopulationChanged(s.directory.Len())
	s.logger.Info("participant left", "participant", p.ID, "name", p.Name)
}

func (s *Session) onMasterSwitched(master core.Participant) {
	if !s.joined {
		return
	}
	now := s.clock.Now()
	s.directory.SetMaster(master.ID)
	local := s.tr.LocalID()
	s.deps.Context.SetLocal(local, master.ID == local)

	s.lifecycle.OnMasterSwitched(now)
	if master.ID != local {
		if n := s.respawn.Demote(); n > 0 {
			s.logger.Info("handed pending respawns to new master", "count", n, "master", master.ID)
		}
		return
	}
	s.syncMatchID()
	if n := s.respawn.AdoptPending(); n > 0 {
		s.logger.Info("adopted pending respawns", "count", n)
	}
	s.ledger.BroadcastSnapshot()
}

// syncMatchID picks up a new match id from the lifecycle and opens it in the sink.
func (s *Session) syncMatchID() {
	m := s.lifecycle.Match()
	if m.ID == "" || m.ID == s.matchID {
		return
	}
	s.matchID = m.ID
	s.deps.Context.SetMatch(m.ID)
	s.startSink(m, s.directory.List())
}

// onEnd runs on the master when the lifecycle ends the match.
func (s *Session) onEnd(reason core.EndReason) {
	s.winner.Announce(s.matchID, s.directory.IDs())
}

func (s *Session) onKill(killerID, victimID int) {
	s.recordKill(core.KillRecord{
		MatchID:  s.matchID,
		KillerID: killerID,
		VictimID: victimID,
		At:       s.clock.Now(),
	})
}

// onResult runs once per match on every participant.
func (s *Session) onResult(result core.MatchResult) {
	now := s.clock.Now()
	s.lifecycle.MarkEnded(now)

	if result.MatchID == "" {
		result.MatchID = s.matchID
	}
	local := s.tr.LocalID()
	own := core.FinalScore{
		MatchID:       result.MatchID,
		ParticipantID: local,
		Name:          s.directory.Name(local),
		Score:         s.ledger.Score(local),
		Winner:        result.WinnerID == local,
		SubmittedAt:   now,
	}
	if own.Winner {
		own.MatchBonus = winner.MatchBonus
		own.Score = max(own.Score, result.WinnerScore)
	}
	s.own = &own
	s.finishSink(own)

	if s.deps.Hooks.OnResult != nil {
		s.deps.Hooks.OnResult(result, own)
	}
}
