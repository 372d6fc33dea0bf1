package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/tankclash/matchcore/internal/session"
)

// bot plays a session: it picks up coins and shoots random opponents.
type bot struct {
	s     *session.Session
	rng   *rand.Rand
	every time.Duration
}

func newBot(s *session.Session, seed int64, every time.Duration) *bot {
	return &bot{s: s, rng: rand.New(rand.NewSource(seed)), every: every}
}

func (b *bot) run(ctx context.Context) {
	ticker := time.NewTicker(b.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, done := b.s.Result(); done {
			return
		}
		b.act()
	}
}

func (b *bot) act() {
	self := b.s.LocalID()
	if t, ok := b.s.Tank(self); ok && !t.Alive() {
		return
	}
	if b.rng.Intn(3) == 0 {
		b.s.AddScore(self, 1)
		return
	}

	var targets []int
	for _, p := range b.s.Participants() {
		if p.ID != self {
			targets = append(targets, p.ID)
		}
	}
	if len(targets) == 0 {
		return
	}
	victim := targets[b.rng.Intn(len(targets))]
	b.s.ApplyDamage(victim, self, float64(20+b.rng.Intn(30)))
}
