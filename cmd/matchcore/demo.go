package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/logging"
	"github.com/tankclash/matchcore/internal/matchctx"
	"github.com/tankclash/matchcore/internal/session"
	"github.com/tankclash/matchcore/internal/transport/memory"
	"github.com/tankclash/matchcore/pkg/core"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDemoPlayers = 3
	demoFlushInterval  = 10 * time.Millisecond
	botActionInterval  = 400 * time.Millisecond
)

type outcome struct {
	result core.MatchResult
	own    core.FinalScore
}

func parseDemoArgs(args []string) (players int, duration time.Duration, err error) {
	players = defaultDemoPlayers
	if len(args) > 0 {
		if players, err = strconv.Atoi(args[0]); err != nil || players < 1 {
			return 0, 0, fmt.Errorf("invalid player count %q", args[0])
		}
	}
	if len(args) > 1 {
		secs, err := strconv.Atoi(args[1])
		if err != nil || secs < 1 {
			return 0, 0, fmt.Errorf("invalid duration %q", args[1])
		}
		duration = time.Duration(secs) * time.Second
	}
	return players, duration, nil
}

// runDemo plays one match between simulated participants sharing an
// in-process room and prints every participant's view of the result.
func runDemo(args []string) error {
	players, duration, err := parseDemoArgs(args)
	if err != nil {
		return err
	}
	rt, err := setup("demo")
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger()

	cfg := config.GetMatchConfig()
	if duration > 0 {
		cfg.Duration = duration
	}

	sink, err := openSink(config.GetStorageConfig(), logger, rt.level)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close sink", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventLog := logging.NewDispatcherLogger(logging.NewZerolog(os.Stderr, rt.level))
	room := memory.NewRoom()
	outcomes := make(chan outcome, players)
	sessions := make([]*session.Session, 0, players)
	for i := range players {
		peer := room.Join(fmt.Sprintf("tank-%d", i+1))
		var mctx *matchctx.Context
		if i == 0 {
			// the first participant enriches the process logs
			mctx = rt.match
		}
		s, err := session.New(peer, session.Dependencies{
			Match:   cfg,
			Sink:    sink,
			Context: mctx,
			Hooks: session.Hooks{
				OnResult: func(r core.MatchResult, own core.FinalScore) {
					outcomes <- outcome{result: r, own: own}
				},
			},
			Logger:      logger.With("participant", peer.LocalID()),
			EventLogger: eventLog,
		})
		if err != nil {
			return err
		}
		defer s.Close()
		sessions = append(sessions, s)
	}

	g, gCtx := errgroup.WithContext(ctx)
	playCtx, endPlay := context.WithCancel(gCtx)
	defer endPlay()

	g.Go(func() error {
		room.Run(playCtx, demoFlushInterval)
		return nil
	})
	for i, s := range sessions {
		s.Start()
		g.Go(func() error {
			if err := s.Run(playCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		b := newBot(s, time.Now().UnixNano()+int64(i), botActionInterval)
		g.Go(func() error {
			b.run(playCtx)
			return nil
		})
	}

	var collected []outcome
	g.Go(func() error {
		defer endPlay()
		for len(collected) < players {
			select {
			case <-playCtx.Done():
				return playCtx.Err()
			case o := <-outcomes:
				collected = append(collected, o)
			}
		}
		return nil
	})

	logger.Info("demo match started", "players", players, "duration", cfg.Duration)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("match interrupted: %w", err)
	}
	printOutcomes(collected)
	return nil
}

func printOutcomes(outcomes []outcome) {
	if len(outcomes) == 0 {
		return
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].own.ParticipantID < outcomes[j].own.ParticipantID
	})
	r := outcomes[0].result
	if r.HasWinner() {
		fmt.Printf("match %s won by %s (#%d) with %d\n", r.MatchID, r.WinnerName, r.WinnerID, r.WinnerScore)
	} else {
		fmt.Printf("match %s ended without a winner\n", r.MatchID)
	}
	for _, o := range outcomes {
		fmt.Printf("  #%d %-10s score=%d bonus=%d winner=%t\n",
			o.own.ParticipantID, o.own.Name, o.own.Score, o.own.MatchBonus, o.own.Winner)
	}
}
