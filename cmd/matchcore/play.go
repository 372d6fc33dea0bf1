package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/logging"
	"github.com/tankclash/matchcore/internal/session"
	"github.com/tankclash/matchcore/internal/transport/wsclient"
	"github.com/tankclash/matchcore/pkg/core"
	"golang.org/x/sync/errgroup"
)

const dialTimeout = 10 * time.Second

// runPlay joins a relay room and plays one match with a bot.
func runPlay(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected <ws-url> <token>, got %d args", len(args))
	}
	rt, err := setup("")
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	client, err := wsclient.Dial(dialCtx, args[0], args[1], logger)
	cancel()
	if err != nil {
		return err
	}

	sink, err := openSink(config.GetStorageConfig(), logger, rt.level)
	if err != nil {
		_ = client.Leave()
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close sink", "error", err)
		}
	}()

	done := make(chan outcome, 1)
	s, err := session.New(client, session.Dependencies{
		Match:   config.GetMatchConfig(),
		Sink:    sink,
		Context: rt.match,
		Hooks: session.Hooks{
			OnResult: func(r core.MatchResult, own core.FinalScore) {
				done <- outcome{result: r, own: own}
			},
			OnKillFeed: func(killer, victim int) {
				logger.Info("kill", "killer", killer, "victim", victim)
			},
		},
		Logger:      logger,
		EventLogger: logging.NewDispatcherLogger(logging.NewZerolog(os.Stderr, rt.level)),
	})
	if err != nil {
		_ = client.Leave()
		return err
	}
	defer s.Close()

	g, gCtx := errgroup.WithContext(ctx)
	playCtx, endPlay := context.WithCancel(gCtx)
	defer endPlay()

	s.Start()
	g.Go(func() error {
		if err := s.Run(playCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		newBot(s, time.Now().UnixNano(), botActionInterval).run(playCtx)
		return nil
	})

	var result *outcome
	g.Go(func() error {
		defer endPlay()
		select {
		case <-playCtx.Done():
			return nil
		case <-client.Done():
			return errors.New("relay connection lost")
		case o := <-done:
			result = &o
			return nil
		}
	})

	logger.Info("joined room", "room", client.Room(), "participant", client.LocalID())
	runErr := g.Wait()
	if err := s.Leave(); err != nil {
		logger.Debug("leave failed", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	if result != nil {
		printOutcomes([]outcome{*result})
	}
	return nil
}
