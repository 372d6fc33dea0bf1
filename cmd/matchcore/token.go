package main

import (
	"fmt"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/relay"
)

func runToken(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected <room> <name>, got %d args", len(args))
	}
	if err := config.Load(configDir()); err != nil {
		return err
	}
	cfg := config.GetRelayConfig()
	tok, err := relay.IssueToken([]byte(cfg.Secret), args[0], args[1], cfg.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
