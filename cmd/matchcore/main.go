package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tankclash/matchcore/internal/config"
	"github.com/tankclash/matchcore/internal/logging"
	"github.com/tankclash/matchcore/internal/matchctx"
	intOtel "github.com/tankclash/matchcore/internal/otel"
)

// set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const usage = `usage: matchcore <command> [args]

commands:
  relay                   run the room relay server
  demo [players] [secs]   play a local match between simulated participants
  play <ws-url> <token>   join a relay room as a simulated participant
  token <room> <name>     issue a relay token with the configured secret
  version                 print the version
`

// runtime is the ambient stack shared by all commands.
type runtime struct {
	logs     *logging.SlogManager
	otel     *intOtel.Provider
	otelFile *os.File
	match    *matchctx.Context
	level    string
}

func (rt *runtime) logger() *slog.Logger {
	return rt.logs.Logger()
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.logs.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
	if err := rt.otel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to shut down otel: %v\n", err)
	}
	_ = rt.logs.Close()
	if rt.otelFile != nil {
		_ = rt.otelFile.Close()
	}
}

func configDir() string {
	if dir := os.Getenv("MATCHCORE_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "."
}

// setup loads the configuration and installs logging and telemetry.
func setup(room string) (*runtime, error) {
	if err := config.Load(configDir()); err != nil {
		return nil, err
	}

	rt := &runtime{
		logs:  logging.NewSlogManager(),
		match: matchctx.NewContext(room),
		level: config.GetString("logLevel"),
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		logsDir := config.GetString("logsDir")
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create logs dir: %w", err)
		}
		path := logging.LogFilePath(logsDir, logging.AppName+"_otel", time.Now())
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open otel log file: %w", err)
		}
		rt.otelFile = f
	}

	var w io.Writer
	if rt.otelFile != nil {
		w = rt.otelFile
	}
	provider, err := intOtel.FromConfig(otelCfg, w)
	if err != nil {
		return nil, err
	}
	rt.otel = provider

	opts := logging.Options{
		Level:    rt.level,
		Provider: provider.LoggerProvider(),
		Context:  rt.match.Attrs,
	}
	if config.GetBool("graylog.enabled") {
		opts.GraylogAddress = config.GetString("graylog.address")
	}
	if err := rt.logs.SetupWith(opts); err != nil {
		rt.logger().Warn("graylog output disabled", "error", err)
	}
	return rt, nil
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "relay":
		err = runRelay()
	case "demo":
		err = runDemo(args[1:])
	case "play":
		err = runPlay(args[1:])
	case "token":
		err = runToken(args[1:])
	case "version":
		fmt.Printf("matchcore %s (built %s)\n", Version, BuildDate)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "matchcore %s: %v\n", args[0], err)
		os.Exit(1)
	}
}
