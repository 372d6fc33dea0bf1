package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options configures SetupWith.
type Options struct {
	// File receives text logs. When nil, logs go to stdout.
	File  io.Writer
	Level string
	// Provider enables the OTel bridge when set.
	Provider *sdklog.LoggerProvider
	// GraylogAddress enables GELF output over UDP when set.
	GraylogAddress string
	// Context adds dynamic attributes to every record.
	Context ContextProvider
}

// swapped by tests
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) {
	return osStdout.Write(p)
}

// SlogManager owns the process logger and the outputs behind it. It may be
// set up again, e.g. once the match context is known.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
	graylog  *gelf.Writer
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case. Anything else is info.
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup installs text output to file (stdout when nil) and the OTel bridge
// when provider is set.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	// cannot fail without a graylog address
	_ = m.SetupWith(Options{File: file, Level: level, Provider: provider})
}

// SetupWith replaces the outputs with the ones opts asks for. A Graylog
// writer that cannot be created is returned as an error after the other
// outputs are installed.
func (m *SlogManager) SetupWith(opts Options) error {
	_ = m.closeGraylog()
	m.provider = opts.Provider

	hopts := &slog.HandlerOptions{Level: parseLevel(opts.Level), ReplaceAttr: utcTime}
	var out io.Writer = stdoutWriter{}
	if opts.File != nil {
		out = opts.File
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, hopts)}

	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(AppName, otelslog.WithLoggerProvider(opts.Provider)))
	}

	var err error
	if opts.GraylogAddress != "" {
		if m.graylog, err = gelf.NewWriter(opts.GraylogAddress); err != nil {
			m.graylog = nil
			err = fmt.Errorf("creating graylog writer: %w", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(m.graylog, hopts))
		}
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}
	m.logger = slog.New(h)
	m.logger.Info("logging initialized", "level", hopts.Level)
	return err
}

// Logger returns the configured logger, or slog.Default before setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush exports pending OTel records.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

// Close releases the Graylog connection.
func (m *SlogManager) Close() error {
	return m.closeGraylog()
}

func (m *SlogManager) closeGraylog() error {
	if m.graylog == nil {
		return nil
	}
	err := m.graylog.Close()
	m.graylog = nil
	return err
}
