package logging

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
)

const badKey = "!BADKEY"

// DispatcherLogger lets event routing log through zerolog. Arguments follow
// slog conventions: alternating keys and values, or slog.Attr values.
type DispatcherLogger struct {
	z zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{z: logger}
}

func (l *DispatcherLogger) Debug(msg string, args ...any) { l.log(l.z.Debug(), msg, args) }
func (l *DispatcherLogger) Info(msg string, args ...any)  { l.log(l.z.Info(), msg, args) }
func (l *DispatcherLogger) Error(msg string, args ...any) { l.log(l.z.Error(), msg, args) }

func (l *DispatcherLogger) log(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		// level disabled
		return
	}
	for len(args) > 0 {
		switch k := args[0].(type) {
		case slog.Attr:
			e = field(e, k.Key, k.Value.Resolve().Any())
			args = args[1:]
		case string:
			if len(args) == 1 {
				e = e.Str(badKey, k)
				args = nil
				continue
			}
			e = field(e, k, args[1])
			args = args[2:]
		default:
			e = field(e, badKey, k)
			args = args[1:]
		}
	}
	e.Msg(msg)
}

func field(e *zerolog.Event, key string, v any) *zerolog.Event {
	switch val := v.(type) {
	case error:
		return e.AnErr(key, val)
	case fmt.Stringer:
		return e.Stringer(key, val)
	default:
		return e.Interface(key, val)
	}
}
