package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/querycache"
)

var _ querycache.Logger = Logger{}

// Logger adapts a zerolog.Logger. Error values go through zerolog's
// AnErr so its error marshaler applies.
type Logger struct{ L zerolog.Logger }

// New adds component=querycache to every event.
func New(l zerolog.Logger) Logger {
	return Logger{L: l.With().Str("component", "querycache").Logger()}
}

func (z Logger) Debug(msg string, f querycache.Fields) { emit(z.L.Debug(), msg, f) }
func (z Logger) Info(msg string, f querycache.Fields)  { emit(z.L.Info(), msg, f) }
func (z Logger) Warn(msg string, f querycache.Fields)  { emit(z.L.Warn(), msg, f) }
func (z Logger) Error(msg string, f querycache.Fields) { emit(z.L.Error(), msg, f) }

func emit(ev *zerolog.Event, msg string, f querycache.Fields) {
	if ev == nil {
		return // level disabled
	}
	for k, v := range f {
		if err, ok := v.(error); ok {
			ev = ev.AnErr(k, err)
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
