package events

import "github.com/rs/zerolog"

// Log writes events to a structured logger. Failure events are logged at
// warn level, everything else at info.
type Log struct {
	log zerolog.Logger
}

func NewLog(l zerolog.Logger) *Log { return &Log{log: l.With().Str("component", "events").Logger()} }

func (p *Log) Publish(e Event) {
	ev := p.log.Info()
	switch e.Name {
	case "batch_failed", "warmup_failed", "spawn_exit", "spawn_timeout":
		ev = p.log.Warn()
	}
	ev.Str("source", e.Source).Fields(e.Fields).Msg(e.Name)
}
