package monitor

import (
	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/events"
)

// AlertSink delivers alerts raised from System events.
type AlertSink interface {
	Send(alert events.System) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Send(a events.System) error {
	kv := make([]any, 0, 2+2*len(a.Fields))
	kv = append(kv, "component", a.Component)
	for k, v := range a.Fields {
		kv = append(kv, k, v)
	}
	switch a.Level {
	case events.LevelError:
		s.Log.Errorw("alert: "+a.Message, kv...)
	case events.LevelWarn:
		s.Log.Warnw("alert: "+a.Message, kv...)
	default:
		s.Log.Infow("alert: "+a.Message, kv...)
	}
	return nil
}

// levelRank orders levels for threshold filtering.
func levelRank(l events.Level) int {
	switch l {
	case events.LevelError:
		return 2
	case events.LevelWarn:
		return 1
	}
	return 0
}
