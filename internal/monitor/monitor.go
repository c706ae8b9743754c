package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/events"
)

// Monitor forwards System events at or above MinLevel to every sink.
type Monitor struct {
	Sinks    []AlertSink
	MinLevel events.Level
	Log      *zap.SugaredLogger
}

// Run consumes sub until it closes or ctx ends.
func (m *Monitor) Run(ctx context.Context, sub *events.Subscription) {
	log := m.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if len(m.Sinks) == 0 {
		log.Warn("monitor: no alert sinks configured; skipping")
		return
	}
	threshold := levelRank(m.MinLevel)
	sub.Range(ctx, func(ev events.Event) {
		sys, ok := ev.System()
		if !ok || levelRank(sys.Level) < threshold {
			return
		}
		for _, s := range m.Sinks {
			if err := s.Send(sys); err != nil {
				log.Warnw("monitor: alert delivery failed", "component", sys.Component, "error", err)
			}
		}
	})
}
