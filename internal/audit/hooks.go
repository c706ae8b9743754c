package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/breaker"
	"github.com/BikeshR/menorepo-sub007/internal/events"
)

// BreakerHook returns a breaker.Settings.OnStateChange callback that audits
// each transition and announces it on bus. bus and log may be nil.
func BreakerHook(l *Logger, bus *events.Bus, log *zap.SugaredLogger) func(name string, from, to breaker.State) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return func(name string, from, to breaker.State) {
		_, err := l.Record(context.Background(), Entry{
			Category: CategoryBreaker,
			Subject:  name,
			Outcome:  to.String(),
			Detail:   map[string]any{"from": from.String(), "to": to.String()},
		})
		if err != nil {
			log.Errorw("audit: breaker transition not recorded", "breaker", name, "from", from, "to", to, "error", err)
		}

		level := events.LevelInfo
		switch to {
		case breaker.StateOpen:
			level = events.LevelError
		case breaker.StateHalfOpen:
			level = events.LevelWarn
		}
		log.Infow("breaker: state change", "breaker", name, "from", from, "to", to)
		if bus == nil {
			return
		}
		_ = bus.Emit(events.System{
			Component: "breaker",
			Level:     level,
			Message:   fmt.Sprintf("breaker %s %s -> %s", name, from, to),
			Fields:    map[string]string{"breaker": name, "from": from.String(), "to": to.String()},
		})
	}
}
